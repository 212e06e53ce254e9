package shipfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWriterExactBoundaries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")

	sw, err := newSplitWriter(dest, 4)
	require.NoError(t, err)

	n, err := sw.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	multiPart, err := sw.Close()
	require.NoError(t, err)
	assert.True(t, multiPart)

	part0, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), part0)

	part1, err := os.ReadFile(dest + ".1")
	require.NoError(t, err)
	assert.Equal(t, []byte("4567"), part1)

	part2, err := os.ReadFile(dest + ".2")
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), part2)
}

func TestSplitWriterDisabledWritesSinglePart(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")

	sw, err := newSplitWriter(dest, 0)
	require.NoError(t, err)

	_, err = sw.Write([]byte("hello"))
	require.NoError(t, err)

	multiPart, err := sw.Close()
	require.NoError(t, err)
	assert.False(t, multiPart)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = os.Stat(dest + ".1")
	assert.True(t, os.IsNotExist(err))
}
