package workdir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/workdir"
)

type fakePruner struct {
	called bool
	err    error
}

func (f *fakePruner) PruneWorktrees() error {
	f.called = true

	return f.err
}

func TestNewCreatesDirectory(t *testing.T) {
	d, err := workdir.New(t.TempDir(), false, nil)
	require.NoError(t, err)

	info, err := os.Stat(d.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, d.Close())
}

func TestCloseRemovesDirectory(t *testing.T) {
	d, err := workdir.New(t.TempDir(), false, nil)
	require.NoError(t, err)

	path := d.Path()

	require.NoError(t, d.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	d, err := workdir.New(t.TempDir(), false, nil)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestCloseWithAutopruneInvokesPruner(t *testing.T) {
	pruner := &fakePruner{}

	d, err := workdir.New(t.TempDir(), true, pruner)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.True(t, pruner.called)
}

func TestCloseWithoutAutopruneSkipsPruner(t *testing.T) {
	pruner := &fakePruner{}

	d, err := workdir.New(t.TempDir(), false, pruner)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.False(t, pruner.called)
}

func TestJoin(t *testing.T) {
	d, err := workdir.New(t.TempDir(), false, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, filepath.Join(d.Path(), "sub", "file"), d.Join("sub", "file"))
}
