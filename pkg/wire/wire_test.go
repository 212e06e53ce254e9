package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/wire"
)

func TestUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, wire.WriteUint64(&buf, 0x0123456789abcdef))

	got, err := wire.ReadUint64(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789abcdef), got)
}

func TestBoolRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, wire.WriteBool(&buf, true))
	require.NoError(t, wire.WriteBool(&buf, false))

	got, err := wire.ReadBool(&buf)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = wire.ReadBool(&buf)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestStringRoundTripPadding(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abcdefgh", "abcdefghi"} {
		var buf bytes.Buffer

		require.NoError(t, wire.WriteString(&buf, s))
		assert.Zero(t, buf.Len()%8, "frame for %q must be 8-byte aligned", s)

		got, err := wire.ReadString(&buf, wire.MaxStringSize)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Zero(t, buf.Len(), "no trailing bytes left for %q", s)
	}
}

func TestStringRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, wire.WriteUint64(&buf, 1<<32))

	_, err := wire.ReadString(&buf, 1024)
	require.Error(t, err)
}

func TestStringsRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := []string{"/nix/store/a-foo", "/nix/store/b-bar", ""}
	require.NoError(t, wire.WriteStrings(&buf, in))

	got, err := wire.ReadStrings(&buf, wire.MaxStringSize)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestStringsEmpty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, wire.WriteStrings(&buf, nil))

	got, err := wire.ReadStrings(&buf, wire.MaxStringSize)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadStringTruncated(t *testing.T) {
	r := strings.NewReader("")

	_, err := wire.ReadString(r, wire.MaxStringSize)
	require.Error(t, err)
}
