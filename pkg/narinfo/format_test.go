package narinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

const (
	hashSys = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashDep = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func sampleInfo() narinfo.PathInfo {
	return narinfo.PathInfo{
		Path:       nixpath.StorePath("/nix/store/" + hashSys + "-sys"),
		References: []nixpath.StorePath{nixpath.StorePath("/nix/store/" + hashDep + "-dep")},
		NarSize:    16,
		NarHash:    "sha256:" + hashDep,
		Sigs:       []string{"cache.nixos.org-1:zzzz", "cache.nixos.org-1:aaaa"},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	info := sampleInfo()

	data, err := narinfo.Marshal(info, true)
	require.NoError(t, err)

	got, inFile, err := narinfo.Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, inFile)
	assert.Equal(t, info.Path, got.Path)
	assert.Equal(t, info.NarSize, got.NarSize)
	assert.Equal(t, info.NarHash, got.NarHash)
	assert.Equal(t, info.References, got.References)
	assert.Equal(t, info.SortedSigs(), got.Sigs)
}

func TestMarshalNotInFileHasEmptyURL(t *testing.T) {
	data, err := narinfo.Marshal(sampleInfo(), false)
	require.NoError(t, err)

	_, inFile, err := narinfo.Unmarshal(data)
	require.NoError(t, err)
	assert.False(t, inFile)
}

func TestUnmarshalRejectsCompressionNotNone(t *testing.T) {
	data, err := narinfo.Marshal(sampleInfo(), true)
	require.NoError(t, err)

	bad := []byte(replaceLine(string(data), "Compression: none", "Compression: xz"))

	_, _, err = narinfo.Unmarshal(bad)
	require.Error(t, err)
}

func TestUnmarshalRejectsFileSizeMismatch(t *testing.T) {
	data, err := narinfo.Marshal(sampleInfo(), true)
	require.NoError(t, err)

	bad := []byte(replaceLine(string(data), "FileSize: 16", "FileSize: 17"))

	_, _, err = narinfo.Unmarshal(bad)
	require.Error(t, err)
}

func TestUnmarshalRejectsDuplicateKey(t *testing.T) {
	data, err := narinfo.Marshal(sampleInfo(), true)
	require.NoError(t, err)

	doubled := string(data) + "NarSize: 16\n"

	_, _, err = narinfo.Unmarshal([]byte(doubled))
	require.Error(t, err)
}

func TestNarHashBase32(t *testing.T) {
	digest, err := narinfo.NarHashBase32("sha256:" + hashDep)
	require.NoError(t, err)
	assert.Equal(t, hashDep, digest)

	_, err = narinfo.NarHashBase32("not-a-narhash")
	require.Error(t, err)
}

func replaceLine(s, from, to string) string {
	out := ""

	for _, line := range splitLines(s) {
		if line == from {
			out += to + "\n"
		} else {
			out += line + "\n"
		}
	}

	return out
}

func splitLines(s string) []string {
	var lines []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}

	return lines
}
