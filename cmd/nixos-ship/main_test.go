package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/shipfile"
)

func TestParseNamedPaths(t *testing.T) {
	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	got, err := parseNamedPaths([]string{"host-a=/nix/store/" + hash + "-sys"})
	require.NoError(t, err)

	assert.Equal(t, nixpath.StorePath("/nix/store/"+hash+"-sys"), got["host-a"])
}

func TestParseNamedPathsRejectsMalformedPair(t *testing.T) {
	_, err := parseNamedPaths([]string{"no-equals-sign"})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, shipfile.CompressionFast, parseCompression("fast"))
	assert.Equal(t, shipfile.CompressionUltra, parseCompression("ultra"))
	assert.Equal(t, shipfile.CompressionNormal, parseCompression("anything-else"))
}
