package narinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

func path(hash, name string) nixpath.StorePath {
	return nixpath.StorePath("/nix/store/" + hash + "-" + name)
}

func TestValidateRejectsZeroNarSize(t *testing.T) {
	info := narinfo.PathInfo{Path: path(hashSys, "sys"), NarHash: "sha256:" + hashDep}
	require.Error(t, info.Validate())
}

func TestValidateRejectsEmptyNarHash(t *testing.T) {
	info := narinfo.PathInfo{Path: path(hashSys, "sys"), NarSize: 1}
	require.Error(t, info.Validate())
}

func TestValidateRejectsUnknownAlgo(t *testing.T) {
	info := narinfo.PathInfo{Path: path(hashSys, "sys"), NarSize: 1, NarHash: "crc32:" + hashDep}
	require.Error(t, info.Validate())
}

func TestTopoSortLeavesFirst(t *testing.T) {
	dep := narinfo.PathInfo{Path: path(hashDep, "dep"), NarSize: 1, NarHash: "sha256:" + hashDep}
	sys := narinfo.PathInfo{
		Path:       path(hashSys, "sys"),
		References: []nixpath.StorePath{dep.Path},
		NarSize:    1,
		NarHash:    "sha256:" + hashSys,
	}

	out, err := narinfo.TopoSort([]narinfo.PathInfo{sys, dep})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, dep.Path, out[0].Path)
	assert.Equal(t, sys.Path, out[1].Path)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	a := narinfo.PathInfo{Path: path(hashSys, "a"), NarSize: 1, NarHash: "sha256:" + hashSys}
	b := narinfo.PathInfo{Path: path(hashDep, "b"), NarSize: 1, NarHash: "sha256:" + hashDep}
	a.References = []nixpath.StorePath{b.Path}
	b.References = []nixpath.StorePath{a.Path}

	_, err := narinfo.TopoSort([]narinfo.PathInfo{a, b})
	require.Error(t, err)
}

func TestTopoSortSkipsDanglingReferences(t *testing.T) {
	sys := narinfo.PathInfo{
		Path:       path(hashSys, "sys"),
		References: []nixpath.StorePath{path(hashDep, "missing")},
		NarSize:    1,
		NarHash:    "sha256:" + hashSys,
	}

	out, err := narinfo.TopoSort([]narinfo.PathInfo{sys})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, sys.Path, out[0].Path)
}

func TestTopoSortToleratesSelfReference(t *testing.T) {
	sys := narinfo.PathInfo{
		Path:       path(hashSys, "sys"),
		References: []nixpath.StorePath{path(hashSys, "sys")},
		NarSize:    1,
		NarHash:    "sha256:" + hashSys,
	}

	out, err := narinfo.TopoSort([]narinfo.PathInfo{sys})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, sys.Path, out[0].Path)
}

func TestTopoSortCanonicalTieBreak(t *testing.T) {
	zzz := narinfo.PathInfo{Path: path(hashSys, "zzz"), NarSize: 1, NarHash: "sha256:" + hashSys}
	aaa := narinfo.PathInfo{Path: path(hashDep, "aaa"), NarSize: 1, NarHash: "sha256:" + hashDep}

	out, err := narinfo.TopoSort([]narinfo.PathInfo{zzz, aaa})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, aaa.Path, out[0].Path)
	assert.Equal(t, zzz.Path, out[1].Path)
}
