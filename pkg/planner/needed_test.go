package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/planner"
)

// S3 — receiver already complete: needed set is empty.
func TestComputeNeededReceiverAlreadyComplete(t *testing.T) {
	_, x, y, _ := chainStore()

	infos := []narinfo.PathInfo{
		{Path: y, NarSize: 1, NarHash: "sha256:" + hashY},
		{Path: x, References: []nixpath.StorePath{y}, NarSize: 1, NarHash: "sha256:" + hashX},
	}

	store := &fakeStore{validPaths: map[nixpath.StorePath]bool{x: true, y: true}}

	plan, err := planner.ComputeNeeded(store, x, infos, map[nixpath.StorePath]bool{x: true, y: true})
	require.NoError(t, err)

	assert.Empty(t, plan.Needed)
	assert.Equal(t, []nixpath.StorePath{y, x}, plan.Closure)
}

// S4 — missing path refused: neither X nor Y is locally valid, and X is not
// in_file, so installation is refused with a collected error.
func TestComputeNeededRefusesMissingPath(t *testing.T) {
	x, y := path(hashX, "x"), path(hashY, "y")

	infos := []narinfo.PathInfo{
		{Path: y, NarSize: 1, NarHash: "sha256:" + hashY},
		{Path: x, References: []nixpath.StorePath{y}, NarSize: 1, NarHash: "sha256:" + hashX},
	}

	store := &fakeStore{validPaths: map[nixpath.StorePath]bool{}}

	_, err := planner.ComputeNeeded(store, x, infos, map[nixpath.StorePath]bool{x: false, y: true})
	require.Error(t, err)

	var planErr *planner.PlanError

	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, []nixpath.StorePath{x}, planErr.Missing)
}

// S6-adjacent: receiver needs both X and Y, neither locally valid, both
// in_file -> both needed, no missing-path error.
func TestComputeNeededFullImport(t *testing.T) {
	x, y := path(hashX, "x"), path(hashY, "y")

	infos := []narinfo.PathInfo{
		{Path: y, NarSize: 1, NarHash: "sha256:" + hashY},
		{Path: x, References: []nixpath.StorePath{y}, NarSize: 1, NarHash: "sha256:" + hashX},
	}

	store := &fakeStore{validPaths: map[nixpath.StorePath]bool{}}

	plan, err := planner.ComputeNeeded(store, x, infos, map[nixpath.StorePath]bool{x: true, y: true})
	require.NoError(t, err)

	assert.True(t, plan.Needed[x])
	assert.True(t, plan.Needed[y])
	assert.Equal(t, []nixpath.StorePath{y, x}, plan.Closure)
}

func TestComputeNeededErrorsOnMissingNarinfo(t *testing.T) {
	x, y := path(hashX, "x"), path(hashY, "y")

	infos := []narinfo.PathInfo{
		{Path: x, References: []nixpath.StorePath{y}, NarSize: 1, NarHash: "sha256:" + hashX},
		// y's narinfo is missing from the shipment entirely.
	}

	store := &fakeStore{validPaths: map[nixpath.StorePath]bool{}}

	_, err := planner.ComputeNeeded(store, x, infos, map[nixpath.StorePath]bool{x: true})
	require.Error(t, err)
}
