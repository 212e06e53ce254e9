// Package planner implements the delta-aware selection of objects to ship
// (§4.5 send side) and the receiver's computation of the minimal set of
// objects it still needs (§4.5 receive side).
package planner

import (
	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// StoreClient is the subset of *storeclient.Client the planner calls
// against. Defining it here lets tests drive the planner with a fake store
// instead of a real store subprocess.
type StoreClient interface {
	QueryClosure(paths []nixpath.StorePath, includeOutputs bool) ([]nixpath.StorePath, error)
	QueryPathInfos(paths []nixpath.StorePath) ([]narinfo.PathInfo, error)
	QueryValidPaths(paths []nixpath.StorePath, lock, substitute bool) ([]nixpath.StorePath, error)
}

func toSet(paths []nixpath.StorePath) map[nixpath.StorePath]bool {
	set := make(map[nixpath.StorePath]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}

	return set
}
