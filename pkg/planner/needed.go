package planner

import (
	"fmt"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// NeededPlan is the result of ComputeNeeded: the target configuration's full
// closure, in the archive's topological order, and which members of it the
// local store is still missing.
type NeededPlan struct {
	Closure []nixpath.StorePath
	Needed  map[nixpath.StorePath]bool
}

// ComputeNeeded implements §4.5's receive side. pathInfos is the archive's
// narinfo list in topological order; inFile reports, for each path, whether
// a NAR payload for it is present in the archive (the shipfile's path_list
// membership).
func ComputeNeeded(client StoreClient, target nixpath.StorePath, pathInfos []narinfo.PathInfo, inFile map[nixpath.StorePath]bool) (*NeededPlan, error) {
	byPath := make(map[nixpath.StorePath]narinfo.PathInfo, len(pathInfos))
	for _, info := range pathInfos {
		byPath[info.Path] = info
	}

	closureSet := map[nixpath.StorePath]bool{}
	visited := map[nixpath.StorePath]bool{}

	var walk func(p nixpath.StorePath) error

	walk = func(p nixpath.StorePath) error {
		if visited[p] {
			return nil
		}

		visited[p] = true

		info, ok := byPath[p]
		if !ok {
			return fmt.Errorf("planner: %s is referenced but has no narinfo in the shipment", p)
		}

		closureSet[p] = true

		for _, ref := range info.SortedReferences() {
			if err := walk(ref); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(target); err != nil {
		return nil, err
	}

	// Filter the archive's topological order down to the closure, rather
	// than re-deriving an order: the archive is already topologically
	// sorted, and filtering preserves that property.
	closureOrdered := make([]nixpath.StorePath, 0, len(closureSet))

	for _, info := range pathInfos {
		if closureSet[info.Path] {
			closureOrdered = append(closureOrdered, info.Path)
		}
	}

	valid, err := client.QueryValidPaths(closureOrdered, true, false)
	if err != nil {
		return nil, fmt.Errorf("planner: querying valid paths: %w", err)
	}

	validSet := toSet(valid)

	needed := map[nixpath.StorePath]bool{}

	var missing []nixpath.StorePath

	for _, p := range closureOrdered {
		if validSet[p] {
			continue
		}

		needed[p] = true

		if !inFile[p] {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		return nil, &PlanError{Missing: missing}
	}

	return &NeededPlan{Closure: closureOrdered, Needed: needed}, nil
}
