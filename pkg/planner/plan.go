package planner

import (
	"fmt"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// Shipment is the result of Plan: every object that must be described in the
// shipfile, in topological order, and which of them must carry a NAR
// payload.
type Shipment struct {
	PathInfos []narinfo.PathInfo
	InFile    map[nixpath.StorePath]bool
}

// Plan implements §4.5's send side. configs maps configuration name to its
// built top-level StorePath. baseline maps a subset of those same names to
// the top-level StorePath the recipient is assumed to already hold; a name
// absent from baseline is shipped in full (its baseline closure is empty).
func Plan(client StoreClient, configs map[string]nixpath.StorePath, baseline map[string]nixpath.StorePath) (*Shipment, error) {
	shipped := map[nixpath.StorePath]bool{}
	union := map[nixpath.StorePath]bool{}

	for name, top := range configs {
		newClosure, err := client.QueryClosure([]nixpath.StorePath{top}, false)
		if err != nil {
			return nil, fmt.Errorf("planner: querying closure of %q: %w", name, err)
		}

		baselineSet := map[nixpath.StorePath]bool{}

		if baseTop, ok := baseline[name]; ok {
			baseClosure, err := client.QueryClosure([]nixpath.StorePath{baseTop}, false)
			if err != nil {
				return nil, fmt.Errorf("planner: querying baseline closure of %q: %w", name, err)
			}

			baselineSet = toSet(baseClosure)
		}

		for _, p := range newClosure {
			union[p] = true

			if !baselineSet[p] {
				shipped[p] = true
			}
		}
	}

	unionList := make([]nixpath.StorePath, 0, len(union))
	for p := range union {
		unionList = append(unionList, p)
	}

	unionList = nixpath.CanonicalSort(unionList)

	infos, err := client.QueryPathInfos(unionList)
	if err != nil {
		return nil, fmt.Errorf("planner: querying path infos: %w", err)
	}

	sorted, err := narinfo.TopoSort(infos)
	if err != nil {
		return nil, fmt.Errorf("planner: sorting path infos: %w", err)
	}

	inFile := make(map[nixpath.StorePath]bool, len(sorted))
	for _, info := range sorted {
		inFile[info.Path] = shipped[info.Path]
	}

	return &Shipment{PathInfos: sorted, InFile: inFile}, nil
}
