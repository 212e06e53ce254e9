package planner

import (
	"fmt"
	"strings"

	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// PlanError collects every missing path found while computing the needed
// set, rendering all of them at once rather than stopping at the first
// (§7's "collected, not first-stop" policy for planning errors).
type PlanError struct {
	Missing []nixpath.StorePath
}

func (e *PlanError) Error() string {
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = p.String()
	}

	return fmt.Sprintf("planner: missing %d path(s) not present in shipment: %s",
		len(names), strings.Join(names, ", "))
}
