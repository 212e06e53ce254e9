// Package narinfo implements the Path-Info Model (§4.2) and the narinfo
// on-disk record format (§4.3/§4.4): PathInfo's invariants, canonical
// topological sort, and narinfo Key: value marshal/unmarshal.
package narinfo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/multiformats/go-multihash"

	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// PathInfo is the canonical, immutable metadata record for one store object.
type PathInfo struct {
	Path       nixpath.StorePath
	Deriver    nixpath.StorePath // empty if unknown
	References []nixpath.StorePath
	NarSize    uint64
	NarHash    string // "algo:base32", e.g. "sha256:..."
	CAInfo     string // empty if not content-addressed
	Sigs       []string

	// System is a deprecated passthrough field carried only because the
	// original shipped it; nothing in this implementation reads it.
	System string
}

// nixHashAlgoToMultihashName maps the handful of hash algorithm names Nix
// uses in a narHash descriptor to the canonical names the multihash registry
// uses for the same algorithm.
var nixHashAlgoToMultihashName = map[string]string{
	"md5":    "md5",
	"sha1":   "sha1",
	"sha256": "sha2-256",
	"sha512": "sha2-512",
}

// ValidateNarHash checks that narHash has the form "algo:digest" and that
// algo names a hash function the multihash registry recognizes. It does not
// verify the digest itself against any content — per spec §9 Open Question
// 1, narHash/CA values are transported verbatim, never recomputed.
func ValidateNarHash(narHash string) error {
	algo, _, ok := strings.Cut(narHash, ":")
	if !ok || algo == "" {
		return fmt.Errorf("narinfo: narHash %q is not of the form \"algo:digest\"", narHash)
	}

	mhName, known := nixHashAlgoToMultihashName[algo]
	if !known {
		return fmt.Errorf("narinfo: narHash %q names an unsupported hash algorithm %q", narHash, algo)
	}

	if _, ok := multihash.Names[mhName]; !ok {
		return fmt.Errorf("narinfo: hash algorithm %q is not in the multihash registry", mhName)
	}

	return nil
}

// Validate enforces the PathInfo invariants from §3: narSize > 0 and narHash
// non-empty. References are not checked here: planner.ComputeNeeded fails
// when a reference in the target's closure has no narinfo in the shipment.
// CAInfo is not validated anywhere; it is carried verbatim.
func (p PathInfo) Validate() error {
	if p.NarSize == 0 {
		return fmt.Errorf("narinfo: %s: narSize must be > 0", p.Path)
	}

	if p.NarHash == "" {
		return fmt.Errorf("narinfo: %s: narHash must not be empty", p.Path)
	}

	return ValidateNarHash(p.NarHash)
}

// SortedReferences returns a copy of p.References in canonical order.
func (p PathInfo) SortedReferences() []nixpath.StorePath {
	return nixpath.CanonicalSort(p.References)
}

// SortedSigs returns a copy of p.Sigs, sorted lexicographically.
func (p PathInfo) SortedSigs() []string {
	out := make([]string, len(p.Sigs))
	copy(out, p.Sigs)
	sort.Strings(out)

	return out
}

// TopoSort returns infos permuted so that every PathInfo appears before any
// PathInfo that references it (leaves first), breaking ties by visiting
// infos in canonical path order. References that do not resolve to a
// PathInfo present in infos are simply not followed — callers that need a
// closed set enforce that separately.
//
// The underlying store graph is a DAG by construction (content addressing
// forbids cycles); an apparent cycle is reported as an error rather than
// silently handled.
func TopoSort(infos []PathInfo) ([]PathInfo, error) {
	byPath := make(map[nixpath.StorePath]PathInfo, len(infos))
	for _, info := range infos {
		byPath[info.Path] = info
	}

	order := make([]nixpath.StorePath, 0, len(infos))
	for _, info := range infos {
		order = append(order, info.Path)
	}

	order = nixpath.CanonicalSort(order)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[nixpath.StorePath]int, len(infos))
	out := make([]PathInfo, 0, len(infos))

	var visit func(p nixpath.StorePath) error
	visit = func(p nixpath.StorePath) error {
		switch state[p] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("narinfo: cyclic reference detected at %s", p)
		}

		state[p] = visiting

		info := byPath[p]
		for _, ref := range info.SortedReferences() {
			if ref == p {
				// Path-infos routinely reference themselves (e.g. a binary
				// that embeds its own store path); that's not a cycle.
				continue
			}

			if _, present := byPath[ref]; !present {
				continue
			}

			if err := visit(ref); err != nil {
				return err
			}
		}

		state[p] = done
		out = append(out, info)

		return nil
	}

	for _, p := range order {
		if err := visit(p); err != nil {
			return nil, err
		}
	}

	return out, nil
}
