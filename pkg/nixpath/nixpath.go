// Package nixpath models an absolute Nix store path and the canonical
// ordering the shipfile format uses for them. A store path is never
// validated against an on-disk store here; that is the Store Client's job.
package nixpath

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tpwrules/nixos-ship/pkg/nixbase32"
)

// StoreDir is the only store root this implementation supports, per the
// spec's non-goal of alternate store roots.
const StoreDir = "/nix/store"

// HashPartLen is the fixed length, in characters, of the nixbase32-encoded
// hash part of a store path.
const HashPartLen = 32

// StorePath is an absolute store path of the form "/nix/store/<hash>-<name>".
type StorePath string

// Parse validates s as a well-formed store path under StoreDir and returns
// it as a StorePath. It does not check that the path exists.
func Parse(s string) (StorePath, error) {
	if !strings.HasPrefix(s, StoreDir+"/") {
		return "", fmt.Errorf("nixpath: %q is not under %s", s, StoreDir)
	}

	rest := s[len(StoreDir)+1:]

	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return "", fmt.Errorf("nixpath: %q is missing a '-' separating hash and name", s)
	}

	hashPart := rest[:dash]
	if len(hashPart) != HashPartLen {
		return "", fmt.Errorf("nixpath: %q has a %d-character hash part, want %d", s, len(hashPart), HashPartLen)
	}

	if !nixbase32.IsValid(hashPart) {
		return "", fmt.Errorf("nixpath: %q has a hash part with invalid characters", s)
	}

	if rest[dash+1:] == "" {
		return "", fmt.Errorf("nixpath: %q has an empty name", s)
	}

	return StorePath(s), nil
}

// HashPart returns the 32-character hash component of the store path.
func (p StorePath) HashPart() string {
	s := string(p)
	rest := s[len(StoreDir)+1:]

	return rest[:HashPartLen]
}

// Name returns the name component of the store path (the part after the
// hash and its separating dash).
func (p StorePath) Name() string {
	s := string(p)
	rest := s[len(StoreDir)+1:]

	return rest[HashPartLen+1:]
}

// Base returns "<hashPart>-<name>", the form used in narinfo References and
// Deriver lines.
func (p StorePath) Base() string {
	s := string(p)

	return s[len(StoreDir)+1:]
}

func (p StorePath) String() string {
	return string(p)
}

// Less implements the canonical ordering: by (name, hashPart), not by full
// path. This ordering is observable on the wire and in the archive, so it
// must stay stable and deterministic.
func Less(a, b StorePath) bool {
	an, bn := a.Name(), b.Name()
	if an != bn {
		return an < bn
	}

	return a.HashPart() < b.HashPart()
}

// CanonicalSort returns a new, stably sorted copy of paths in canonical
// order. The input slice is not modified.
func CanonicalSort(paths []StorePath) []StorePath {
	out := make([]StorePath, len(paths))
	copy(out, paths)

	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})

	return out
}
