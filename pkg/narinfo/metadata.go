package narinfo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// CurrentVersion is the only shipfile version this implementation writes or
// accepts.
const CurrentVersion = 1

// VersionInfo is the mandatory first entry of a shipfile, gating reader
// compatibility via its feature lists. It is serialized as
// shipfile/metadata/version_info.json.
type VersionInfo struct {
	Version           int      `json:"version"`
	MandatoryFeatures []string `json:"mandatory_features"`
	OptionalFeatures  []string `json:"optional_features"`
}

// FeatureSimpleSplit is the mandatory feature a writer adds whenever
// splitting is enabled (splitSize > 0), even if the output ends up as a
// single part.
const FeatureSimpleSplit = "simple_split"

// KnownOptionalFeatures lists the optional features this reader understands;
// anything else in OptionalFeatures is warned about, not rejected.
var KnownOptionalFeatures = map[string]bool{} //nolint:gochecknoglobals

// KnownMandatoryFeatures lists the mandatory features this reader
// understands; anything else in MandatoryFeatures is a fatal format error.
var KnownMandatoryFeatures = map[string]bool{ //nolint:gochecknoglobals
	FeatureSimpleSplit: true,
}

// UnknownMandatoryFeatures returns the subset of v.MandatoryFeatures this
// reader does not recognize.
func (v VersionInfo) UnknownMandatoryFeatures() []string {
	var unknown []string

	for _, f := range v.MandatoryFeatures {
		if !KnownMandatoryFeatures[f] {
			unknown = append(unknown, f)
		}
	}

	return unknown
}

// UnknownOptionalFeatures returns the subset of v.OptionalFeatures this
// reader does not recognize.
func (v VersionInfo) UnknownOptionalFeatures() []string {
	var unknown []string

	for _, f := range v.OptionalFeatures {
		if !KnownOptionalFeatures[f] {
			unknown = append(unknown, f)
		}
	}

	return unknown
}

// ConfigInfo maps a human configuration name to the StorePath that is the
// top-level of its configuration closure. It is serialized as
// shipfile/metadata/config_info.json, with keys written in sorted order so
// the archive is byte-exact for deterministic inputs.
type ConfigInfo map[string]nixpath.StorePath

// SortedNames returns the configuration names in sorted order.
func (c ConfigInfo) SortedNames() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CacheInfo is the parsed form of a nix-cache-info Key: value file. StoreDir
// is always present and validated; any other keys (Priority,
// WantMassQuery, ...) are carried verbatim and in order so a shipfile
// reproduces whatever the source store advertised.
type CacheInfo struct {
	keys   []string
	values map[string]string
}

// NewCacheInfo builds a CacheInfo for storeDir with no extra keys.
func NewCacheInfo(storeDir string) *CacheInfo {
	c := &CacheInfo{values: map[string]string{}}
	c.Set("StoreDir", storeDir)

	return c
}

// Set assigns key=value, preserving first-insertion order for new keys.
func (c *CacheInfo) Set(key, value string) {
	if c.values == nil {
		c.values = map[string]string{}
	}

	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}

	c.values[key] = value
}

// Get returns the value for key and whether it was present.
func (c *CacheInfo) Get(key string) (string, bool) {
	v, ok := c.values[key]

	return v, ok
}

// StoreDir returns the mandatory StoreDir key.
func (c *CacheInfo) StoreDir() string {
	v, _ := c.Get("StoreDir")

	return v
}

// Keys returns the keys in insertion order.
func (c *CacheInfo) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)

	return out
}

// MarshalCacheInfo renders a nix-cache-info Key: value file.
func MarshalCacheInfo(c *CacheInfo) ([]byte, error) {
	if c.StoreDir() == "" {
		return nil, fmt.Errorf("narinfo: nix-cache-info missing StoreDir")
	}

	var b strings.Builder

	for _, key := range c.keys {
		fmt.Fprintf(&b, "%s: %s\n", key, c.values[key])
	}

	return []byte(b.String()), nil
}

// UnmarshalCacheInfo parses a nix-cache-info Key: value file. It requires
// StoreDir to equal nixpath.StoreDir — alternate store roots are out of
// scope.
func UnmarshalCacheInfo(data []byte) (*CacheInfo, error) {
	c := &CacheInfo{values: map[string]string{}}

	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("narinfo: malformed nix-cache-info line %q", line)
		}

		c.Set(key, value)
	}

	if c.StoreDir() == "" {
		return nil, fmt.Errorf("narinfo: nix-cache-info missing StoreDir")
	}

	if c.StoreDir() != nixpath.StoreDir {
		return nil, fmt.Errorf("narinfo: nix-cache-info StoreDir %q is not %q", c.StoreDir(), nixpath.StoreDir)
	}

	return c, nil
}
