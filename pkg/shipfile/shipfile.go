// Package shipfile implements the ordered writer and reader state machines
// for the shipfile archive format (§4.3/§4.4): a zstd-compressed tar stream
// carrying a self-describing sequence of metadata, per-object narinfo
// records, and NAR payloads.
package shipfile

import "fmt"

// Entry path prefixes and fixed names, per the table in §4.3.
const (
	prefixMetadata = "shipfile/metadata/"
	prefixStore    = "shipfile/store/"
	prefixNar      = "shipfile/store/nar/"

	entryVersionInfo = prefixMetadata + "version_info.json"
	entryConfigInfo  = prefixMetadata + "config_info.json"
	entryCacheInfo   = prefixStore + "nix-cache-info"
)

// Compression selects the zstd encoder parameters a Writer uses. The zero
// value is invalid; callers must pick one of the named levels.
type Compression int

// The levels map onto klauspost/compress's encoder speed presets, not onto
// numeric zstd levels. No level enables long-distance matching.
const (
	// CompressionFast uses the encoder's zstd.SpeedFastest preset with its
	// default window.
	CompressionFast Compression = iota + 1
	// CompressionNormal uses the encoder's zstd.SpeedDefault preset with a
	// 2^27-byte window.
	CompressionNormal
	// CompressionUltra uses the encoder's zstd.SpeedBestCompression preset
	// with a 2^encoderWindowLog (2^30) byte window.
	CompressionUltra
)

func (c Compression) String() string {
	switch c {
	case CompressionFast:
		return "fast"
	case CompressionNormal:
		return "normal"
	case CompressionUltra:
		return "ultra"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ultraWindowLog is 31, the log2 of the 2^31-byte window the reader must accept to parse an
// ultra-compressed archive back. A real level-22 producer with long-distance
// matching can use a window this large, so the reader is configured to
// accept it even though this package's own encoder cannot produce one (see
// encoderWindowLog).
const ultraWindowLog = 31

// encoderWindowLog is the largest window klauspost/compress's encoder will
// accept (zstd.MaxWindowSize is 1<<30); CompressionUltra asks for this
// instead of 1<<ultraWindowLog, since requesting the full 31-bit window
// makes zstd.NewWriter return an error. This means an archive this package
// writes in ultra mode will not literally reproduce a reference zstd level-22
// --long=31 encoder's bytes, but the reader still accepts one that does.
const encoderWindowLog = 30

// FormatError reports a violation of the shipfile's structural invariants:
// an unknown shipfile version, an unknown mandatory feature, a missing
// required metadata entry, a NAR entry that was never found, or inconsistent
// narinfo fields. A duplicated pushback is a programming error and panics
// instead (see Reader.pushBack).
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("shipfile: %s", e.Reason)
}
