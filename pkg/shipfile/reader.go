package shipfile

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// readerState names the Reader's position in the linear state machine
// described in §4.4.
type readerState int

const (
	rStateInitial readerState = iota
	rStateMetadata
	rStateStoreMetadata
	rStateReadNar
	rStateClosed
)

// PathInfoEntry pairs a parsed narinfo with whether its NAR payload is
// present in this archive.
type PathInfoEntry struct {
	Info   narinfo.PathInfo
	InFile bool
}

// Reader parses a shipfile written by Writer, in order, through the state
// machine "initial -> metadata -> store_metadata -> read_nar -> closed". It
// owns the underlying file handle, decompressor, and tar parser.
type Reader struct {
	state readerState

	f  *os.File
	zr *zstd.Decoder
	tr *tar.Reader

	pushedBack *tar.Header

	version    narinfo.VersionInfo
	configInfo narinfo.ConfigInfo
	cacheInfo  *narinfo.CacheInfo
	pathInfos  []PathInfoEntry
}

// Warnf is called with a human-readable message whenever the reader
// encounters an unknown optional feature. It is passed to Open; a nil Warnf
// is replaced by a no-op.
type Warnf func(format string, args ...any)

// Open opens path, parses the mandatory version_info, config_info, and
// nix-cache-info entries plus every narinfo record, and stops positioned at
// the first NAR entry, ready for ConsumeNar calls.
func Open(path string, warn Warnf) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shipfile: opening %s: %w", path, err)
	}

	zr, err := zstd.NewReader(f, zstd.WithDecoderMaxWindow(uint64(1)<<ultraWindowLog))
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("shipfile: opening zstd decoder: %w", err)
	}

	r := &Reader{
		f:  f,
		zr: zr,
		tr: tar.NewReader(zr),
	}

	if warn == nil {
		warn = func(string, ...any) {}
	}

	if err := r.readVersionInfo(warn); err != nil {
		r.Close()

		return nil, err
	}

	if err := r.readMetadata(); err != nil {
		r.Close()

		return nil, err
	}

	if err := r.readStoreMetadata(); err != nil {
		r.Close()

		return nil, err
	}

	return r, nil
}

// VersionInfo returns the parsed version_info record.
func (r *Reader) VersionInfo() narinfo.VersionInfo { return r.version }

// ConfigInfo returns the parsed config_info record.
func (r *Reader) ConfigInfo() narinfo.ConfigInfo { return r.configInfo }

// CacheInfo returns the parsed nix-cache-info record.
func (r *Reader) CacheInfo() *narinfo.CacheInfo { return r.cacheInfo }

// PathInfos returns every parsed narinfo record plus its in_file flag, in
// the archive's topological order.
func (r *Reader) PathInfos() []PathInfoEntry { return r.pathInfos }

func (r *Reader) next() (*tar.Header, error) {
	if r.pushedBack != nil {
		hdr := r.pushedBack
		r.pushedBack = nil

		return hdr, nil
	}

	for {
		hdr, err := r.tr.Next()
		if err != nil {
			return nil, err
		}

		if hdr.Typeflag == tar.TypeReg {
			return hdr, nil
		}
	}
}

func (r *Reader) pushBack(hdr *tar.Header) {
	if r.pushedBack != nil {
		panic("shipfile: pushBack called with an entry already pushed back")
	}

	r.pushedBack = hdr
}

func (r *Reader) readVersionInfo(warn Warnf) error {
	hdr, err := r.next()
	if err != nil {
		return fmt.Errorf("shipfile: reading version_info entry: %w", err)
	}

	if hdr.Name != entryVersionInfo {
		return &FormatError{Reason: fmt.Sprintf("first entry is %q, want %q", hdr.Name, entryVersionInfo)}
	}

	var raw struct {
		Version           int      `json:"version"`
		MandatoryFeatures []string `json:"mandatory_features"`
		OptionalFeatures  []string `json:"optional_features"`
	}

	dec := json.NewDecoder(io.LimitReader(r.tr, hdr.Size))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&raw); err != nil {
		return &FormatError{Reason: fmt.Sprintf("parsing version_info: %v", err)}
	}

	r.version = narinfo.VersionInfo{
		Version:           raw.Version,
		MandatoryFeatures: raw.MandatoryFeatures,
		OptionalFeatures:  raw.OptionalFeatures,
	}

	if r.version.Version != narinfo.CurrentVersion {
		return &FormatError{Reason: fmt.Sprintf("unsupported shipfile version %d", r.version.Version)}
	}

	if unknown := r.version.UnknownMandatoryFeatures(); len(unknown) > 0 {
		return &FormatError{Reason: fmt.Sprintf("unknown mandatory feature(s): %s", strings.Join(unknown, ", "))}
	}

	for _, f := range r.version.UnknownOptionalFeatures() {
		warn("shipfile: unknown optional feature %q", f)
	}

	r.state = rStateMetadata

	return nil
}

func (r *Reader) readMetadata() error {
	sawConfigInfo := false

	for {
		hdr, err := r.next()
		if err != nil {
			return fmt.Errorf("shipfile: reading metadata entries: %w", err)
		}

		if !strings.HasPrefix(hdr.Name, prefixMetadata) {
			r.pushBack(hdr)

			break
		}

		if hdr.Name != entryConfigInfo {
			return &FormatError{Reason: fmt.Sprintf("unexpected metadata entry %q", hdr.Name)}
		}

		raw := map[string]string{}

		if err := json.NewDecoder(io.LimitReader(r.tr, hdr.Size)).Decode(&raw); err != nil {
			return &FormatError{Reason: fmt.Sprintf("parsing config_info: %v", err)}
		}

		info := make(narinfo.ConfigInfo, len(raw))

		for name, rawPath := range raw {
			p, err := nixpath.Parse(rawPath)
			if err != nil {
				return &FormatError{Reason: fmt.Sprintf("config_info[%q]: %v", name, err)}
			}

			info[name] = p
		}

		r.configInfo = info
		sawConfigInfo = true
	}

	if !sawConfigInfo {
		return &FormatError{Reason: "config_info.json was not present"}
	}

	r.state = rStateStoreMetadata

	return nil
}

func (r *Reader) readStoreMetadata() error {
	sawCacheInfo := false

	for {
		hdr, err := r.next()
		if err != nil {
			return fmt.Errorf("shipfile: reading store metadata entries: %w", err)
		}

		if strings.HasPrefix(hdr.Name, prefixNar) {
			r.pushBack(hdr)

			break
		}

		if !strings.HasPrefix(hdr.Name, prefixStore) {
			return &FormatError{Reason: fmt.Sprintf("unexpected entry %q outside shipfile/store/", hdr.Name)}
		}

		body := make([]byte, hdr.Size)

		if _, err := io.ReadFull(r.tr, body); err != nil {
			return fmt.Errorf("shipfile: reading body of %s: %w", hdr.Name, err)
		}

		switch {
		case hdr.Name == entryCacheInfo:
			ci, err := narinfo.UnmarshalCacheInfo(body)
			if err != nil {
				return err
			}

			r.cacheInfo = ci
			sawCacheInfo = true
		case strings.HasSuffix(hdr.Name, ".narinfo"):
			info, inFile, err := narinfo.Unmarshal(body)
			if err != nil {
				return err
			}

			r.pathInfos = append(r.pathInfos, PathInfoEntry{Info: info, InFile: inFile})
		default:
			return &FormatError{Reason: fmt.Sprintf("unexpected store entry %q", hdr.Name)}
		}
	}

	if !sawCacheInfo {
		return &FormatError{Reason: "nix-cache-info was not present"}
	}

	r.state = rStateReadNar

	return nil
}

// ConsumeNar advances through tar entries until it finds
// "shipfile/store/nar/<narHashDigest>.nar", streaming that entry's body into
// sink. Callers must invoke ConsumeNar in the same topological order in
// which objects appear in the archive; narHashDigest is the nixbase32 digest
// portion of the object's narHash.
func (r *Reader) ConsumeNar(narHashDigest string, sink io.Writer) error {
	if r.state != rStateReadNar {
		return &FormatError{Reason: fmt.Sprintf("ConsumeNar called in state %d, want read_nar", r.state)}
	}

	want := prefixNar + narHashDigest + ".nar"

	for {
		hdr, err := r.next()
		if err != nil {
			if err == io.EOF { //nolint:errorlint // tar.Reader.Next returns io.EOF verbatim
				return &FormatError{Reason: fmt.Sprintf("nar entry %q not found before end of archive", want)}
			}

			return fmt.Errorf("shipfile: reading nar entries: %w", err)
		}

		if !strings.HasPrefix(hdr.Name, prefixNar) {
			return &FormatError{Reason: fmt.Sprintf("entry %q outside shipfile/store/nar/ while consuming nars", hdr.Name)}
		}

		if hdr.Name != want {
			// Not yet at the requested entry; this only happens if a caller
			// skips a consumeNar call the ordering contract required.
			if _, err := io.CopyN(io.Discard, r.tr, hdr.Size); err != nil {
				return fmt.Errorf("shipfile: skipping nar entry %s: %w", hdr.Name, err)
			}

			continue
		}

		if _, err := io.CopyN(sink, r.tr, hdr.Size); err != nil {
			return fmt.Errorf("shipfile: streaming nar body for %s: %w", narHashDigest, err)
		}

		return nil
	}
}

// Close releases the tar parser, the decompressor, and the file handle, in
// that order.
func (r *Reader) Close() error {
	if r.state == rStateClosed {
		return nil
	}

	r.state = rStateClosed

	r.zr.Close()

	return r.f.Close()
}
