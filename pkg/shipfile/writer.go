package shipfile

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
)

// writerState names the Writer's position in the linear state machine
// described in §4.3.
type writerState int

const (
	stateInitial writerState = iota
	stateWroteVersion
	stateWroteConfig
	stateWroteCache
	stateStreaming
	stateClosed
)

// Writer emits a shipfile: a zstd-compressed tar stream of metadata,
// narinfo records, and NAR payloads, written through the linear state
// machine "initial -> wrote_version -> wrote_config -> wrote_cache ->
// streaming_narinfos_and_nars -> closed". Calls out of order return an
// error rather than producing a malformed archive.
type Writer struct {
	state writerState

	splitter *splitWriter
	zw       *zstd.Encoder
	tw       *tar.Writer

	splitEnabled bool
}

// NewWriter opens dest (and, if splitSize > 0, its numbered siblings) and
// prepares a Writer using the given compression level. splitSize of 0
// disables splitting.
func NewWriter(dest string, compression Compression, splitSize int64) (*Writer, error) {
	sw, err := newSplitWriter(dest, splitSize)
	if err != nil {
		return nil, err
	}

	zw, err := newZstdEncoder(sw, compression)
	if err != nil {
		return nil, fmt.Errorf("shipfile: opening zstd encoder: %w", err)
	}

	return &Writer{
		splitter:     sw,
		zw:           zw,
		tw:           tar.NewWriter(zw),
		splitEnabled: splitSize > 0,
	}, nil
}

func newZstdEncoder(w io.Writer, compression Compression) (*zstd.Encoder, error) {
	opts := []zstd.EOption{zstd.WithEncoderConcurrency(runtime.NumCPU())}

	switch compression {
	case CompressionFast:
		// Fast mode uses no long-distance matching, per §4.3.
		opts = append(opts, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case CompressionNormal:
		opts = append(opts,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithWindowSize(1<<27),
		)
	case CompressionUltra:
		opts = append(opts,
			zstd.WithEncoderLevel(zstd.SpeedBestCompression),
			zstd.WithWindowSize(1<<encoderWindowLog),
		)
	default:
		return nil, fmt.Errorf("shipfile: unknown compression level %v", compression)
	}

	return zstd.NewWriter(w, opts...)
}

// WriteVersionInfo writes the mandatory first entry. optionalFeatures is
// carried as given; mandatoryFeatures gains "simple_split" automatically
// when this Writer was constructed with splitSize > 0.
func (w *Writer) WriteVersionInfo(mandatoryFeatures, optionalFeatures []string) error {
	if w.state != stateInitial {
		return &FormatError{Reason: fmt.Sprintf("WriteVersionInfo called in state %d, want initial", w.state)}
	}

	mandatory := append([]string(nil), mandatoryFeatures...)
	if w.splitEnabled {
		mandatory = append(mandatory, FeatureSimpleSplit)
	}

	sort.Strings(mandatory)

	optional := append([]string(nil), optionalFeatures...)
	sort.Strings(optional)

	info := narinfo.VersionInfo{
		Version:           narinfo.CurrentVersion,
		MandatoryFeatures: mandatory,
		OptionalFeatures:  optional,
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("shipfile: marshaling version_info: %w", err)
	}

	if err := w.writeEntry(entryVersionInfo, data); err != nil {
		return err
	}

	w.state = stateWroteVersion

	return nil
}

// WriteConfigInfo writes the second entry: the name -> top-level mapping.
func (w *Writer) WriteConfigInfo(info narinfo.ConfigInfo) error {
	if w.state != stateWroteVersion {
		return &FormatError{Reason: fmt.Sprintf("WriteConfigInfo called in state %d, want wrote_version", w.state)}
	}

	raw := make(map[string]string, len(info))
	for name, path := range info {
		raw[name] = path.String()
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("shipfile: marshaling config_info: %w", err)
	}

	if err := w.writeEntry(entryConfigInfo, data); err != nil {
		return err
	}

	w.state = stateWroteConfig

	return nil
}

// WriteCacheInfo writes the nix-cache-info entry, then transitions into the
// streaming phase where narinfo records and NAR payloads are emitted.
func (w *Writer) WriteCacheInfo(info *narinfo.CacheInfo) error {
	if w.state != stateWroteConfig {
		return &FormatError{Reason: fmt.Sprintf("WriteCacheInfo called in state %d, want wrote_config", w.state)}
	}

	data, err := narinfo.MarshalCacheInfo(info)
	if err != nil {
		return fmt.Errorf("shipfile: marshaling nix-cache-info: %w", err)
	}

	if err := w.writeEntry(entryCacheInfo, data); err != nil {
		return err
	}

	w.state = stateWroteCache

	return nil
}

// WritePathInfo writes one narinfo record. inFile must be true iff a
// matching WriteNar call for the same path follows (immediately or later,
// but always before Close).
func (w *Writer) WritePathInfo(info narinfo.PathInfo, inFile bool) error {
	if w.state != stateWroteCache && w.state != stateStreaming {
		return &FormatError{Reason: fmt.Sprintf("WritePathInfo called in state %d, want streaming", w.state)}
	}

	w.state = stateStreaming

	data, err := narinfo.Marshal(info, inFile)
	if err != nil {
		return fmt.Errorf("shipfile: marshaling narinfo for %s: %w", info.Path, err)
	}

	return w.writeEntry(prefixStore+info.Path.HashPart()+".narinfo", data)
}

// WriteNar streams exactly narSize bytes from src as the NAR payload entry
// for narHashDigest (the nixbase32 digest portion of a narHash descriptor,
// see narinfo.NarHashBase32). Callers must have already called
// WritePathInfo(info, inFile=true) for the corresponding path, and must emit
// NAR payloads in the same topological order as the narinfo records.
func (w *Writer) WriteNar(narHashDigest string, narSize uint64, src io.Reader) error {
	if w.state != stateStreaming {
		return &FormatError{Reason: fmt.Sprintf("WriteNar called in state %d, want streaming", w.state)}
	}

	hdr := &tar.Header{
		Name:   prefixNar + narHashDigest + ".nar",
		Size:   int64(narSize), //nolint:gosec // narSize is a real file size, not attacker-controlled here
		Mode:   0o644,
		Format: tar.FormatPAX,
	}

	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("shipfile: writing nar header for %s: %w", narHashDigest, err)
	}

	if _, err := io.CopyN(w.tw, src, int64(narSize)); err != nil { //nolint:gosec // see above
		return fmt.Errorf("shipfile: streaming nar body for %s: %w", narHashDigest, err)
	}

	return nil
}

func (w *Writer) writeEntry(name string, data []byte) error {
	hdr := &tar.Header{
		Name:   name,
		Size:   int64(len(data)),
		Mode:   0o644,
		Format: tar.FormatPAX,
	}

	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("shipfile: writing header for %s: %w", name, err)
	}

	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("shipfile: writing body for %s: %w", name, err)
	}

	return nil
}

// Close flushes the tar writer, the zstd encoder, and the underlying
// file(s), in that order, per the state machine's terminal transition.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return &FormatError{Reason: "Close called twice"}
	}

	w.state = stateClosed

	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("shipfile: closing tar writer: %w", err)
	}

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("shipfile: closing zstd encoder: %w", err)
	}

	if _, err := w.splitter.Close(); err != nil {
		return err
	}

	return nil
}
