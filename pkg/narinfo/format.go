package narinfo

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/tpwrules/nixos-ship/pkg/nixbase32"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// NarHashBase32 returns the nixbase32-encoded digest portion of a narHash
// descriptor, e.g. "sha256:xxxx" -> "xxxx". Used to build the archive entry
// path "shipfile/store/nar/<narHashBase32>.nar".
func NarHashBase32(narHash string) (string, error) {
	_, digest, ok := strings.Cut(narHash, ":")
	if !ok || digest == "" {
		return "", fmt.Errorf("narinfo: narHash %q is not of the form \"algo:digest\"", narHash)
	}

	if !nixbase32.IsValid(digest) {
		return "", fmt.Errorf("narinfo: narHash digest %q is not valid nixbase32", digest)
	}

	return digest, nil
}

// Marshal renders a PathInfo as a narinfo Key: value record, in the field
// order §4.3 specifies. inFile controls whether URL points at a NAR entry in
// this archive (true) or the object is merely announced (false, used by
// delta baselines).
func Marshal(info PathInfo, inFile bool) ([]byte, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	digest, err := NarHashBase32(info.NarHash)
	if err != nil {
		return nil, err
	}

	var b strings.Builder

	fmt.Fprintf(&b, "StorePath: %s\n", info.Path)

	url := ""
	if inFile {
		url = "nar/" + digest + ".nar"
	}

	fmt.Fprintf(&b, "URL: %s\n", url)
	fmt.Fprintf(&b, "Compression: none\n")
	fmt.Fprintf(&b, "FileHash: %s\n", info.NarHash)
	fmt.Fprintf(&b, "FileSize: %d\n", info.NarSize)
	fmt.Fprintf(&b, "NarHash: %s\n", info.NarHash)
	fmt.Fprintf(&b, "NarSize: %d\n", info.NarSize)

	refBases := make([]string, 0, len(info.References))
	for _, ref := range info.SortedReferences() {
		refBases = append(refBases, ref.Base())
	}

	fmt.Fprintf(&b, "References: %s\n", strings.Join(refBases, " "))

	if info.Deriver != "" {
		fmt.Fprintf(&b, "Deriver: %s\n", info.Deriver.Base())
	}

	for _, sig := range info.SortedSigs() {
		fmt.Fprintf(&b, "Sig: %s\n", sig)
	}

	if info.CAInfo != "" {
		fmt.Fprintf(&b, "CA: %s\n", info.CAInfo)
	}

	if info.System != "" {
		fmt.Fprintf(&b, "System: %s\n", info.System)
	}

	return []byte(b.String()), nil
}

// Unmarshal parses a narinfo Key: value record. It returns the PathInfo and
// whether the record was in_file (a nonempty URL). Duplicated keys are
// accepted for Sig (legitimately repeated); any other key appearing twice is
// a format error. Compression must equal "none", and FileSize/FileHash must
// equal NarSize/NarHash — any mismatch is fatal.
func Unmarshal(data []byte) (PathInfo, bool, error) {
	var (
		info        PathInfo
		url         string
		compression string
		fileHash    string
		fileSize    uint64
		haveFileSz  bool
		seen        = map[string]bool{}
	)

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return PathInfo{}, false, fmt.Errorf("narinfo: malformed line %q", line)
		}

		switch key {
		case "Sig":
			info.Sigs = append(info.Sigs, value)

			continue
		default:
			if seen[key] {
				return PathInfo{}, false, fmt.Errorf("narinfo: duplicate key %q", key)
			}

			seen[key] = true
		}

		switch key {
		case "StorePath":
			p, err := nixpath.Parse(value)
			if err != nil {
				return PathInfo{}, false, fmt.Errorf("narinfo: StorePath: %w", err)
			}

			info.Path = p
		case "URL":
			url = value
		case "Compression":
			compression = value
		case "FileHash":
			fileHash = value
		case "FileSize":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return PathInfo{}, false, fmt.Errorf("narinfo: FileSize: %w", err)
			}

			fileSize = n
			haveFileSz = true
		case "NarHash":
			info.NarHash = value
		case "NarSize":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return PathInfo{}, false, fmt.Errorf("narinfo: NarSize: %w", err)
			}

			info.NarSize = n
		case "References":
			if value != "" {
				for _, base := range strings.Fields(value) {
					ref, err := nixpath.Parse(nixpath.StoreDir + "/" + base)
					if err != nil {
						return PathInfo{}, false, fmt.Errorf("narinfo: References: %w", err)
					}

					info.References = append(info.References, ref)
				}
			}
		case "Deriver":
			deriver, err := nixpath.Parse(nixpath.StoreDir + "/" + value)
			if err != nil {
				return PathInfo{}, false, fmt.Errorf("narinfo: Deriver: %w", err)
			}

			info.Deriver = deriver
		case "CA":
			info.CAInfo = value
		case "System":
			info.System = value
		default:
			return PathInfo{}, false, fmt.Errorf("narinfo: unknown key %q", key)
		}
	}

	if err := scanner.Err(); err != nil {
		return PathInfo{}, false, fmt.Errorf("narinfo: scan: %w", err)
	}

	if info.Path == "" {
		return PathInfo{}, false, fmt.Errorf("narinfo: missing StorePath")
	}

	if compression != "none" {
		return PathInfo{}, false, fmt.Errorf("narinfo: %s: Compression must be \"none\", got %q", info.Path, compression)
	}

	if haveFileSz && fileSize != info.NarSize {
		return PathInfo{}, false, fmt.Errorf("narinfo: %s: FileSize (%d) != NarSize (%d)", info.Path, fileSize, info.NarSize)
	}

	if fileHash != "" && fileHash != info.NarHash {
		return PathInfo{}, false, fmt.Errorf("narinfo: %s: FileHash (%s) != NarHash (%s)", info.Path, fileHash, info.NarHash)
	}

	if err := info.Validate(); err != nil {
		return PathInfo{}, false, err
	}

	return info, url != "", nil
}
