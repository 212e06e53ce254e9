package storeclient

import (
	"fmt"
	"sort"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/wire"
)

// QueryPathInfos fetches metadata for paths. The peer streams replies until
// an empty path terminates the list; within each reply, references are
// canonicalized and sigs sorted before being returned.
func (c *Client) QueryPathInfos(paths []nixpath.StorePath) ([]narinfo.PathInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeOp(opQueryPathInfos); err != nil {
		return nil, err
	}

	if err := c.writePaths(paths); err != nil {
		return nil, fmt.Errorf("queryPathInfos: %w", err)
	}

	var infos []narinfo.PathInfo

	for {
		rawPath, err := wire.ReadString(c.stdout, wire.MaxStringSize)
		if err != nil {
			return nil, &ProtocolError{Op: "queryPathInfos read path", Err: err}
		}

		if rawPath == "" {
			break
		}

		path, err := nixpath.Parse(rawPath)
		if err != nil {
			return nil, &ProtocolError{Op: "queryPathInfos parse path", Err: err}
		}

		info, err := c.readPathInfoReply(path)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func (c *Client) readPathInfoReply(path nixpath.StorePath) (narinfo.PathInfo, error) {
	rawDeriver, err := wire.ReadString(c.stdout, wire.MaxStringSize)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read deriver", Err: err}
	}

	var deriver nixpath.StorePath

	if rawDeriver != "" {
		deriver, err = nixpath.Parse(rawDeriver)
		if err != nil {
			return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos parse deriver", Err: err}
		}
	}

	rawRefs, err := wire.ReadStrings(c.stdout, wire.MaxStringSize)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read references", Err: err}
	}

	refs, err := parsePaths(rawRefs)
	if err != nil {
		return narinfo.PathInfo{}, err
	}

	narSize, err := wire.ReadUint64(c.stdout)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read narSize", Err: err}
	}

	// narSize is sent twice by the peer; the repeat is protocol-mandated and
	// discarded here.
	if _, err := wire.ReadUint64(c.stdout); err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read narSize repeat", Err: err}
	}

	narHash, err := wire.ReadString(c.stdout, wire.MaxStringSize)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read narHash", Err: err}
	}

	caInfo, err := wire.ReadString(c.stdout, wire.MaxStringSize)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read caInfo", Err: err}
	}

	sigs, err := wire.ReadStrings(c.stdout, wire.MaxStringSize)
	if err != nil {
		return narinfo.PathInfo{}, &ProtocolError{Op: "queryPathInfos read sigs", Err: err}
	}

	sortedSigs := append([]string(nil), sigs...)
	sort.Strings(sortedSigs)

	info := narinfo.PathInfo{
		Path:       path,
		Deriver:    deriver,
		References: nixpath.CanonicalSort(refs),
		NarSize:    narSize,
		NarHash:    narHash,
		CAInfo:     caInfo,
		Sigs:       sortedSigs,
	}

	return info, nil
}
