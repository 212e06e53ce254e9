package storeclient

import (
	"fmt"
	"io"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/wire"
)

// DumpStorePath streams the NAR serialization of path into sink, through a
// fixed 128 KiB buffer, stopping after expectedSize bytes or on EOF.
func (c *Client) DumpStorePath(path nixpath.StorePath, expectedSize uint64, sink io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeOp(opDumpStorePath); err != nil {
		return err
	}

	if err := wire.WriteString(c.stdin, path.String()); err != nil {
		return &ProtocolError{Op: "dumpStorePath write path", Err: err}
	}

	buf := make([]byte, dumpBufferSize)

	_, err := io.CopyBuffer(sink, io.LimitReader(c.stdout, int64(expectedSize)), buf)
	if err != nil {
		return &ProtocolError{Op: "dumpStorePath stream", Err: err}
	}

	return nil
}

// AddToStoreNar sends pathInfo's metadata and then streams exactly
// info.NarSize bytes read from source, as the NAR body. registrationTime and
// ultimate are always sent as 0/false, matching the serve protocol's
// client-side convention.
func (c *Client) AddToStoreNar(info narinfo.PathInfo, source io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeOp(opAddToStoreNar); err != nil {
		return err
	}

	if err := wire.WriteString(c.stdin, info.Path.String()); err != nil {
		return &ProtocolError{Op: "addToStoreNar write path", Err: err}
	}

	if err := wire.WriteString(c.stdin, info.Deriver.String()); err != nil {
		return &ProtocolError{Op: "addToStoreNar write deriver", Err: err}
	}

	if err := wire.WriteString(c.stdin, info.NarHash); err != nil {
		return &ProtocolError{Op: "addToStoreNar write narHash", Err: err}
	}

	if err := c.writePaths(info.SortedReferences()); err != nil {
		return fmt.Errorf("addToStoreNar: %w", err)
	}

	if err := wire.WriteUint64(c.stdin, 0); err != nil { // registrationTime
		return &ProtocolError{Op: "addToStoreNar write registrationTime", Err: err}
	}

	if err := wire.WriteUint64(c.stdin, info.NarSize); err != nil {
		return &ProtocolError{Op: "addToStoreNar write narSize", Err: err}
	}

	if err := wire.WriteBool(c.stdin, false); err != nil { // ultimate
		return &ProtocolError{Op: "addToStoreNar write ultimate", Err: err}
	}

	if err := wire.WriteStrings(c.stdin, info.SortedSigs()); err != nil {
		return &ProtocolError{Op: "addToStoreNar write sigs", Err: err}
	}

	if err := wire.WriteString(c.stdin, info.CAInfo); err != nil {
		return &ProtocolError{Op: "addToStoreNar write caInfo", Err: err}
	}

	if _, err := io.CopyN(c.stdin, source, int64(info.NarSize)); err != nil {
		return &ProtocolError{Op: "addToStoreNar stream body", Err: err}
	}

	status, err := wire.ReadUint64(c.stdout)
	if err != nil {
		return &ProtocolError{Op: "addToStoreNar read status", Err: err}
	}

	if status == 0 {
		return &ProtocolError{Op: "addToStoreNar", Err: fmt.Errorf("store reported failure for %s", info.Path)}
	}

	return nil
}
