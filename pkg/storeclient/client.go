package storeclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/wire"
)

// Client owns a "<store-tool> --serve --write" subprocess and speaks the
// serve protocol over its stdin/stdout. It holds exclusive ownership of the
// subprocess's pipes: no other component may read or write them.
type Client struct {
	stdin  io.WriteCloser
	stdout *bufio.Reader
	wait   func() error // awaits subprocess exit; nil for non-subprocess peers (tests)
	kill   func()       // best-effort abort used when handshake fails
	peer   peerVersion
	mu     sync.Mutex // serializes operations; the protocol has no pipelining
}

// Connect launches storeTool in serve mode and performs the handshake.
// extraArgs are appended after "--serve --write" (e.g. "--store", a store
// URI) for talking to a non-default store.
func Connect(ctx context.Context, storeTool string, extraArgs ...string) (*Client, error) {
	args := append([]string{"--serve", "--write"}, extraArgs...)
	cmd := exec.CommandContext(ctx, storeTool, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProtocolError{Op: "connect", Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProtocolError{Op: "connect", Err: err}
	}

	cmd.Stderr = nil // discarded (null device); the serve protocol has no stderr log channel

	if err := cmd.Start(); err != nil {
		return nil, &ProtocolError{Op: "connect", Err: fmt.Errorf("starting %s: %w", storeTool, err)}
	}

	c := newClient(stdin, stdout, cmd.Wait, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	if err := c.handshake(); err != nil {
		c.killAndWait()

		return nil, err
	}

	return c, nil
}

// newClient wires up a Client over arbitrary pipes. wait awaits peer exit
// and kill aborts a peer that failed handshake; both may be nil when the
// peer is not a subprocess (used by tests driving the protocol over
// io.Pipe).
func newClient(stdin io.WriteCloser, stdout io.Reader, wait func() error, kill func()) *Client {
	return &Client{
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, dumpBufferSize),
		wait:   wait,
		kill:   kill,
	}
}

func (c *Client) handshake() error {
	if err := wire.WriteUint64(c.stdin, clientMagic); err != nil {
		return &ProtocolError{Op: "handshake write magic", Err: err}
	}

	peerMagic, err := wire.ReadUint64(c.stdout)
	if err != nil {
		return &ProtocolError{Op: "handshake read peer magic", Err: err}
	}

	if peerMagic != serveMagic {
		return &ProtocolError{Op: "handshake", Err: fmt.Errorf("expected peer magic %#x, got %#x", serveMagic, peerMagic)}
	}

	peerVerRaw, err := wire.ReadUint64(c.stdout)
	if err != nil {
		return &ProtocolError{Op: "handshake read peer version", Err: err}
	}

	c.peer = splitPeerVersion(peerVerRaw)

	if err := wire.WriteUint64(c.stdin, clientVersion); err != nil {
		return &ProtocolError{Op: "handshake write client version", Err: err}
	}

	ourMajor := uint8(clientVersion >> 8)
	if c.peer.Major != ourMajor {
		return &ProtocolError{
			Op:  "handshake",
			Err: fmt.Errorf("peer major version %d does not match ours (%d), peer reports %s", c.peer.Major, ourMajor, c.peer),
		}
	}

	return nil
}

// PeerVersion returns the protocol version the store subprocess announced.
func (c *Client) PeerVersion() string {
	return c.peer.String()
}

// Close closes stdin (signaling EOF to the subprocess), drains and closes
// stdout, and awaits exit, per §4.1's ownership rule.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stdinErr := c.stdin.Close()
	_, _ = io.Copy(io.Discard, c.stdout)

	if c.wait != nil {
		if waitErr := c.wait(); waitErr != nil {
			return &SubprocessError{Err: waitErr}
		}
	}

	if stdinErr != nil {
		return &ProtocolError{Op: "close", Err: stdinErr}
	}

	return nil
}

func (c *Client) killAndWait() {
	_ = c.stdin.Close()

	if c.kill != nil {
		c.kill()
	}

	if c.wait != nil {
		_ = c.wait()
	}
}

// QueryValidPaths asks the peer which of paths it considers valid. With
// lock=true the peer is expected to hold the returned paths against garbage
// collection until this session ends.
func (c *Client) QueryValidPaths(paths []nixpath.StorePath, lock, substitute bool) ([]nixpath.StorePath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeOp(opQueryValidPaths); err != nil {
		return nil, err
	}

	if err := wire.WriteBool(c.stdin, lock); err != nil {
		return nil, &ProtocolError{Op: "queryValidPaths write lock", Err: err}
	}

	if err := wire.WriteBool(c.stdin, substitute); err != nil {
		return nil, &ProtocolError{Op: "queryValidPaths write substitute", Err: err}
	}

	if err := c.writePaths(paths); err != nil {
		return nil, fmt.Errorf("queryValidPaths: %w", err)
	}

	strs, err := wire.ReadStrings(c.stdout, wire.MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "queryValidPaths read result", Err: err}
	}

	return parsePaths(strs)
}

// QueryClosure returns the transitive closure of paths.
func (c *Client) QueryClosure(paths []nixpath.StorePath, includeOutputs bool) ([]nixpath.StorePath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeOp(opQueryClosure); err != nil {
		return nil, err
	}

	if err := wire.WriteBool(c.stdin, includeOutputs); err != nil {
		return nil, &ProtocolError{Op: "queryClosure write includeOutputs", Err: err}
	}

	if err := c.writePaths(paths); err != nil {
		return nil, fmt.Errorf("queryClosure: %w", err)
	}

	strs, err := wire.ReadStrings(c.stdout, wire.MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "queryClosure read result", Err: err}
	}

	return parsePaths(strs)
}

func (c *Client) writeOp(o op) error {
	if err := wire.WriteUint64(c.stdin, uint64(o)); err != nil {
		return &ProtocolError{Op: fmt.Sprintf("write opcode %d", o), Err: err}
	}

	return nil
}

func (c *Client) writePaths(paths []nixpath.StorePath) error {
	strs := make([]string, len(paths))
	for i, p := range paths {
		strs[i] = p.String()
	}

	if err := wire.WriteStrings(c.stdin, strs); err != nil {
		return &ProtocolError{Op: "write paths", Err: err}
	}

	return nil
}

func parsePaths(strs []string) ([]nixpath.StorePath, error) {
	out := make([]nixpath.StorePath, len(strs))

	for i, s := range strs {
		p, err := nixpath.Parse(s)
		if err != nil {
			return nil, &ProtocolError{Op: "parse store path", Err: err}
		}

		out[i] = p
	}

	return out, nil
}
