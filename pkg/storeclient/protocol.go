// Package storeclient speaks the Nix "serve" protocol (§4.1): a
// length-prefixed binary protocol carried over the standard input/output of
// a subprocess launched as "<store-tool> --serve --write". It is a sibling
// protocol to the Nix daemon socket protocol, not a reuse of it — different
// magic numbers, a different version scheme, and a much smaller op set.
package storeclient

import "fmt"

const (
	// clientMagic is sent first by the client.
	clientMagic uint64 = 0x390c9deb
	// serveMagic is the magic the peer must answer with.
	serveMagic uint64 = 0x5452eecb

	// clientVersion is this client's own protocol version: major 2, minor 7.
	clientVersion uint64 = (2 << 8) | 7
)

// op is a serve-protocol opcode.
type op uint64

const (
	opQueryValidPaths op = 1
	opQueryPathInfos  op = 2
	opDumpStorePath   op = 3
	opQueryClosure    op = 7
	opAddToStoreNar   op = 9
)

// dumpBufferSize is the fixed buffer size dumpStorePath streams through.
const dumpBufferSize = 128 * 1024

// peerVersion splits a 16-bit serve-protocol version into major/minor, high
// byte major per §4.1.
type peerVersion struct {
	Major uint8
	Minor uint8
}

func splitPeerVersion(v uint64) peerVersion {
	return peerVersion{Major: uint8(v >> 8), Minor: uint8(v)} //nolint:gosec // protocol-defined 16-bit field
}

func (v peerVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
