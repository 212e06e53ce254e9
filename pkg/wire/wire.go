// Package wire implements the primitive encodings shared by the store
// protocol: little-endian 64-bit integers, length-prefixed strings padded to
// an 8-byte boundary, and arrays of those strings. It has no knowledge of any
// particular operation; pkg/storeclient composes these primitives into the
// serve protocol's operations.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringSize bounds how large a single wire string may be before it is
// rejected as a protocol error. Guards against a misbehaving or malicious
// peer claiming an enormous length prefix.
const MaxStringSize = 256 * 1024 * 1024 // 256 MiB

var zeroPad [8]byte

// ReadUint64 reads a single little-endian 64-bit unsigned integer.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read uint64: %w", err)
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes a single little-endian 64-bit unsigned integer.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], v)

	_, err := w.Write(buf[:])

	return err
}

// ReadBool reads a boolean encoded as a uint64 (zero is false, anything else
// is true).
func ReadBool(r io.Reader) (bool, error) {
	v, err := ReadUint64(r)
	if err != nil {
		return false, err
	}

	return v != 0, nil
}

// WriteBool writes a boolean encoded as a uint64.
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint64(w, 1)
	}

	return WriteUint64(w, 0)
}

// padLen returns the number of zero bytes needed to round contentLen up to
// the next multiple of 8.
func padLen(contentLen uint64) uint64 {
	return (8 - (contentLen % 8)) % 8
}

// ReadString reads a length-prefixed, zero-padded UTF-8 string. maxBytes
// bounds the accepted length to guard against a hostile or corrupt length
// prefix.
func ReadString(r io.Reader, maxBytes uint64) (string, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}

	if n > maxBytes {
		return "", fmt.Errorf("read string: length %d exceeds maximum %d", n, maxBytes)
	}

	buf := make([]byte, n)

	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read string data: %w", err)
	}

	if pad := padLen(n); pad > 0 {
		var padBuf [8]byte

		if _, err := io.ReadFull(r, padBuf[:pad]); err != nil {
			return "", fmt.Errorf("read string padding: %w", err)
		}
	}

	return string(buf), nil
}

// WriteString writes a length-prefixed string, zero-padded to an 8-byte
// boundary.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint64(w, uint64(len(s))); err != nil {
		return err
	}

	if _, err := io.WriteString(w, s); err != nil {
		return err
	}

	if pad := padLen(uint64(len(s))); pad > 0 {
		if _, err := w.Write(zeroPad[:pad]); err != nil {
			return err
		}
	}

	return nil
}

// ReadStrings reads a count-prefixed array of strings.
func ReadStrings(r io.Reader, maxBytes uint64) ([]string, error) {
	count, err := ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read string array length: %w", err)
	}

	ss := make([]string, count)

	for i := range ss {
		s, err := ReadString(r, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("read string array entry %d: %w", i, err)
		}

		ss[i] = s
	}

	return ss, nil
}

// WriteStrings writes a count-prefixed array of strings.
func WriteStrings(w io.Writer, ss []string) error {
	if err := WriteUint64(w, uint64(len(ss))); err != nil {
		return err
	}

	for _, s := range ss {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}

	return nil
}
