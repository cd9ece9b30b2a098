// Package rpc implements the core IPC wire protocol from spec.md §4.4: a
// length-prefixed binary frame carrying a positionally (not tag-) encoded
// payload. This is deliberately not gRPC/protobuf — see SPEC_FULL.md's
// DOMAIN STACK table for why the narrow AdminAPI uses grpc instead.
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
)

// MaxFrameLength bounds a single payload to keep a hostile length prefix
// from causing an unbounded allocation. ReadFrame rejects a longer declared
// length with UnsupportedFormat without reading the payload; broker.Serve
// then ends the connection.
const MaxFrameLength = 64 << 20

// WriteFrame writes the u32 little-endian length prefix followed by
// payload, per spec.md §4.4's wire framing.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return keyerrc.New(keyerrc.UnsupportedFormat, "payload exceeds max frame length")
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. io.EOF propagates unchanged so
// callers can distinguish a clean disconnect from a truncated frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameLength {
		return nil, keyerrc.New(keyerrc.UnsupportedFormat, "declared frame length exceeds max")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, keyerrc.Wrap(keyerrc.IncompleteInput, "truncated frame payload", err)
	}
	return payload, nil
}
