// Package rpc lifts the Pool's three operations over a length-prefixed
// JSON wire protocol: a 4-byte big-endian length prefix followed by one
// JSON-encoded Envelope per frame. This mirrors the teacher's own
// host/guest agent protocol (a JSON message framed the same way) rather
// than introducing protobuf descriptors nothing here could validate by
// running protoc.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// maxEnvelopeBytes guards against a malformed or hostile length prefix
// driving an unbounded allocation.
const maxEnvelopeBytes = 64 * 1024 * 1024

// Kind names an RPC operation. Identical names and semantics to the
// Pool's own methods; see service.go for request/response shapes.
type Kind string

const (
	KindLookupOrClone Kind = "lookup_or_clone"
	KindLookup        Kind = "lookup"
	KindCloneIn       Kind = "clone_in"
)

// Envelope is the single frame shape carried over the wire for both
// requests and responses. Deadline is set by the Client on requests so a
// Server may prioritize or drop; this implementation never drops, but
// transmits the deadline per the contract.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	ID       string          `json:"id"`
	Deadline time.Time       `json:"deadline,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	TraceParent string       `json:"traceparent,omitempty"`
	TraceState  string       `json:"tracestate,omitempty"`
}

// WriteEnvelope frames and writes one Envelope to conn.
func WriteEnvelope(conn net.Conn, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) > maxEnvelopeBytes {
		return fmt.Errorf("envelope too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	return writeFull(conn, buf)
}

// ReadEnvelope reads and decodes one length-prefixed Envelope from conn.
func ReadEnvelope(conn net.Conn) (*Envelope, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxEnvelopeBytes {
		return nil, fmt.Errorf("envelope too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func writeFull(conn net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// IsBrokenConn reports whether err indicates the connection itself is no
// longer usable, as opposed to a decodable protocol-level failure.
func IsBrokenConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
