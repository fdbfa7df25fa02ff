package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/gitpool/internal/observability"
)

// DefaultDeadline is the per-call deadline applied when a caller's
// context carries no deadline of its own.
const DefaultDeadline = 5 * time.Minute

// Client is a typed RPC stub over a single, reconnect-less connection. A
// broken connection surfaces as a TransportError to the caller; the
// caller must construct a new Client to recover, matching the "caller
// handles reconnect" contract this implementation chose over the
// teacher's dial/redial Client (which has no per-call deadline needs).
//
// Client is cheaply shareable: concurrent calls serialize writes/reads
// over the one connection under a mutex (simple request/response
// correlation, since the underlying transport is not implicitly
// multiplexed) rather than attempt out-of-order pipelining.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens a single connection to addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// deadlineFrom returns ctx's deadline if it has one, else now+DefaultDeadline.
func deadlineFrom(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(DefaultDeadline)
}

func (c *Client) call(ctx context.Context, kind Kind, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: "encode", Err: err}
	}

	tc := observability.ExtractTraceContext(ctx)
	req := &Envelope{
		Kind:        kind,
		ID:          uuid.NewString(),
		Deadline:    deadlineFrom(ctx),
		Payload:     data,
		TraceParent: tc.TraceParent,
		TraceState:  tc.TraceState,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(req.Deadline)
	}
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteEnvelope(c.conn, req); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	resp, err := ReadEnvelope(c.conn)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return resp, nil
}

// LookupOrClone performs the RPC equivalent of Pool.LookupOrClone. The
// outer error is a TransportError (RPC failed); the inner error, if any,
// is the clone's own outcome.
func (c *Client) LookupOrClone(ctx context.Context, remote string) (string, error, error) {
	resp, err := c.call(ctx, KindLookupOrClone, &LookupOrCloneRequest{Remote: remote})
	if err != nil {
		return "", nil, err
	}
	var out LookupOrCloneResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return "", nil, &TransportError{Op: "decode", Err: err}
	}
	return out.Path, FromServiceError(out.Error), nil
}

// Lookup performs the RPC equivalent of Pool.Lookup.
func (c *Client) Lookup(ctx context.Context, remote string) (path string, serviceErr error, found bool, transportErr error) {
	resp, err := c.call(ctx, KindLookup, &LookupRequest{Remote: remote})
	if err != nil {
		return "", nil, false, err
	}
	var out LookupResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return "", nil, false, &TransportError{Op: "decode", Err: err}
	}
	return out.Path, FromServiceError(out.Error), out.Found, nil
}

// CloneIn performs the RPC equivalent of Pool.CloneIn.
func (c *Client) CloneIn(ctx context.Context, parentDir, remote, directory string) (error, error) {
	resp, err := c.call(ctx, KindCloneIn, &CloneInRequest{
		Remote: remote, ParentDir: parentDir, Directory: directory,
	})
	if err != nil {
		return nil, err
	}
	var out CloneInResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return nil, &TransportError{Op: "decode", Err: err}
	}
	return FromServiceError(out.Error), nil
}
