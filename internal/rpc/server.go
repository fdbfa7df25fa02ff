package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/oriys/gitpool/internal/gitpool"
	"github.com/oriys/gitpool/internal/logging"
	"github.com/oriys/gitpool/internal/observability"
)

// Server accepts framed connections and dispatches each request to a
// single shared Pool. Handlers execute concurrently; a request with an
// unknown kind or an undecodable payload is dropped and the connection
// keeps being served. A frame whose envelope itself does not decode, and
// any connection-level I/O failure, close only that connection.
type Server struct {
	pool     *gitpool.Pool
	listener net.Listener
}

// NewServer wraps pool for RPC access. pool is exclusively owned by the
// Server for the lifetime of the listener, but shared by reference with
// every concurrent request handler.
func NewServer(pool *gitpool.Pool) *Server {
	return &Server{pool: pool}
}

// Start binds addr and begins accepting connections in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = lis

	logging.Op().Info("rpc server started", "addr", addr)

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				if IsBrokenConn(err) {
					return
				}
				logging.Op().Error("rpc accept error", "error", err)
				continue
			}
			go s.serveConn(conn)
		}
	}()

	return nil
}

// Stop closes the listener. In-flight Pool work is unaffected; callers
// that want in-flight clones aborted too should call Pool.Shutdown.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		env, err := ReadEnvelope(conn)
		if err != nil {
			if !IsBrokenConn(err) {
				logging.Op().Warn("rpc malformed request, closing connection", "error", err)
			}
			return
		}

		resp, ok := s.dispatch(env)
		if !ok {
			// Malformed request: drop it, keep serving the connection.
			logging.Op().Warn("rpc malformed request body, dropping", "kind", env.Kind, "id", env.ID)
			continue
		}
		if err := WriteEnvelope(conn, resp); err != nil {
			logging.Op().Warn("rpc write failed, closing connection", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(env *Envelope) (*Envelope, bool) {
	ctx := context.Background()
	if !env.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, env.Deadline)
		defer cancel()
	}
	if env.TraceParent != "" {
		ctx = observability.InjectTraceContext(ctx, observability.TraceContext{
			TraceParent: env.TraceParent,
			TraceState:  env.TraceState,
		})
	}
	ctx, span := observability.StartServerSpan(ctx, "gitpool.rpc."+string(env.Kind))
	defer span.End()

	switch env.Kind {
	case KindLookupOrClone:
		return s.handleLookupOrClone(ctx, env)
	case KindLookup:
		return s.handleLookup(ctx, env)
	case KindCloneIn:
		return s.handleCloneIn(ctx, env)
	default:
		logging.Op().Warn("rpc unknown kind, dropping", "kind", env.Kind, "id", env.ID)
		return nil, false
	}
}

func (s *Server) handleLookupOrClone(ctx context.Context, env *Envelope) (*Envelope, bool) {
	var req LookupOrCloneRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, false
	}

	path, err := s.pool.LookupOrClone(ctx, req.Remote)
	resp := LookupOrCloneResponse{Path: path, Error: ToServiceError(err)}
	return &Envelope{Kind: env.Kind, ID: env.ID, Payload: mustMarshal(resp)}, true
}

func (s *Server) handleLookup(ctx context.Context, env *Envelope) (*Envelope, bool) {
	var req LookupRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, false
	}

	path, err, found := s.pool.Lookup(req.Remote)
	resp := LookupResponse{Found: found, Path: path, Error: ToServiceError(err)}
	return &Envelope{Kind: env.Kind, ID: env.ID, Payload: mustMarshal(resp)}, true
}

func (s *Server) handleCloneIn(ctx context.Context, env *Envelope) (*Envelope, bool) {
	var req CloneInRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, false
	}

	err := s.pool.CloneIn(ctx, req.ParentDir, req.Remote, req.Directory)
	resp := CloneInResponse{Error: ToServiceError(err)}
	return &Envelope{Kind: env.Kind, ID: env.ID, Payload: mustMarshal(resp)}, true
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only hand-constructed response structs reach here; a marshal
		// failure means a programming error, not a runtime condition.
		panic(fmt.Sprintf("rpc: marshal response: %v", err))
	}
	return data
}
