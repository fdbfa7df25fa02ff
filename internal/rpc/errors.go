package rpc

import (
	"errors"
	"fmt"

	"github.com/oriys/gitpool/internal/gitpool"
)

// TransportError wraps a failure of the RPC mechanism itself — deadline
// exceeded, connection reset, decode error — as distinct from a
// ServiceError (the clone itself failed). It is never cached: a transport
// error is purely a property of one call, not of a remote's cache entry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToServiceError converts a Pool-level error into its wire shape. Returns
// nil if err is nil.
func ToServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var cloneFailed *gitpool.CloneFailed
	if errors.As(err, &cloneFailed) {
		return &ServiceError{Kind: "clone_failed", Remote: cloneFailed.Remote, Detail: cloneFailed.Detail}
	}
	var ioErr *gitpool.Io
	if errors.As(err, &ioErr) {
		return &ServiceError{Kind: "io", Remote: ioErr.Remote, Detail: ioErr.Detail}
	}
	return &ServiceError{Kind: "io", Detail: err.Error()}
}

// FromServiceError reconstructs a local error from its wire shape.
// Returns nil if se is nil.
func FromServiceError(se *ServiceError) error {
	if se == nil {
		return nil
	}
	switch se.Kind {
	case "clone_failed":
		return &gitpool.CloneFailed{Remote: se.Remote, Detail: se.Detail}
	default:
		return &gitpool.Io{Remote: se.Remote, Detail: se.Detail}
	}
}
