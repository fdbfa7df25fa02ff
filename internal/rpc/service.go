package rpc

// LookupOrCloneRequest is the payload for KindLookupOrClone.
type LookupOrCloneRequest struct {
	Remote string `json:"remote"`
}

// LookupOrCloneResponse carries either a pooled path or a service error.
// Exactly one of Path/Error is set on success/failure respectively.
type LookupOrCloneResponse struct {
	Path  string        `json:"path,omitempty"`
	Error *ServiceError `json:"error,omitempty"`
}

// LookupRequest is the payload for KindLookup.
type LookupRequest struct {
	Remote string `json:"remote"`
}

// LookupResponse models Option<Result<path, service_error>>: Found=false
// means no entry exists or it is still in flight; Found=true means a
// settled outcome, in Path or Error.
type LookupResponse struct {
	Found bool          `json:"found"`
	Path  string        `json:"path,omitempty"`
	Error *ServiceError `json:"error,omitempty"`
}

// CloneInRequest is the payload for KindCloneIn. ParentDir and Directory
// are optional; an empty string means "caller did not specify".
type CloneInRequest struct {
	Remote    string `json:"remote"`
	ParentDir string `json:"parent_dir,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// CloneInResponse carries only a service error, if any; success has no payload.
type CloneInResponse struct {
	Error *ServiceError `json:"error,omitempty"`
}

// ServiceError is the wire shape of a service-level (as opposed to
// transport-level) error: the clone failed, or launching it failed. It is
// the widening the RPC contract applies on top of the Pool's own error
// kinds (spec.md §4.2) — every value still distinguishes "clone failed"
// from "io error" by Kind so a client can errors.As-match it locally via
// FromServiceError.
type ServiceError struct {
	Kind   string `json:"kind"` // "clone_failed" | "io"
	Remote string `json:"remote"`
	Detail string `json:"detail"`
}

func (e *ServiceError) Error() string {
	return e.Kind + ": " + e.Remote + ": " + e.Detail
}
