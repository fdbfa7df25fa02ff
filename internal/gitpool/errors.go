package gitpool

import "fmt"

// CloneFailed is returned when the external git process exits non-zero.
// It is cached as the entry's terminal value: every subsequent call for
// the same remote returns this same error without re-invoking git.
type CloneFailed struct {
	Remote string
	Detail string // e.g. "exit status 128"
}

func (e *CloneFailed) Error() string {
	return fmt.Sprintf("clone %q failed: %s", e.Remote, e.Detail)
}

// Io is returned when launching the external process itself failed
// (binary missing, permission denied, working directory unusable). Like
// CloneFailed, it is cached permanently against the remote.
type Io struct {
	Remote string
	Detail string
}

func (e *Io) Error() string {
	return fmt.Sprintf("clone %q: io error: %s", e.Remote, e.Detail)
}
