// Package gitpool implements the single-flight clone cache: at-most-one
// in-flight external "git clone" per remote, with every concurrent or
// subsequent caller for that remote funneled onto the one result.
//
// # Design rationale
//
// The cache entry is a tagged union, not a single struct with optional
// fields: an entry is either InFlight (a clone is running, with a
// completion handle every waiter can cheaply share) or Settled (a path or
// a permanently cached error). This mirrors the bookkeeping the teacher
// uses for its VM pool's warm-slot accounting, adapted here from "warm VM
// slot" to "settled clone result".
//
// # Concurrency model
//
//   - The cache mutex guards only map lookup/insert; it is never held
//     across the external git invocation.
//   - The clone itself runs in a goroutine detached from any single
//     caller's context: if the caller that happened to insert the
//     InFlight entry is cancelled, the clone keeps running and still
//     settles the entry for every other (and future) waiter. This is the
//     chosen resolution of the "producer cancelled" open question — the
//     Pool, not any individual caller, owns the clone's lifetime.
//   - A caller's own wait on an in-flight entry is itself cancellable via
//     its context; cancelling it only detaches that caller, it does not
//     touch the clone or any other waiter.
//
// # Invariants
//
//   - At most one external git process runs per remote at any time.
//   - Once settled, an entry never transitions back to InFlight.
//   - A settled error is permanent: lookupOrClone never re-invokes git for
//     a remote whose entry already holds an error.
package gitpool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/gitpool/internal/logging"
	"github.com/oriys/gitpool/internal/metrics"
	"github.com/oriys/gitpool/internal/observability"
	"github.com/oriys/gitpool/internal/pkg/crypto"
)

const gitBinDefault = "git"

// entryState tags which payload field of a cacheEntry is valid.
type entryState int

const (
	stateInFlight entryState = iota
	stateSettled
)

// settledResult is the terminal value of a cache entry: a pooled path on
// success, or a permanently cached error.
type settledResult struct {
	path string
	err  error
}

// inflightCall is the shared, multi-consumer completion handle for a
// clone in progress. Many waiters hold a pointer to the same inflightCall;
// none of them re-runs the clone. done is closed exactly once, after
// result is written, so every reader of result happens-after the write.
type inflightCall struct {
	done   chan struct{}
	result *settledResult

	mu  sync.Mutex
	cmd *exec.Cmd // the running git process, set once Start succeeds
}

func (c *inflightCall) setCmd(cmd *exec.Cmd) {
	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()
}

// kill terminates the clone's process group, if it has started.
func (c *inflightCall) kill() {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

type cacheEntry struct {
	state    entryState
	inflight *inflightCall
	settled  *settledResult
}

// Pool owns the pool root directory and the single-flight cache map. It
// is created once per server process and destroyed at shutdown, at which
// point the pool root and any still-running clones are torn down.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	root    string
	ownsDir bool
	gitBin  string

	closed bool
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithRootDir overrides the pool root instead of creating an ephemeral
// temp directory. The Pool does not take ownership of (and will not
// remove) a caller-supplied root on Shutdown.
func WithRootDir(dir string) Option {
	return func(p *Pool) {
		p.root = dir
		p.ownsDir = false
	}
}

// WithGitBinary overrides the "git" executable name/path, primarily for
// tests that stub the VCS binary.
func WithGitBinary(path string) Option {
	return func(p *Pool) {
		p.gitBin = path
	}
}

// New constructs a Pool. Unless WithRootDir is given, the pool root is a
// fresh process-lifetime temporary directory owned exclusively by this
// Pool and removed on Shutdown.
func New(opts ...Option) (*Pool, error) {
	p := &Pool{
		entries: make(map[string]*cacheEntry),
		gitBin:  gitBinDefault,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.root == "" {
		dir, err := os.MkdirTemp("", "gitpool-")
		if err != nil {
			return nil, fmt.Errorf("create pool root: %w", err)
		}
		p.root = dir
		p.ownsDir = true
	}

	return p, nil
}

// Root returns the pool root directory.
func (p *Pool) Root() string {
	return p.root
}

// Shutdown aborts every in-flight clone (process-group SIGKILL) and, if
// this Pool owns its root directory, removes it and its contents.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var inflight []*inflightCall
	for _, e := range p.entries {
		if e.state == stateInFlight {
			inflight = append(inflight, e.inflight)
		}
	}
	p.mu.Unlock()

	for _, c := range inflight {
		c.kill()
	}

	if p.ownsDir {
		return os.RemoveAll(p.root)
	}
	return nil
}

// updateGaugesLocked refreshes the in-flight/total pool-entry gauges. The
// cache mutex must be held by the caller.
func (p *Pool) updateGaugesLocked() {
	inFlight := 0
	for _, e := range p.entries {
		if e.state == stateInFlight {
			inFlight++
		}
	}
	metrics.SetInFlightClones(inFlight)
	metrics.SetPoolEntries(len(p.entries))
}

// Lookup returns (path, err, true) if a settled result exists for remote,
// or ("", nil, false) if no entry exists or the entry is still InFlight.
// It never blocks on a clone and never mutates cache state.
func (p *Pool) Lookup(remote string) (string, error, bool) {
	p.mu.Lock()
	entry, ok := p.entries[remote]
	p.mu.Unlock()

	if !ok || entry.state != stateSettled {
		metrics.Global().RecordCacheMiss()
		return "", nil, false
	}
	metrics.Global().RecordCacheHit()
	return entry.settled.path, entry.settled.err, true
}

// LookupOrClone returns the pooled path for remote, performing at most
// one external clone across all concurrent callers. It suspends until the
// outcome is known. Cancelling ctx detaches this caller only; the clone
// (if this caller happened to start it) keeps running to completion.
func (p *Pool) LookupOrClone(ctx context.Context, remote string) (string, error) {
	start := time.Now()
	path, err, joined := p.lookupOrClone(ctx, remote)
	metrics.Global().RecordClone(time.Since(start).Milliseconds(), err == nil, joined)
	return path, err
}

func (p *Pool) lookupOrClone(ctx context.Context, remote string) (path string, err error, joined bool) {
	ctx, span := observability.StartSpan(ctx, "gitpool.lookup_or_clone",
		observability.AttrRemote.String(remote))
	defer span.End()

	p.mu.Lock()
	entry, ok := p.entries[remote]
	if ok {
		switch entry.state {
		case stateSettled:
			p.mu.Unlock()
			span.SetAttributes(observability.AttrJoinedInFlight.Bool(false))
			observability.SetSpanOK(span)
			return entry.settled.path, entry.settled.err, true
		case stateInFlight:
			call := entry.inflight
			p.mu.Unlock()
			span.SetAttributes(observability.AttrJoinedInFlight.Bool(true))
			r, werr := p.awaitCall(ctx, call)
			if werr != nil {
				observability.SetSpanError(span, werr)
				return "", werr, true
			}
			if r.err != nil {
				observability.SetSpanError(span, r.err)
			} else {
				observability.SetSpanOK(span)
			}
			return r.path, r.err, true
		}
	}

	// Absent: this goroutine becomes the producer. Insert InFlight before
	// releasing the mutex so every later arrival for remote observes
	// InFlight, never Vacant, per the single-flight algorithm.
	call := &inflightCall{done: make(chan struct{})}
	p.entries[remote] = &cacheEntry{state: stateInFlight, inflight: call}
	p.updateGaugesLocked()
	p.mu.Unlock()
	span.SetAttributes(observability.AttrJoinedInFlight.Bool(false))

	// The clone runs detached from ctx: if this caller is cancelled, the
	// clone and the settling of the entry still complete for everyone
	// else waiting on call.done.
	go p.produce(remote, call)

	r, werr := p.awaitCall(ctx, call)
	if werr != nil {
		observability.SetSpanError(span, werr)
		return "", werr, false
	}
	if r.err != nil {
		observability.SetSpanError(span, r.err)
	} else {
		observability.SetSpanOK(span)
	}
	return r.path, r.err, false
}

// awaitCall waits for call to settle or for ctx to be cancelled first,
// whichever happens sooner. A cancellation here is a transport-free local
// wait abort; it never signals the producing goroutine.
func (p *Pool) awaitCall(ctx context.Context, call *inflightCall) (*settledResult, error) {
	select {
	case <-call.done:
		return call.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// produce runs the external clone for remote and settles its cache entry.
// It is invoked exactly once per remote, from a goroutine detached from
// any particular caller's context.
func (p *Pool) produce(remote string, call *inflightCall) {
	result := p.runClone(remote, call)
	call.result = &result

	p.mu.Lock()
	p.entries[remote] = &cacheEntry{state: stateSettled, settled: &result}
	p.updateGaugesLocked()
	p.mu.Unlock()

	close(call.done)
}

// runClone invokes "git clone <remote> <hash(remote)>" in the pool root.
// Exit status zero is success; the pooled path is pool_root/hash(remote).
func (p *Pool) runClone(remote string, call *inflightCall) settledResult {
	destName := crypto.HashString(remote)
	dest := filepath.Join(p.root, destName)

	// A background context: detached from any caller, bounded only by
	// Pool.Shutdown's process-group kill.
	cmd := exec.CommandContext(context.Background(), p.gitBin, "clone", remote, destName)
	cmd.Dir = p.root
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logging.Op().Info("clone starting", "remote", remote, "dest", dest)
	startedAt := time.Now()

	if err := cmd.Start(); err != nil {
		ioErr := &Io{Remote: remote, Detail: err.Error()}
		logging.Default().Log(&logging.CloneLog{
			Remote: remote, PoolPath: dest, Success: false,
			Error: ioErr.Error(), DurationMs: time.Since(startedAt).Milliseconds(),
		})
		return settledResult{err: ioErr}
	}
	call.setCmd(cmd)

	err := cmd.Wait()
	durationMs := time.Since(startedAt).Milliseconds()

	if err != nil {
		failed := &CloneFailed{Remote: remote, Detail: err.Error()}
		logging.Default().Log(&logging.CloneLog{
			Remote: remote, PoolPath: dest, Success: false,
			Error: failed.Error(), DurationMs: durationMs,
		})
		return settledResult{err: failed}
	}

	logging.Default().Log(&logging.CloneLog{
		Remote: remote, PoolPath: dest, Success: true, DurationMs: durationMs,
	})
	return settledResult{path: dest}
}

// CloneIn materializes a working copy for the caller: it first obtains
// the pooled path via LookupOrClone, then invokes git to produce a new
// working copy that borrows objects from the pool via
// "--reference <pool_path> --dissociate" — the produced copy survives
// deletion of the pool.
func (p *Pool) CloneIn(ctx context.Context, parentDir, remote, directory string) error {
	ctx, span := observability.StartSpan(ctx, "gitpool.clone_in",
		observability.AttrRemote.String(remote))
	defer span.End()

	poolPath, err := p.LookupOrClone(ctx, remote)
	if err != nil {
		observability.SetSpanError(span, err)
		return err
	}

	args := []string{"clone", remote}
	if directory != "" {
		args = append(args, directory)
	}
	args = append(args, "--reference", poolPath, "--dissociate")

	cmd := exec.CommandContext(ctx, p.gitBin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if parentDir != "" {
		cmd.Dir = parentDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			cloneErr := &CloneFailed{Remote: remote, Detail: fmt.Sprintf("%s: %s", err, string(out))}
			observability.SetSpanError(span, cloneErr)
			return cloneErr
		}
		ioErr := &Io{Remote: remote, Detail: err.Error()}
		observability.SetSpanError(span, ioErr)
		return ioErr
	}

	observability.SetSpanOK(span)
	return nil
}
