package gitpool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oriys/gitpool/internal/pkg/crypto"
)

// writeStubGit writes a stub git executable to a fresh temp dir and
// returns its path. Every invocation appends a line to countFile so tests
// can assert how many times the external process was actually spawned.
func writeStubGit(t *testing.T, countFile string, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	script := "#!/bin/sh\necho invoked >> " + countFile + "\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub git: %v", err)
	}
	return path
}

func countInvocations(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatalf("read count file: %v", err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func newTestPool(t *testing.T, gitBin string) *Pool {
	t.Helper()
	p, err := New(WithGitBinary(gitBin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Shutdown() })
	return p
}

// S1: two concurrent first-requests for the same remote spawn git exactly once.
func TestLookupOrCloneSingleFlight(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `mkdir -p "$3"
exit 0
`)
	p := newTestPool(t, gitBin)

	var wg sync.WaitGroup
	paths := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = p.LookupOrClone(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if paths[0] != paths[1] {
		t.Fatalf("paths differ: %q vs %q", paths[0], paths[1])
	}
	if want := crypto.HashString("u1"); filepath.Base(paths[0]) != want {
		t.Fatalf("pooled path basename %q != hex_sha256(remote) %q", filepath.Base(paths[0]), want)
	}
	if got := countInvocations(t, counts); got != 1 {
		t.Fatalf("git invoked %d times, want 1", got)
	}
}

// S2: lookup after settle returns the same path without blocking.
func TestLookupAfterSettle(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `mkdir -p "$3"
exit 0
`)
	p := newTestPool(t, gitBin)

	path, err := p.LookupOrClone(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LookupOrClone: %v", err)
	}

	got, lookupErr, ok := p.Lookup("u1")
	if !ok {
		t.Fatalf("Lookup: expected a settled entry")
	}
	if lookupErr != nil {
		t.Fatalf("Lookup: unexpected error: %v", lookupErr)
	}
	if got != path {
		t.Fatalf("Lookup path %q != LookupOrClone path %q", got, path)
	}
}

// Non-blocking lookup invariant: Lookup returns ok=false while a clone of
// that remote is in flight.
func TestLookupNonBlockingWhileInFlight(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `sleep 0.2
mkdir -p "$3"
exit 0
`)
	p := newTestPool(t, gitBin)

	done := make(chan struct{})
	go func() {
		p.LookupOrClone(context.Background(), "u1")
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, _, ok := p.Lookup("u1"); ok {
		t.Fatalf("Lookup returned settled while clone still in flight")
	}
	<-done

	if _, _, ok := p.Lookup("u1"); !ok {
		t.Fatalf("Lookup did not observe the settled entry after clone finished")
	}
}

// S3: a failing clone is cached permanently; git is invoked exactly once.
func TestFailureCachedPermanently(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `exit 128
`)
	p := newTestPool(t, gitBin)

	_, err1 := p.LookupOrClone(context.Background(), "bad")
	if err1 == nil {
		t.Fatalf("expected an error from the failing stub")
	}
	var failed1 *CloneFailed
	if !errors.As(err1, &failed1) {
		t.Fatalf("expected *CloneFailed, got %T: %v", err1, err1)
	}

	_, err2 := p.LookupOrClone(context.Background(), "bad")
	if err2 == nil {
		t.Fatalf("expected the cached error again")
	}
	var failed2 *CloneFailed
	if !errors.As(err2, &failed2) {
		t.Fatalf("expected *CloneFailed, got %T: %v", err2, err2)
	}
	if failed1.Detail != failed2.Detail || failed1.Remote != failed2.Remote {
		t.Fatalf("cached error changed between calls: %v vs %v", failed1, failed2)
	}

	if got := countInvocations(t, counts); got != 1 {
		t.Fatalf("git invoked %d times, want 1", got)
	}
}

// S4: distinct remotes clone in parallel, not serialized behind the cache lock.
func TestDistinctRemotesRunInParallel(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `sleep 0.2
mkdir -p "$3"
exit 0
`)
	p := newTestPool(t, gitBin)

	start := time.Now()
	var wg sync.WaitGroup
	for _, remote := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(remote string) {
			defer wg.Done()
			if _, err := p.LookupOrClone(context.Background(), remote); err != nil {
				t.Errorf("LookupOrClone(%s): %v", remote, err)
			}
		}(remote)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Fatalf("clones took %v, expected parallel completion under 350ms", elapsed)
	}
}

// S5: cancelling one waiter does not cancel the clone; a second requester
// still observes the same successful result.
func TestCancellationDoesNotAbortClone(t *testing.T) {
	counts := filepath.Join(t.TempDir(), "counts")
	gitBin := writeStubGit(t, counts, `sleep 0.2
mkdir -p "$3"
exit 0
`)
	p := newTestPool(t, gitBin)

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() {
		_, err := p.LookupOrClone(ctxA, "u1")
		doneA <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancelA()
	if err := <-doneA; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller A: expected context.Canceled, got %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	path, err := p.LookupOrClone(context.Background(), "u1")
	if err != nil {
		t.Fatalf("caller B: unexpected error: %v", err)
	}
	if path == "" {
		t.Fatalf("caller B: expected a non-empty path")
	}

	if got := countInvocations(t, counts); got != 1 {
		t.Fatalf("git invoked %d times, want 1", got)
	}
}

// Io error: a missing binary surfaces as *Io, not *CloneFailed.
func TestMissingBinaryYieldsIoError(t *testing.T) {
	p := newTestPool(t, filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := p.LookupOrClone(context.Background(), "u1")
	if err == nil {
		t.Fatalf("expected an error")
	}
	var ioErr *Io
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *Io, got %T: %v", err, err)
	}
}

func TestShutdownRemovesOwnedRoot(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root := p.Root()
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("pool root missing before shutdown: %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("pool root still present after shutdown")
	}
}
