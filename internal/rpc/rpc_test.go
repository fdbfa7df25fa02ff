package rpc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/gitpool/internal/gitpool"
)

func writeStubGit(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub git: %v", err)
	}
	return path
}

func TestClientLookupOrCloneRoundTrip(t *testing.T) {
	gitBin := writeStubGit(t, `mkdir -p "$3"
exit 0
`)
	pool, err := gitpool.New(gitpool.WithGitBinary(gitBin))
	if err != nil {
		t.Fatalf("gitpool.New: %v", err)
	}
	defer pool.Shutdown()

	srv := NewServer(pool)
	if err := srv.Start("127.0.0.1:17771"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	time.Sleep(20 * time.Millisecond) // let Accept loop spin up

	client, err := Dial("127.0.0.1:17771")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	path, cloneErr, transportErr := client.LookupOrClone(ctx, "u1")
	if transportErr != nil {
		t.Fatalf("transport error: %v", transportErr)
	}
	if cloneErr != nil {
		t.Fatalf("clone error: %v", cloneErr)
	}
	if path == "" {
		t.Fatalf("expected a non-empty path")
	}
}

// S6: a client deadline shorter than the clone's duration surfaces a
// TransportError; a later call for the same remote still observes the
// settled result once the server-side clone has finished.
func TestClientDeadlineExceeded(t *testing.T) {
	gitBin := writeStubGit(t, `sleep 0.5
mkdir -p "$3"
exit 0
`)
	pool, err := gitpool.New(gitpool.WithGitBinary(gitBin))
	if err != nil {
		t.Fatalf("gitpool.New: %v", err)
	}
	defer pool.Shutdown()

	srv := NewServer(pool)
	if err := srv.Start("127.0.0.1:17772"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	time.Sleep(20 * time.Millisecond)

	client, err := Dial("127.0.0.1:17772")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, transportErr := client.LookupOrClone(ctx, "u1")
	if transportErr == nil {
		t.Fatalf("expected a transport error on short deadline")
	}
	var te *TransportError
	if !errors.As(transportErr, &te) {
		t.Fatalf("expected *TransportError, got %T", transportErr)
	}

	// The server-side clone continues past the client's abandoned
	// connection; a fresh client after it settles should see the result.
	time.Sleep(700 * time.Millisecond)

	client2, err := Dial("127.0.0.1:17772")
	if err != nil {
		t.Fatalf("Dial (2nd client): %v", err)
	}
	defer client2.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()

	path, cloneErr, transportErr2 := client2.LookupOrClone(ctx2, "u1")
	if transportErr2 != nil {
		t.Fatalf("transport error on 2nd call: %v", transportErr2)
	}
	if cloneErr != nil {
		t.Fatalf("clone error on 2nd call: %v", cloneErr)
	}
	if path == "" {
		t.Fatalf("expected a non-empty path on 2nd call")
	}
}

func TestServerUnknownKindDropsRequest(t *testing.T) {
	gitBin := writeStubGit(t, "exit 0\n")
	pool, err := gitpool.New(gitpool.WithGitBinary(gitBin))
	if err != nil {
		t.Fatalf("gitpool.New: %v", err)
	}
	defer pool.Shutdown()

	srv := NewServer(pool)
	env, ok := srv.dispatch(&Envelope{Kind: "bogus", ID: "1"})
	if ok || env != nil {
		t.Fatalf("expected dispatch to drop unknown kinds, got %+v, %v", env, ok)
	}
}
