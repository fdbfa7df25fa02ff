package poolhelper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/gitpool/internal/gitpool"
)

func withStubGitOnPath(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub git: %v", err)
	}

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func TestConnectOrLocalWithoutEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	os.Unsetenv(EnvEndpoint)

	h, err := ConnectOrLocal()
	if err != nil {
		t.Fatalf("ConnectOrLocal: %v", err)
	}
	if h.client != nil {
		t.Fatalf("expected Local mode, got a Client")
	}
}

func TestCloneInLocalSuccess(t *testing.T) {
	withStubGitOnPath(t, "mkdir -p \"$2\"\nexit 0\n")
	os.Unsetenv(EnvEndpoint)

	h, err := ConnectOrLocal()
	if err != nil {
		t.Fatalf("ConnectOrLocal: %v", err)
	}

	dest := t.TempDir()
	svcErr, transportErr := h.CloneIn(context.Background(), dest, "u1", "repo")
	if transportErr != nil {
		t.Fatalf("unexpected transport error: %v", transportErr)
	}
	if svcErr != nil {
		t.Fatalf("unexpected service error: %v", svcErr)
	}
}

func TestCloneInLocalFailure(t *testing.T) {
	withStubGitOnPath(t, "exit 128\n")
	os.Unsetenv(EnvEndpoint)

	h, err := ConnectOrLocal()
	if err != nil {
		t.Fatalf("ConnectOrLocal: %v", err)
	}

	svcErr, transportErr := h.CloneIn(context.Background(), t.TempDir(), "bad", "")
	if transportErr != nil {
		t.Fatalf("unexpected transport error: %v", transportErr)
	}
	var failed *gitpool.CloneFailed
	if !errors.As(svcErr, &failed) {
		t.Fatalf("expected *gitpool.CloneFailed, got %T: %v", svcErr, svcErr)
	}
}
