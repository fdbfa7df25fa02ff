// Package poolhelper provides the caller-facing façade: if an RPC
// endpoint is configured, every call proxies to a remote Server; if not,
// the external VCS binary is run in-process with no cross-process
// deduplication. The choice between the two is invisible to callers.
package poolhelper

import (
	"context"
	"os"
	"os/exec"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/gitpool/internal/gitpool"
	"github.com/oriys/gitpool/internal/logging"
	"github.com/oriys/gitpool/internal/rpc"
)

// EnvEndpoint is the environment variable naming the RPC endpoint.
const EnvEndpoint = "CONCURRENT_GIT_POOL"

// PoolHelper is polymorphic over {Local, Remote(Client)}: exactly one of
// its two modes is active for the lifetime of the helper.
type PoolHelper struct {
	client *rpc.Client // non-nil in Remote mode

	// local dedups identical concurrent clone_in invocations within this
	// one process. This is NOT a spec-level guarantee — Local mode has no
	// cross-process dedup contract — it only prevents two goroutines in
	// the same process from redundantly racing the same git invocation.
	local *singleflight.Group
}

// ConnectOrLocal reads CONCURRENT_GIT_POOL; if set, its value is a Client
// endpoint address and every CloneIn call proxies over RPC. If unset,
// CloneIn runs git directly with no cross-process dedup.
func ConnectOrLocal() (*PoolHelper, error) {
	if endpoint := os.Getenv(EnvEndpoint); endpoint != "" {
		logging.Op().Info("poolhelper connecting to remote pool", "endpoint", endpoint)
		client, err := rpc.Dial(endpoint)
		if err != nil {
			return nil, err
		}
		return &PoolHelper{client: client}, nil
	}
	return &PoolHelper{local: &singleflight.Group{}}, nil
}

// CloneIn materializes a working copy for remote. The outer error
// expresses transport health (always nil in Local mode); the inner
// error, if any, is the clone's own outcome.
func (h *PoolHelper) CloneIn(ctx context.Context, parentDir, remote, directory string) (serviceErr error, transportErr error) {
	if h.client != nil {
		return h.client.CloneIn(ctx, parentDir, remote, directory)
	}
	return h.cloneLocal(parentDir, remote, directory), nil
}

// Close releases the underlying RPC connection, if any.
func (h *PoolHelper) Close() error {
	if h.client != nil {
		return h.client.Close()
	}
	return nil
}

func (h *PoolHelper) cloneLocal(parentDir, remote, directory string) error {
	key := parentDir + "\x00" + remote + "\x00" + directory
	v, err, _ := h.local.Do(key, func() (interface{}, error) {
		return nil, runGitClone(parentDir, remote, directory)
	})
	_ = v
	return err
}

func runGitClone(parentDir, remote, directory string) error {
	args := []string{"clone", remote}
	if directory != "" {
		args = append(args, directory)
	}

	cmd := exec.Command("git", args...)
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_SSH_COMMAND=ssh -o BatchMode=yes",
	)
	if parentDir != "" {
		cmd.Dir = parentDir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return &gitpool.CloneFailed{Remote: remote, Detail: string(out)}
		}
		return &gitpool.Io{Remote: remote, Detail: err.Error()}
	}
	return nil
}
