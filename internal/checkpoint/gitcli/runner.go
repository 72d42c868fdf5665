// Package gitcli invokes the external git binary against checkpoint
// repositories and parses its textual output. All invocations address the
// repository explicitly via --git-dir; nothing depends on the process
// working directory.
package gitcli

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a single git command and returns its output.
//
// A non-nil error covers both launch failures and non-zero exits; callers
// that have a documented fallback form retry on it, everything else wraps it
// into a subprocess-failure error. Tests inject a fake Runner so no real
// subprocess is needed.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout string, stderr string, err error)
	// CommandString renders the command line for the given args, for
	// logging and for DiffResult audit trails.
	CommandString(args ...string) string
}

// ExecRunner runs git via os/exec with a bounded per-invocation timeout.
type ExecRunner struct {
	binary  string
	timeout time.Duration
}

// NewExecRunner creates a runner for the given git binary. A zero timeout
// disables the bound.
func NewExecRunner(binary string, timeout time.Duration) *ExecRunner {
	if binary == "" {
		binary = "git"
	}
	return &ExecRunner{binary: binary, timeout: timeout}
}

// Run executes the git command and returns stdout/stderr. The context
// timeout guarantees the caller sees an error rather than a hang.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

// CommandString renders the full command line for logging and audit trails.
func (r *ExecRunner) CommandString(args ...string) string {
	return r.binary + " " + strings.Join(args, " ")
}
