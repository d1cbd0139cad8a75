// Package sshclient builds and launches the external SSH client process that
// carries one tunnel's port forward. It never implements the SSH protocol
// itself — it shells out to the system "ssh" binary, passing all arguments
// via argv (never shell interpolation), so the tunnel's host/user/key fields
// can never be used for command injection.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/sshtund/sshtund/internal/errs"
	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/util"
)

// Process wraps a running SSH child process. stdout and stderr are merged
// into a single io.Reader via Output so the supervisor can classify combined
// diagnostic text, exactly as the invocation contract requires.
type Process struct {
	Cmd    *exec.Cmd
	Output io.ReadCloser

	pipeW *io.PipeWriter
}

// Wait blocks until the child exits, then closes the merged output pipe so
// any pending Output reader observes EOF. It must be called exactly once per
// Process, mirroring exec.Cmd.Wait's own one-call contract.
func (p *Process) Wait() error {
	err := p.Cmd.Wait()
	_ = p.pipeW.Close()
	return err
}

// Kill terminates the child process immediately. Used when the supervisor
// must tear down a tunnel without waiting for a graceful exit, e.g. after
// the child's early output was classified as a failure.
func (p *Process) Kill() error {
	if p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Kill()
}

// EnsureSSHBinary checks that "ssh" is available on PATH. Called once at
// startup so a missing SSH client fails fast with a clear message instead of
// surfacing as a confusing per-tunnel spawn error.
func EnsureSSHBinary() error {
	if _, err := exec.LookPath("ssh"); err != nil {
		return errs.New("ssh binary not found in PATH", fmt.Sprintf("exec.LookPath(\"ssh\"): %v", err))
	}
	return nil
}

// BuildArgs constructs the SSH argument vector for t without starting a
// process. It is a pure function so the "debug" REPL command can reproduce
// the exact command line that Spawn would run.
//
// Forward tunnels get -L localPort:remoteHost:remotePort; reverse tunnels
// get -R remotePort:remoteHost:localPort. Both get the full fixed option
// set: no-command mode, connect-timeout 10s, server-alive interval 30s,
// identities-only, batch mode, strict host key checking disabled.
func BuildArgs(t *model.Tunnel) []string {
	args := []string{
		"-N",
		"-i", t.SSHKey,
		"-p", itoa(t.Port),
		"-o", fmt.Sprintf("ConnectTimeout=%d", util.SSHConnectTimeoutSeconds),
		"-o", fmt.Sprintf("ServerAliveInterval=%d", util.SSHServerAliveIntervalSeconds),
		"-o", "IdentitiesOnly=yes",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=no",
	}

	remote := util.NormalizeAddr(t.RemoteHost, "localhost")
	if t.Kind == model.Reverse {
		args = append(args, "-R", fmt.Sprintf("%d:%s:%d", t.RemotePort, remote, t.LocalPort))
	} else {
		args = append(args, "-L", fmt.Sprintf("%d:%s:%d", t.LocalPort, remote, t.RemotePort))
	}

	args = append(args, fmt.Sprintf("%s@%s", t.User, t.Host))
	return args
}

// Spawn starts the SSH client process for t. The context governs the
// process's lifetime: cancelling it kills the child. stdout and stderr are
// merged into one pipe so the supervisor can classify the combined output
// stream per the invocation contract; the SSH client itself never receives
// stdin (batch mode never prompts).
func Spawn(ctx context.Context, t *model.Tunnel) (*Process, error) {
	return SpawnCommand(ctx, "ssh", BuildArgs(t))
}

// SpawnCommand starts name with args, merging its stdout and stderr into one
// Process.Output stream exactly as Spawn does. It is exported so tests can
// substitute a scripted fake child (e.g. "sh -c '...'") in place of the real
// ssh binary without needing any unexported fields of Process.
func SpawnCommand(ctx context.Context, name string, args []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil

	r, w := io.Pipe()
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		_ = w.Close()
		_ = r.Close()
		return nil, errs.New(
			fmt.Sprintf("failed to start %s client", name),
			fmt.Sprintf("exec.CommandContext(%s, %v).Start(): %v", name, args, err),
		)
	}

	return &Process{Cmd: cmd, Output: r, pipeW: w}, nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
