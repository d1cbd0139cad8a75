// Package tunnel implements the per-tunnel supervisor: one goroutine per
// tunnel that owns a single SSH child process over the tunnel's lifetime,
// classifies its output and exit code, and honours should_run and the
// reconnect delay. See the state machine and seven-step supervision loop in
// the design documentation.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sshtund/sshtund/internal/classify"
	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/sshclient"
	"github.com/sshtund/sshtund/internal/util"
)

// Starter spawns the external SSH client for t. Production code uses
// sshclient.Spawn; tests substitute a fake that writes scripted output and
// exits on its own schedule, without touching the network or a real ssh
// binary.
type Starter func(ctx context.Context, t *model.Tunnel) (*sshclient.Process, error)

// Supervisor owns one tunnel's worker goroutine. Mu is the manager's single
// table-wide lock, shared by reference so every mutation to Tunnel's fields
// happens under the same lock the registry and renderer observe. Running is
// the manager's global shutdown flag.
type Supervisor struct {
	Tunnel  *model.Tunnel
	Mu      *sync.Mutex
	Running *atomic.Bool
	Start   Starter
}

// New constructs a Supervisor with the production Starter if start is nil.
func New(t *model.Tunnel, mu *sync.Mutex, running *atomic.Bool, start Starter) *Supervisor {
	if start == nil {
		start = sshclient.Spawn
	}
	return &Supervisor{Tunnel: t, Mu: mu, Running: running, Start: start}
}

// Run executes the supervision loop until should_run goes false or the
// global running flag is cleared. It is meant to be launched in its own
// goroutine; the caller receives a signal via Tunnel.Done, which Run closes
// on return.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.Tunnel.Done)

	for {
		s.Mu.Lock()
		shouldRun := s.Tunnel.ShouldRun
		s.Mu.Unlock()
		if !shouldRun || !s.Running.Load() {
			s.setStopped()
			return
		}

		delay := s.attempt(ctx)

		s.Mu.Lock()
		stillRunning := s.Tunnel.ShouldRun && s.Running.Load()
		s.Mu.Unlock()
		if !stillRunning {
			s.setStopped()
			return
		}

		select {
		case <-ctx.Done():
			s.setStopped()
			return
		case <-time.After(delay):
		}
	}
}

// attempt runs one spawn-classify-wait cycle (supervision loop steps 1-6)
// and returns the reconnect delay to apply before the next attempt.
func (s *Supervisor) attempt(ctx context.Context) time.Duration {
	t := s.Tunnel

	// Step 1: under lock, set STARTING, bump restart_count and
	// last_restart.
	s.Mu.Lock()
	t.Status = model.Starting
	t.RestartCount++
	t.LastRestart = time.Now()
	restartCount := t.RestartCount
	delay := time.Duration(t.ReconnectDelay) * time.Second
	t.Log.Logf(restartCount, "starting attempt (%s)", t.Arrow())
	s.Mu.Unlock()

	// Step 2: spawn. Spawn failure -> ERROR, sleep, continue.
	proc, err := s.Start(ctx, t)
	if err != nil {
		s.Mu.Lock()
		t.Status = model.Error
		t.Log.Logf(restartCount, "spawn failed: %v", err)
		s.Mu.Unlock()
		return delay
	}

	var teardown sync.Once
	cleanup := func() {
		teardown.Do(func() {
			_ = proc.Kill()
			_ = proc.Output.Close()
		})
	}

	// Reap the child as soon as it exits: Wait closes the output pipe, so a
	// child that exits inside the settle window ends the drain early.
	var waitErr error
	waitDone := make(chan struct{})
	go func() {
		waitErr = proc.Wait()
		close(waitDone)
	}()

	// Step 3: settle window, then drain available output for
	// classification.
	settle := util.ForwardSettleWindow
	if t.Kind == model.Reverse {
		settle = util.ReverseSettleWindow
	}
	output := drainOutput(proc.Output, settle)

	// Step 4: classify early output. A match terminates the child and
	// applies the reconnect delay.
	if status, trigger, ok := classify.Classify(output); ok {
		s.Mu.Lock()
		t.Status = status
		t.Log.Logf(restartCount, "classified %s from output (matched %q)", status, trigger)
		s.Mu.Unlock()
		cleanup()
		<-waitDone
		return delay
	}

	// Step 5: otherwise RUNNING, block until the child exits.
	s.Mu.Lock()
	t.Status = model.Running
	t.Log.Logf(restartCount, "running")
	s.Mu.Unlock()

	<-waitDone
	cleanup()

	// Step 6: inspect exit code.
	s.Mu.Lock()
	switch {
	case isAuthExit(waitErr):
		t.Status = model.AuthError
		t.Log.Logf(restartCount, "exited with auth failure (exit 255)")
	case waitErr != nil:
		t.Status = model.Error
		t.Log.Logf(restartCount, "exited with error: %v", waitErr)
	default:
		if t.ShouldRun {
			t.Status = model.Reconnecting
			t.Log.Logf(restartCount, "exited cleanly, reconnecting")
		} else {
			t.Status = model.Stopped
			t.Log.Logf(restartCount, "exited cleanly, stopping")
		}
	}
	s.Mu.Unlock()

	return delay
}

func (s *Supervisor) setStopped() {
	s.Mu.Lock()
	s.Tunnel.Status = model.Stopped
	s.Tunnel.Log.Logf(s.Tunnel.RestartCount, "stopped")
	s.Mu.Unlock()
}

// drainOutput reads whatever output the child produces within window and
// returns it as one string for classification. It never blocks past window,
// returning the lines accumulated so far the instant window elapses — a
// client that prints its failure and then keeps the session open (the
// common case for PORT_ERROR and several AUTH_ERROR triggers) must still
// classify on that output, not just one that exits before window is up. If r
// reaches EOF first (the child exited), it returns at once. The scanning
// goroutine keeps running past window until r reaches EOF or is closed by the
// caller's cleanup; it publishes its running accumulation into a
// single-slot channel, overwriting any unread snapshot, so it never blocks
// on a reader that has already stopped looking.
func drainOutput(r io.Reader, window time.Duration) string {
	updates := make(chan string, 1)
	go func() {
		var acc []byte
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			acc = append(acc, scanner.Bytes()...)
			acc = append(acc, '\n')
			publish(updates, string(acc))
		}
		close(updates)
	}()

	var latest string
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case text, ok := <-updates:
			if !ok {
				return latest
			}
			latest = text
		case <-timer.C:
			return latest
		}
	}
}

// publish overwrites ch's single slot with text without ever blocking,
// discarding a prior unread snapshot in favor of the newer one.
func publish(ch chan string, text string) {
	select {
	case ch <- text:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- text
	}
}

func isAuthExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == 255
}
