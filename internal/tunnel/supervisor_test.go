package tunnel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/sshclient"
)

// fakeLog is an in-memory model.LogSink so tests don't touch the filesystem.
type fakeLog struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeLog) Logf(restartCount int, format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
}
func (f *fakeLog) Close() error { return nil }

func newTestTunnel(kind model.Kind, delaySeconds int) *model.Tunnel {
	return &model.Tunnel{
		Name:           "t1",
		User:           "u",
		Host:           "h",
		Port:           22,
		SSHKey:         "/tmp/key",
		Kind:           kind,
		LocalPort:      18080,
		RemoteHost:     "internal",
		RemotePort:     80,
		ReconnectDelay: delaySeconds,
		ShouldRun:      true,
		Log:            &fakeLog{},
		Done:           make(chan struct{}),
	}
}

// writeThenRunStarter spawns a real, short-lived "sh" process that prints
// output to its combined stdout+stderr and then sleeps for runFor before
// exiting 0. This is the fake SSH child the supervision loop classifies
// against, grounded on the teacher's pattern of faking a long-running child
// with a real short-lived process rather than mocking the SSH protocol.
func writeThenRunStarter(output string, runFor time.Duration) Starter {
	return func(ctx context.Context, t *model.Tunnel) (*sshclient.Process, error) {
		script := fmt.Sprintf("printf %s; sleep %g", shQuote(output), runFor.Seconds())
		return sshclient.SpawnCommand(ctx, "sh", []string{"-c", script})
	}
}

// exitWithCodeStarter spawns a child that exits immediately with the given
// code, used for exercising the exit-code branch of the supervision loop
// (255 -> AUTH_ERROR, other nonzero -> ERROR).
func exitWithCodeStarter(code int) Starter {
	return func(ctx context.Context, t *model.Tunnel) (*sshclient.Process, error) {
		return sshclient.SpawnCommand(ctx, "sh", []string{"-c", fmt.Sprintf("exit %d", code)})
	}
}

// runningLongStarter spawns a child that outlives any test timeout unless
// explicitly killed, used for exercising the stop path.
func runningLongStarter() Starter {
	return func(ctx context.Context, t *model.Tunnel) (*sshclient.Process, error) {
		return sshclient.SpawnCommand(ctx, "sleep", []string{"30"})
	}
}

func shQuote(s string) string {
	return "'" + s + "'"
}

func TestSupervisor_HappyReconnect(t *testing.T) {
	tun := newTestTunnel(model.Forward, 1)
	var mu sync.Mutex
	var running atomic.Bool
	running.Store(true)

	sup := New(tun, &mu, &running, writeThenRunStarter("", 500*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(3 * time.Second)

	mu.Lock()
	count := tun.RestartCount
	mu.Unlock()
	if count < 2 {
		t.Fatalf("expected restart_count >= 2 after 3s, got %d", count)
	}

	mu.Lock()
	tun.ShouldRun = false
	mu.Unlock()
	cancel()
	<-tun.Done
}

func TestSupervisor_AuthClassificationFromExitCode(t *testing.T) {
	tun := newTestTunnel(model.Forward, 1)
	var mu sync.Mutex
	var running atomic.Bool
	running.Store(true)

	sup := New(tun, &mu, &running, exitWithCodeStarter(255))

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	status := tun.Status
	count := tun.RestartCount
	tun.ShouldRun = false
	mu.Unlock()
	cancel()
	<-tun.Done

	if status != model.AuthError && status != model.Starting {
		t.Fatalf("expected AUTH_ERROR (or in-flight STARTING on the next cycle), got %v", status)
	}
	if count < 1 {
		t.Fatalf("expected restart counter to have incremented, got %d", count)
	}
}

func TestSupervisor_AuthClassificationFromOutput(t *testing.T) {
	tun := newTestTunnel(model.Forward, 1)
	var mu sync.Mutex
	var running atomic.Bool
	running.Store(true)

	sup := New(tun, &mu, &running, writeThenRunStarter("Permission denied (publickey).\\n", 3*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(2500 * time.Millisecond)

	mu.Lock()
	status := tun.Status
	count := tun.RestartCount
	tun.ShouldRun = false
	mu.Unlock()
	cancel()
	<-tun.Done

	if status != model.AuthError && status != model.Starting {
		t.Fatalf("expected AUTH_ERROR (or in-flight STARTING on the next cycle), got %v", status)
	}
	if count < 1 {
		t.Fatalf("expected restart counter to have incremented, got %d", count)
	}
}

func TestSupervisor_PortConflictReverse(t *testing.T) {
	tun := newTestTunnel(model.Reverse, 1)
	var mu sync.Mutex
	var running atomic.Bool
	running.Store(true)

	sup := New(tun, &mu, &running, writeThenRunStarter("Warning: remote port forwarding failed for listen port 6983\\n", 6*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(6 * time.Second)

	mu.Lock()
	status := tun.Status
	tun.ShouldRun = false
	mu.Unlock()
	cancel()
	<-tun.Done

	if status != model.PortError {
		t.Fatalf("expected PORT_ERROR, got %v", status)
	}
}

func TestSupervisor_StopReachesStopped(t *testing.T) {
	tun := newTestTunnel(model.Forward, 1)
	var mu sync.Mutex
	var running atomic.Bool
	running.Store(true)

	sup := New(tun, &mu, &running, runningLongStarter())

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	tun.ShouldRun = false
	mu.Unlock()
	cancel()

	select {
	case <-tun.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not reach done in time")
	}

	mu.Lock()
	status := tun.Status
	mu.Unlock()
	if status != model.Stopped {
		t.Fatalf("expected STOPPED, got %v", status)
	}
}

func TestSupervisor_StopSingleOthersUnaffected(t *testing.T) {
	tunA := newTestTunnel(model.Forward, 1)
	tunA.Name = "web-dev"
	tunB := newTestTunnel(model.Forward, 1)
	tunB.Name = "db-prod"

	var muA, muB sync.Mutex
	var runningA, runningB atomic.Bool
	runningA.Store(true)
	runningB.Store(true)

	supA := New(tunA, &muA, &runningA, runningLongStarter())
	supB := New(tunB, &muB, &runningB, runningLongStarter())

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	go supA.Run(ctxA)
	go supB.Run(ctxB)

	time.Sleep(200 * time.Millisecond)

	muA.Lock()
	tunA.ShouldRun = false
	muA.Unlock()
	cancelA()
	<-tunA.Done

	muB.Lock()
	statusB := tunB.Status
	muB.Unlock()
	if statusB != model.Running && statusB != model.Starting {
		t.Fatalf("expected db-prod to remain RUNNING, got %v", statusB)
	}

	muB.Lock()
	tunB.ShouldRun = false
	muB.Unlock()
	cancelB()
	<-tunB.Done
}
