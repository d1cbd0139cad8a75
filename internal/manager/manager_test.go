package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/sshclient"
	"github.com/sshtund/sshtund/internal/tunnel"
)

// longRunner is a tunnel.Starter that spawns a real child outliving any test
// timeout, so Stop/StopAll/Shutdown exercise the join-outside-lock path
// against a worker whose child is still alive when the stop arrives.
func longRunner() tunnel.Starter {
	return func(ctx context.Context, t *model.Tunnel) (*sshclient.Process, error) {
		return sshclient.SpawnCommand(ctx, "sleep", []string{"30"})
	}
}

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const twoTunnelConfig = `{
  "tunnels": [
    {"name": "web-dev", "user": "deploy", "host": "10.0.0.1", "port": 22, "ssh_key": "/tmp/key", "type": "forward", "local_port": 18080, "remote_host": "localhost", "remote_port": 80, "reconnect_delay": 1},
    {"name": "db-prod", "user": "deploy", "host": "10.0.0.2", "port": 22, "ssh_key": "/tmp/key", "type": "forward", "local_port": 15432, "remote_host": "localhost", "remote_port": 5432, "reconnect_delay": 1}
  ]
}`

func newTestManager(t *testing.T, configBody string, start tunnel.Starter) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeConfig(t, dir, configBody)
	logDir := filepath.Join(dir, "logs")
	m := New(8, logDir, start)
	if _, err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, path
}

func TestManager_LoadPopulatesTable(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	if m.Len() != 2 {
		t.Fatalf("expected 2 tunnels, got %d", m.Len())
	}
	tun, ok := m.Get("web-dev")
	if !ok {
		t.Fatal("expected web-dev in table")
	}
	if tun.Status != model.Stopped {
		t.Fatalf("expected freshly loaded tunnel STOPPED, got %v", tun.Status)
	}
}

func TestManager_StartThenStopJoinsWorker(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())

	if err := m.Start("web-dev"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	tun, _ := m.Get("web-dev")
	if tun.Status != model.Running && tun.Status != model.Starting {
		t.Fatalf("expected RUNNING/STARTING, got %v", tun.Status)
	}

	if err := m.Stop("web-dev"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	tun, _ = m.Get("web-dev")
	if tun.Status != model.Stopped {
		t.Fatalf("expected STOPPED after Stop returns, got %v", tun.Status)
	}
	if tun.HasWorker() {
		t.Fatal("expected no worker attached after Stop returns")
	}
}

func TestManager_StopSingleOthersUnaffected(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	m.StartAll()
	time.Sleep(300 * time.Millisecond)

	if err := m.Stop("web-dev"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	dbProd, _ := m.Get("db-prod")
	if dbProd.Status != model.Running && dbProd.Status != model.Starting {
		t.Fatalf("expected db-prod to remain RUNNING, got %v", dbProd.Status)
	}

	m.Shutdown()
}

func TestManager_GracefulShutdownStopsAll(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	m.StartAll()
	time.Sleep(300 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}

	for _, name := range []string{"web-dev", "db-prod"} {
		tun, _ := m.Get(name)
		if tun.Status != model.Stopped {
			t.Fatalf("expected %s STOPPED after shutdown, got %v", name, tun.Status)
		}
		if tun.HasWorker() {
			t.Fatalf("expected %s to have no worker after shutdown", name)
		}
	}
}

func TestManager_DoubleStartIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	if err := m.Start("web-dev"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	before, _ := m.Get("web-dev")
	if err := m.Start("web-dev"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	after, _ := m.Get("web-dev")

	if before.RestartCount != after.RestartCount {
		t.Fatalf("double-start should not spawn a second worker: restart_count %d -> %d", before.RestartCount, after.RestartCount)
	}

	m.Shutdown()
}

func TestManager_AddRejectsDuplicateName(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())

	dup := model.Tunnel{
		Name: "web-dev", User: "deploy", Host: "10.0.0.9", Port: 22,
		SSHKey: "/tmp/key", Kind: model.Forward,
		LocalPort: 19090, RemoteHost: "localhost", RemotePort: 9090,
	}
	err := m.Add(dup)
	if err == nil {
		t.Fatal("expected duplicate add to be rejected")
	}
	if m.Len() != 2 {
		t.Fatalf("table size should be unchanged after rejected add, got %d", m.Len())
	}
}

func TestManager_AddRejectsAtCapacity(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"tunnels": []}`)
	m := New(1, filepath.Join(dir, "logs"), longRunner())
	if _, err := m.Load(path); err != nil {
		t.Fatal(err)
	}

	first := model.Tunnel{
		Name: "a", User: "u", Host: "h", Port: 22, SSHKey: "/tmp/key",
		Kind: model.Forward, LocalPort: 8001, RemoteHost: "localhost", RemotePort: 80,
	}
	if err := m.Add(first); err != nil {
		t.Fatalf("first Add: %v", err)
	}

	second := model.Tunnel{
		Name: "b", User: "u", Host: "h", Port: 22, SSHKey: "/tmp/key",
		Kind: model.Forward, LocalPort: 8002, RemoteHost: "localhost", RemotePort: 81,
	}
	if err := m.Add(second); err == nil {
		t.Fatal("expected add to be rejected at capacity")
	}
	if m.Len() != 1 {
		t.Fatalf("expected table to stay at 1, got %d", m.Len())
	}
}

func TestManager_AddPersistsToDisk(t *testing.T) {
	m, path := newTestManager(t, `{"tunnels": []}`, longRunner())

	spec := model.Tunnel{
		Name: "new-one", User: "deploy", Host: "10.0.0.5", Port: 22,
		SSHKey: "/tmp/key", Kind: model.Forward,
		LocalPort: 18081, RemoteHost: "localhost", RemotePort: 8081,
	}
	if err := m.Add(spec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "new-one") {
		t.Fatalf("expected persisted config to contain new-one, got %s", b)
	}
}

func TestManager_RemoveRejectsWhileRunning(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	if err := m.Start("web-dev"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := m.Remove("web-dev"); err == nil {
		t.Fatal("expected remove to be rejected while running")
	}

	m.Shutdown()
}

func TestManager_RemoveAfterStopSucceeds(t *testing.T) {
	m, path := newTestManager(t, twoTunnelConfig, longRunner())
	if err := m.Remove("web-dev"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.Get("web-dev"); ok {
		t.Fatal("expected web-dev to be gone from the table")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "web-dev") {
		t.Fatalf("expected persisted config to drop web-dev, got %s", b)
	}
}

func TestManager_ResetZeroesRestartCountThenStartsFresh(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	if err := m.Start("web-dev"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := m.Reset("web-dev"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	tun, _ := m.Get("web-dev")
	if tun.RestartCount != 1 {
		t.Fatalf("expected restart_count 1 after reset's fresh worker starts, got %d", tun.RestartCount)
	}

	m.Shutdown()
}

func TestManager_StopUnknownNameErrors(t *testing.T) {
	m, _ := newTestManager(t, twoTunnelConfig, longRunner())
	if err := m.Stop("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown tunnel name")
	}
}
