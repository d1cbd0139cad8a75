// Package manager implements the tunnel registry: a fixed-capacity table of
// tunnels addressed by name via linear scan, one table-wide mutex, and a
// global running flag. Every operation that must wait for a worker goroutine
// to exit releases the lock first and joins outside it — holding the lock
// across a blocking wait would stall every other tunnel's status read for as
// long as the worker takes to unwind.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/tunnel"
	"github.com/sshtund/sshtund/internal/tunnellog"
	"github.com/sshtund/sshtund/internal/tunnelconfig"
	"github.com/sshtund/sshtund/internal/util"
)

// Manager owns the tunnel table and the single lock shared with every
// running Supervisor. Mu and Running are stored by pointer and handed to
// each tunnel.Supervisor so internal/tunnel never imports internal/manager.
type Manager struct {
	mu       sync.Mutex
	running  atomic.Bool
	tunnels  []*model.Tunnel
	capacity int
	logDir   string
	confPath string
	start    tunnel.Starter
}

// New constructs an empty Manager. logDir is where per-tunnel log sinks are
// opened; capacity bounds the table per spec. start overrides the SSH
// spawn function (nil selects the production sshclient.Spawn, via
// tunnel.New's own default).
func New(capacity int, logDir string, start tunnel.Starter) *Manager {
	m := &Manager{capacity: capacity, logDir: logDir, start: start}
	m.running.Store(true)
	return m
}

// Load reads the tunnel configuration document at path, opens a log sink for
// each validated tunnel, and populates the table. It returns the loader's
// warnings (one per skipped entry) plus one warning for each tunnel dropped
// because its log sink could not be opened. Load must be called before any
// Start/StartAll call and is not safe to call concurrently with other
// Manager methods.
func (m *Manager) Load(path string) ([]string, error) {
	result, err := tunnelconfig.Load(path, m.capacity)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.confPath = path
	m.tunnels = m.tunnels[:0]
	warnings := append([]string(nil), result.Warnings...)
	for i := range result.Tunnels {
		t := result.Tunnels[i]
		sink, err := tunnellog.Open(m.logDir, t.Name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%q: could not open log sink: %v", t.Name, err))
			continue
		}
		tp := t
		tp.Log = sink
		m.tunnels = append(m.tunnels, &tp)
	}
	return warnings, nil
}

// Save snapshots the table under lock and writes it to path (or the path
// last used by Load, if path is empty), outside the lock.
func (m *Manager) Save(path string) error {
	m.mu.Lock()
	if path == "" {
		path = m.confPath
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if path == "" {
		return fmt.Errorf("no configuration path to save to")
	}
	return tunnelconfig.Save(path, snap)
}

// find returns the tunnel named name, or nil. Callers must hold m.mu.
func (m *Manager) find(name string) *model.Tunnel {
	for _, t := range m.tunnels {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// launchLocked starts t's supervisor goroutine. Callers must hold m.mu and
// must have already confirmed t has no worker attached.
func (m *Manager) launchLocked(t *model.Tunnel) {
	ctx, cancel := context.WithCancel(context.Background())
	t.ShouldRun = true
	t.Cancel = cancel
	t.Done = make(chan struct{})
	sup := tunnel.New(t, &m.mu, &m.running, m.start)
	go sup.Run(ctx)
}

// Start launches name's worker if it has none. Double-start is a no-op.
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(name)
	if t == nil {
		return fmt.Errorf("no such tunnel: %s", name)
	}
	if t.HasWorker() {
		return nil
	}
	m.launchLocked(t)
	return nil
}

// StartAll launches every tunnel in the table that has no worker attached.
func (m *Manager) StartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tunnels {
		if !t.HasWorker() {
			m.launchLocked(t)
		}
	}
}

// Stop cancels name's worker and joins it outside the lock. Stopping a
// tunnel with no worker attached is a no-op.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	t := m.find(name)
	if t == nil {
		m.mu.Unlock()
		return fmt.Errorf("no such tunnel: %s", name)
	}
	if !t.HasWorker() {
		m.mu.Unlock()
		return nil
	}
	t.ShouldRun = false
	t.Cancel()
	done := t.Done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	t.Cancel = nil
	t.Done = nil
	m.mu.Unlock()
	return nil
}

// StopAll stops every tunnel with an attached worker, joining each outside
// the lock. Tunnels are cancelled together first so their shutdowns overlap
// rather than serialize.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var dones []chan struct{}
	var stopped []*model.Tunnel
	for _, t := range m.tunnels {
		if !t.HasWorker() {
			continue
		}
		t.ShouldRun = false
		t.Cancel()
		dones = append(dones, t.Done)
		stopped = append(stopped, t)
	}
	m.mu.Unlock()

	for _, d := range dones {
		<-d
	}

	m.mu.Lock()
	for _, t := range stopped {
		t.Cancel = nil
		t.Done = nil
	}
	m.mu.Unlock()
}

// Shutdown clears the global running flag and stops every worker. Called
// once, from the process's signal handler.
func (m *Manager) Shutdown() {
	m.running.Store(false)
	m.StopAll()
}

// Reset stops name's worker (if any), zeroes its restart counter, and starts
// a fresh worker. After Reset returns with no error, the tunnel's first
// supervision attempt has restart_count exactly 1.
func (m *Manager) Reset(name string) error {
	if err := m.Stop(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(name)
	if t == nil {
		return fmt.Errorf("no such tunnel: %s", name)
	}
	t.RestartCount = 0
	t.LastRestart = time.Time{}
	m.launchLocked(t)
	return nil
}

// Add validates and appends a new tunnel, opens its log sink, and persists
// the table. It rejects duplicate names and a table already at capacity.
func (m *Manager) Add(spec model.Tunnel) error {
	if spec.Name == "" {
		return fmt.Errorf("tunnel name must not be empty")
	}
	if len(spec.Name) > model.MaxNameLen {
		return fmt.Errorf("tunnel name exceeds %d characters", model.MaxNameLen)
	}
	if spec.User == "" || spec.Host == "" || spec.SSHKey == "" || spec.RemoteHost == "" {
		return fmt.Errorf("user, host, ssh_key, and remote_host are required")
	}
	if err := util.ValidatePort(spec.Port); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	if err := util.ValidatePort(spec.LocalPort); err != nil {
		return fmt.Errorf("local_port: %w", err)
	}
	if err := util.ValidatePort(spec.RemotePort); err != nil {
		return fmt.Errorf("remote_port: %w", err)
	}
	if spec.Kind == "" {
		spec.Kind = model.Forward
	}
	if spec.ReconnectDelay <= 0 {
		spec.ReconnectDelay = model.DefaultReconnectDelaySeconds
	}
	spec.Status = model.Stopped

	m.mu.Lock()
	if m.find(spec.Name) != nil {
		m.mu.Unlock()
		return fmt.Errorf("tunnel %q already exists", spec.Name)
	}
	if len(m.tunnels) >= m.capacity {
		m.mu.Unlock()
		return fmt.Errorf("table is at capacity (%d)", m.capacity)
	}
	m.mu.Unlock()

	sink, err := tunnellog.Open(m.logDir, spec.Name)
	if err != nil {
		return fmt.Errorf("open log sink for %q: %w", spec.Name, err)
	}
	spec.Log = sink

	m.mu.Lock()
	if m.find(spec.Name) != nil {
		m.mu.Unlock()
		_ = sink.Close()
		return fmt.Errorf("tunnel %q already exists", spec.Name)
	}
	m.tunnels = append(m.tunnels, &spec)
	m.mu.Unlock()

	return m.Save("")
}

// Remove drops name from the table and persists the change. It is legal
// only when the tunnel is not currently running; Remove never stops a
// running tunnel implicitly.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	t := m.find(name)
	if t == nil {
		m.mu.Unlock()
		return fmt.Errorf("no such tunnel: %s", name)
	}
	if t.HasWorker() {
		m.mu.Unlock()
		return fmt.Errorf("tunnel %q is running, stop it before removing", name)
	}
	if t.Log != nil {
		_ = t.Log.Close()
	}
	for i, cand := range m.tunnels {
		if cand.Name == name {
			m.tunnels = append(m.tunnels[:i], m.tunnels[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	return m.Save("")
}

// snapshotLocked returns a value copy of every tunnel, runtime state
// included. Callers must hold m.mu.
func (m *Manager) snapshotLocked() []model.Tunnel {
	out := make([]model.Tunnel, len(m.tunnels))
	for i, t := range m.tunnels {
		out[i] = *t
	}
	return out
}

// Snapshot returns a value copy of every tunnel's current state, safe to
// read and render without holding the manager lock.
func (m *Manager) Snapshot() []model.Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Get returns a value copy of the named tunnel's current state.
func (m *Manager) Get(name string) (model.Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(name)
	if t == nil {
		return model.Tunnel{}, false
	}
	return *t, true
}

// Len reports the number of tunnels currently in the table.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tunnels)
}
