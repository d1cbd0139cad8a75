// Package model defines the value types shared across the supervisor: the
// tunnel definition and its runtime state, the status enum, and the forward
// direction.
package model

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes a forward tunnel from a reverse tunnel. A tunnel is one
// kind for its entire lifetime; changing kind requires remove-and-readd.
type Kind string

const (
	Forward Kind = "forward"
	Reverse Kind = "reverse"
)

// Status is the per-tunnel supervisor state.
type Status int

const (
	Stopped Status = iota
	Starting
	Running
	Reconnecting
	Error
	AuthError
	PortError
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Reconnecting:
		return "RECONNECTING"
	case Error:
		return "ERROR"
	case AuthError:
		return "AUTH_ERROR"
	case PortError:
		return "PORT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsErrorBucket reports whether s is one of the three error buckets
// (ERROR, AUTH_ERROR, PORT_ERROR).
func (s Status) IsErrorBucket() bool {
	return s == Error || s == AuthError || s == PortError
}

const (
	// DefaultReconnectDelaySeconds is applied when a tunnel spec omits
	// reconnect_delay.
	DefaultReconnectDelaySeconds = 5
	// MaxNameLen bounds the tunnel name; it also doubles as the log
	// filename stem.
	MaxNameLen = 63
)

// LogSink is the append-only per-tunnel event stream. Declared here as an
// interface so internal/model carries no dependency on internal/tunnellog.
type LogSink interface {
	Logf(restartCount int, format string, args ...any)
	Close() error
}

// Tunnel is a named SSH port-forward definition with runtime state attached.
// All runtime-mutable fields are guarded by the owning Manager's lock;
// restart_count and last_restart are mutated only by the owning worker,
// still under that lock.
type Tunnel struct {
	// Identity and configuration — the persisted subset.
	Name           string
	User           string
	Host           string
	Port           int
	SSHKey         string
	Kind           Kind
	LocalPort      int
	RemoteHost     string
	RemotePort     int
	ReconnectDelay int // seconds

	// Runtime state.
	Status       Status
	RestartCount int
	LastRestart  time.Time
	ShouldRun    bool

	// Worker handle: present iff a worker goroutine is currently running
	// for this tunnel. Cancel stops it; Done is closed when the worker
	// goroutine returns.
	Cancel context.CancelFunc
	Done   chan struct{}

	// Log sink, opened at registration, written only by the owning worker.
	Log LogSink
}

// HasWorker reports whether a worker goroutine is currently attached.
func (t *Tunnel) HasWorker() bool {
	return t.Done != nil
}

// Arrow renders the directional connection chain for the status renderer,
// e.g. "127.0.0.1:8080 -> db.internal:5432" for a forward tunnel, or
// "db.internal:9000 <- 127.0.0.1:3000" for a reverse tunnel.
func (t *Tunnel) Arrow() string {
	local := fmt.Sprintf("127.0.0.1:%d", t.LocalPort)
	remote := fmt.Sprintf("%s:%d", t.RemoteHost, t.RemotePort)
	if t.Kind == Reverse {
		return remote + " <- " + local
	}
	return local + " -> " + remote
}
