// Package util provides common utility functions and constants used across
// the supervisor. This package is intentionally kept dependency-free (no
// imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// DefaultTableCapacity is the fixed size of the tunnel table when no
	// app-level override is configured.
	DefaultTableCapacity = 32

	// ForwardSettleWindow is how long a forward tunnel's supervisor waits
	// after spawning the SSH client before draining and classifying its
	// early output.
	ForwardSettleWindow = 2 * time.Second

	// ReverseSettleWindow is the equivalent settle window for reverse
	// tunnels, which take longer to report a remote bind failure.
	ReverseSettleWindow = 5 * time.Second

	// ProbeTimeout bounds a single loopback TCP connectivity check.
	ProbeTimeout = 500 * time.Millisecond

	// DefaultWatchIntervalSeconds is the refresh interval for the REPL's
	// "watch" command.
	DefaultWatchIntervalSeconds = 2

	// SSHConnectTimeoutSeconds and SSHServerAliveIntervalSeconds are fixed
	// per the SSH invocation contract.
	SSHConnectTimeoutSeconds      = 10
	SSHServerAliveIntervalSeconds = 30
)
