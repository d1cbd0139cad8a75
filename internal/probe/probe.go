// Package probe implements the connectivity check: a nonblocking TCP
// connect attempt to a tunnel's local-side endpoint. It never mutates
// tunnel state, and for reverse tunnels it is explicitly incomplete by
// construction — the remote listener cannot be probed from the local side.
package probe

import (
	"fmt"
	"net"

	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/util"
)

// Result carries the outcome of one probe attempt.
type Result struct {
	OK      bool
	Message string
	// Incomplete is true for reverse tunnels: success here only confirms
	// the local service side is reachable, not that the remote SSH server
	// has bound the forwarded port.
	Incomplete bool
}

// Check attempts a TCP connection to 127.0.0.1:<local_port>.
func Check(t *model.Tunnel) Result {
	addr := fmt.Sprintf("127.0.0.1:%d", t.LocalPort)
	conn, err := net.DialTimeout("tcp", addr, util.ProbeTimeout)
	if err != nil {
		return Result{
			OK:         false,
			Message:    fmt.Sprintf("connect to %s failed: %v", addr, err),
			Incomplete: t.Kind == model.Reverse,
		}
	}
	_ = conn.Close()

	if t.Kind == model.Reverse {
		return Result{
			OK:         true,
			Message:    fmt.Sprintf("local service at %s is reachable (remote listener on the SSH server cannot be probed from here)", addr),
			Incomplete: true,
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("connect to %s succeeded", addr)}
}
