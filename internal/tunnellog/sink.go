// Package tunnellog implements the per-tunnel append-only log sink. Each
// tunnel gets one file, <log_dir>/<name>.log, opened once at registration
// and written to by its supervisor worker for the lifetime of the process.
// Every line carries the fixed format:
//
//	[YYYY-MM-DD HH:MM:SS] [Restart #N] <message>
package tunnellog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink is an append-only per-tunnel log file. It is safe for concurrent use,
// though in practice only the owning worker writes to it.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	name string
}

// Open creates (or appends to) <dir>/<name>.log with 0644 permissions,
// matching the logs directory's own 0755 per the external interface
// contract.
func Open(dir, name string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &Sink{file: f, name: name}, nil
}

// Logf appends one line to the sink in the fixed timestamp/restart-count
// format. Write errors are swallowed by design: a failing log sink must
// never interrupt tunnel supervision (spec's propagation policy keeps
// worker errors from escaping the worker).
func (s *Sink) Logf(restartCount int, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [Restart #%d] %s\n", time.Now().Format("2006-01-02 15:04:05"), restartCount, msg)
	_, _ = s.file.WriteString(line)
}

// Close closes the underlying file handle. Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
