// Package statusview renders the tunnel table to the terminal: a two-line
// block per tunnel (identifier and connection chain, then status and
// restart bookkeeping), a footer of bucket counts, and the watch loop's
// clear-then-render cycle. Styling follows the teacher's lipgloss idiom —
// one NewStyle().Foreground(...) per semantic color, no shared stylesheet.
package statusview

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sshtund/sshtund/internal/model"
)

var (
	colorRunning  = lipgloss.Color("42")  // green
	colorStarting = lipgloss.Color("220") // yellow
	colorRecon    = lipgloss.Color("214") // amber
	colorStopped  = lipgloss.Color("244") // grey
	colorError    = lipgloss.Color("196") // red
	colorHeading  = lipgloss.Color("39")  // blue
)

func styleFor(s model.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case model.Running:
		return base.Foreground(colorRunning)
	case model.Starting:
		return base.Foreground(colorStarting)
	case model.Reconnecting:
		return base.Foreground(colorRecon)
	case model.Stopped:
		return base.Foreground(colorStopped)
	default:
		return base.Foreground(colorError)
	}
}

// Render writes the full status table for tunnels to w: one two-line block
// per tunnel plus a footer summarizing bucket counts.
func Render(w io.Writer, tunnels []model.Tunnel) {
	heading := lipgloss.NewStyle().Bold(true).Foreground(colorHeading).Render("SSH TUNNELS")
	fmt.Fprintln(w, heading)
	if len(tunnels) == 0 {
		fmt.Fprintln(w, "  (no tunnels configured)")
		return
	}

	counts := map[model.Status]int{}
	for _, t := range tunnels {
		fmt.Fprintln(w, block(t))
		counts[t.Status]++
	}
	fmt.Fprintln(w, footer(counts, len(tunnels)))
}

// block renders one tunnel's two-line summary: name and connection chain on
// the first line, status/restart-count/delay/elapsed-since-last-restart on
// the second.
func block(t model.Tunnel) string {
	line1 := fmt.Sprintf("%-20s %s", t.Name, t.Arrow())

	status := styleFor(t.Status).Render(t.Status.String())
	elapsed := "never"
	if !t.LastRestart.IsZero() {
		elapsed = time.Since(t.LastRestart).Round(time.Second).String() + " ago"
	}
	line2 := fmt.Sprintf("  %-12s restarts=%-4d delay=%ds  last_restart=%s",
		status, t.RestartCount, t.ReconnectDelay, elapsed)

	return line1 + "\n" + line2
}

func footer(counts map[model.Status]int, total int) string {
	order := []model.Status{model.Running, model.Starting, model.Reconnecting, model.Stopped, model.Error, model.AuthError, model.PortError}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s.String(), n))
		}
	}
	return fmt.Sprintf("total=%d  %s", total, strings.Join(parts, " "))
}

// ClearScreen emits the ANSI sequence that moves the cursor home and clears
// the visible screen, used by the watch loop before each re-render.
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[H\033[2J")
}

// Watch renders the table every interval until stop is closed. It is meant
// to be run synchronously from the REPL's "watch" command, which blocks the
// stdin read loop for its duration; the REPL closes stop when the user
// enters a line.
func Watch(w io.Writer, snapshot func() []model.Tunnel, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ClearScreen(w)
	Render(w, snapshot())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ClearScreen(w)
			Render(w, snapshot())
		}
	}
}
