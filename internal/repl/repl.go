// Package repl implements the line-oriented command interpreter: it reads
// one line at a time from an input stream, splits it into a command and its
// arguments, and dispatches to the manager. It never holds the manager's
// lock across a blocking read — each dispatched command asks the manager for
// what it needs and releases control immediately after.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sshtund/sshtund/internal/doctor"
	"github.com/sshtund/sshtund/internal/errs"
	"github.com/sshtund/sshtund/internal/manager"
	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/probe"
	"github.com/sshtund/sshtund/internal/sshclient"
	"github.com/sshtund/sshtund/internal/statusview"
)

// REPL reads commands from In and writes responses to Out, dispatching into
// Mgr. LogDir and ConfigPath are used only for the diagnose command's
// path-existence checks.
type REPL struct {
	In         io.Reader
	Out        io.Writer
	Mgr        *manager.Manager
	LogDir     string
	ConfigPath string

	scanner *bufio.Scanner
}

// New constructs a REPL ready to Run.
func New(in io.Reader, out io.Writer, mgr *manager.Manager, logDir, configPath string) *REPL {
	return &REPL{In: in, Out: out, Mgr: mgr, LogDir: logDir, ConfigPath: configPath}
}

// Run reads commands until the input stream is exhausted or a quit/exit
// command is received.
func (r *REPL) Run() {
	r.scanner = bufio.NewScanner(r.In)
	fmt.Fprintln(r.Out, "sshtund ready. Type 'help' for commands.")
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			r.cmdStatus()
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		if r.dispatch(cmd, args) {
			return
		}
	}
}

// dispatch runs one command and reports whether the REPL should stop.
func (r *REPL) dispatch(cmd string, args []string) (quit bool) {
	switch cmd {
	case "status":
		r.cmdStatus()
	case "start":
		r.cmdStart(args)
	case "stop":
		r.cmdStop(args)
	case "reset":
		r.cmdReset(args)
	case "add":
		r.cmdAdd(args)
	case "remove":
		r.cmdRemove(args)
	case "test":
		r.cmdTest(args)
	case "debug":
		r.cmdDebug(args)
	case "diagnose":
		r.cmdDiagnose()
	case "watch":
		r.cmdWatch()
	case "help":
		r.cmdHelp()
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(r.Out, "unknown command %q, type 'help' for a list\n", cmd)
	}
	return false
}

func (r *REPL) cmdStatus() {
	statusview.Render(r.Out, r.Mgr.Snapshot())
}

func (r *REPL) cmdStart(args []string) {
	if len(args) == 0 {
		r.Mgr.StartAll()
		fmt.Fprintln(r.Out, "started all tunnels")
		return
	}
	if err := r.Mgr.Start(args[0]); err != nil {
		fmt.Fprintf(r.Out, "start %s: %s\n", args[0], errs.UserMessage(err, true))
		return
	}
	fmt.Fprintf(r.Out, "started %s\n", args[0])
}

func (r *REPL) cmdStop(args []string) {
	if len(args) == 0 {
		r.Mgr.StopAll()
		fmt.Fprintln(r.Out, "stopped all tunnels")
		return
	}
	if err := r.Mgr.Stop(args[0]); err != nil {
		fmt.Fprintf(r.Out, "stop %s: %s\n", args[0], errs.UserMessage(err, true))
		return
	}
	fmt.Fprintf(r.Out, "stopped %s\n", args[0])
}

func (r *REPL) cmdReset(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.Out, "usage: reset <name>")
		return
	}
	if err := r.Mgr.Reset(args[0]); err != nil {
		fmt.Fprintf(r.Out, "reset %s: %s\n", args[0], errs.UserMessage(err, true))
		return
	}
	fmt.Fprintf(r.Out, "reset %s\n", args[0])
}

// cmdAdd expects: add <name> <user> <host> <port> <ssh_key> <type> <local_port> <remote_host> <remote_port> [reconnect_delay]
func (r *REPL) cmdAdd(args []string) {
	if len(args) < 9 {
		fmt.Fprintln(r.Out, "usage: add <name> <user> <host> <port> <ssh_key> <forward|reverse> <local_port> <remote_host> <remote_port> [reconnect_delay]")
		return
	}
	spec, err := parseAddArgs(args)
	if err != nil {
		fmt.Fprintf(r.Out, "add: %v\n", err)
		return
	}
	if err := r.Mgr.Add(spec); err != nil {
		fmt.Fprintf(r.Out, "add %s: %s\n", spec.Name, errs.UserMessage(err, true))
		return
	}
	fmt.Fprintf(r.Out, "added %s\n", spec.Name)
}

func parseAddArgs(args []string) (model.Tunnel, error) {
	var spec model.Tunnel
	spec.Name = args[0]
	spec.User = args[1]
	spec.Host = args[2]
	if _, err := fmt.Sscanf(args[3], "%d", &spec.Port); err != nil {
		return spec, fmt.Errorf("invalid port %q", args[3])
	}
	spec.SSHKey = args[4]
	switch args[5] {
	case "forward":
		spec.Kind = model.Forward
	case "reverse":
		spec.Kind = model.Reverse
	default:
		return spec, fmt.Errorf("type must be forward or reverse, got %q", args[5])
	}
	if _, err := fmt.Sscanf(args[6], "%d", &spec.LocalPort); err != nil {
		return spec, fmt.Errorf("invalid local_port %q", args[6])
	}
	spec.RemoteHost = args[7]
	if _, err := fmt.Sscanf(args[8], "%d", &spec.RemotePort); err != nil {
		return spec, fmt.Errorf("invalid remote_port %q", args[8])
	}
	if len(args) > 9 {
		if _, err := fmt.Sscanf(args[9], "%d", &spec.ReconnectDelay); err != nil {
			return spec, fmt.Errorf("invalid reconnect_delay %q", args[9])
		}
	}
	return spec, nil
}

func (r *REPL) cmdRemove(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.Out, "usage: remove <name>")
		return
	}
	if err := r.Mgr.Remove(args[0]); err != nil {
		fmt.Fprintf(r.Out, "remove %s: %s\n", args[0], errs.UserMessage(err, true))
		return
	}
	fmt.Fprintf(r.Out, "removed %s\n", args[0])
}

func (r *REPL) cmdTest(args []string) {
	tunnels := r.Mgr.Snapshot()
	if len(args) > 0 {
		t, ok := r.Mgr.Get(args[0])
		if !ok {
			fmt.Fprintf(r.Out, "no such tunnel: %s\n", args[0])
			return
		}
		tunnels = []model.Tunnel{t}
	}
	for _, t := range tunnels {
		res := probe.Check(&t)
		note := ""
		if res.Incomplete {
			note = " (incomplete: local side only)"
		}
		fmt.Fprintf(r.Out, "%-20s %s%s\n", t.Name, res.Message, note)
	}
}

func (r *REPL) cmdDebug(args []string) {
	tunnels := r.Mgr.Snapshot()
	if len(args) > 0 {
		t, ok := r.Mgr.Get(args[0])
		if !ok {
			fmt.Fprintf(r.Out, "no such tunnel: %s\n", args[0])
			return
		}
		tunnels = []model.Tunnel{t}
	}
	for _, t := range tunnels {
		fmt.Fprintf(r.Out, "%s: ssh %s\n", t.Name, strings.Join(sshclient.BuildArgs(&t), " "))
	}
}

func (r *REPL) cmdDiagnose() {
	report := doctor.Run(r.LogDir, r.ConfigPath, r.Mgr.Snapshot())
	if len(report.Issues) == 0 {
		fmt.Fprintln(r.Out, "no issues found")
		return
	}
	for _, i := range report.Issues {
		fmt.Fprintf(r.Out, "[%s] %s (%s): %s -- %s\n", i.Severity, i.Check, i.Target, i.Message, i.Recommendation)
	}
}

func (r *REPL) cmdWatch() {
	fmt.Fprintln(r.Out, "watching, press Enter to stop")
	stop := make(chan struct{})
	go func() {
		r.scanner.Scan()
		close(stop)
	}()
	statusview.Watch(r.Out, r.Mgr.Snapshot, 2*time.Second, stop)
}

func (r *REPL) cmdHelp() {
	fmt.Fprintln(r.Out, strings.Join([]string{
		"status                 show the tunnel table once",
		"start [name]           start one tunnel, or all if name omitted",
		"stop [name]            stop one tunnel, or all if name omitted",
		"reset <name>           stop, zero its restart counter, and start fresh",
		"add <fields...>        add a new tunnel; see 'add' with no args for field order",
		"remove <name>          drop a stopped tunnel from the table",
		"test [name]            run the local connectivity probe",
		"debug [name]           print the exact ssh command line that would run",
		"diagnose               run local diagnostics",
		"watch                  redraw status every 2s until a line is entered",
		"help                   show this text",
		"quit / exit            leave the REPL",
	}, "\n"))
}
