// Command sshtund supervises a fleet of outbound SSH port-forwarding
// tunnels: it loads a tunnel configuration document, starts one supervisor
// goroutine per tunnel, and serves a line-oriented REPL on standard input
// until the user quits or the process receives SIGINT/SIGTERM.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshtund/sshtund/internal/appconfig"
	"github.com/sshtund/sshtund/internal/errs"
	"github.com/sshtund/sshtund/internal/manager"
	"github.com/sshtund/sshtund/internal/repl"
	"github.com/sshtund/sshtund/internal/sshclient"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errs.UserMessage(err, true))
		slog.Debug("fatal startup error", "detail", errs.DebugMessage(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sshtund [config_path]",
		Short: "Supervise a fleet of SSH port-forwarding tunnels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "config.json"
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath)
		},
	}
}

func run(configPath string) error {
	ambient, err := appconfig.Load()
	if err != nil {
		slog.Warn("failed to load ambient config, using defaults", "error", err)
		ambient = appconfig.Default()
	}

	if err := sshclient.EnsureSSHBinary(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if err := os.MkdirAll(ambient.LogDir, 0o755); err != nil {
		return fmt.Errorf("startup: create log dir: %w", err)
	}

	mgr := manager.New(ambient.TableCapacity, ambient.LogDir, nil)
	warnings, err := mgr.Load(configPath)
	if err != nil {
		return fmt.Errorf("startup: load config: %w", err)
	}
	for _, w := range warnings {
		slog.Warn("config entry skipped", "detail", w)
	}

	if mgr.Len() == 0 {
		return fmt.Errorf("startup: no valid tunnels in %s", configPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received shutdown signal, stopping tunnels")
		mgr.Shutdown()
		// The REPL's Run loop is blocked in a synchronous Scan() on stdin
		// with no way to interrupt it from here; stopping the workers isn't
		// enough to satisfy the bounded-shutdown requirement on its own, so
		// exit directly once every worker has joined.
		os.Exit(0)
	}()

	mgr.StartAll()

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		absConfig = configPath
	}
	r := repl.New(os.Stdin, os.Stdout, mgr, ambient.LogDir, absConfig)
	r.Run()

	signal.Stop(sigCh)
	mgr.Shutdown()

	return nil
}
