// Package appconfig manages ambient supervisor settings: the per-tunnel JSON
// document described by the spec's own configuration file is handled
// separately by internal/tunnelconfig. This package holds settings about the
// supervisor process itself — where it writes logs, how large its tunnel
// table is, and a watch interval — resolved from an optional XDG-located
// YAML file, with sensible defaults when the file is absent. The watch
// interval is loaded and defaulted here but not read by the REPL, whose
// "watch" command always refreshes every 2 seconds.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sshtund/sshtund/internal/util"
)

// Config holds ambient, process-level settings for the supervisor.
type Config struct {
	LogDir               string `yaml:"log_dir"`
	TableCapacity        int    `yaml:"table_capacity"`
	WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
}

// Default returns the default ambient configuration.
func Default() Config {
	return Config{
		LogDir:               "logs",
		TableCapacity:        util.DefaultTableCapacity,
		WatchIntervalSeconds: util.DefaultWatchIntervalSeconds,
	}
}

// ConfigDir returns the application config directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config/sshtund.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sshtund"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "sshtund"), nil
}

// Load reads config.yaml from the config directory, applying defaults for
// any zero-valued field. A missing file is not an error: defaults apply and
// the file is written out so the operator can see and edit it later.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Save writes cfg to config.yaml under the config directory.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.TableCapacity <= 0 {
		cfg.TableCapacity = util.DefaultTableCapacity
	}
	if cfg.WatchIntervalSeconds <= 0 {
		cfg.WatchIntervalSeconds = util.DefaultWatchIntervalSeconds
	}
}
