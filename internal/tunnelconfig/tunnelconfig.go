// Package tunnelconfig loads and writes the on-disk tunnel configuration
// document: a single JSON object with one top-level array, "tunnels". The
// loader tolerates unknown fields, skips entries with missing or
// wrong-typed required fields (collecting a warning per skip rather than
// failing the whole load), and enforces the table capacity. The writer
// persists only the configuration subset of each tunnel — never status,
// restart_count, last_restart, or any runtime handle.
package tunnelconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sshtund/sshtund/internal/model"
	"github.com/sshtund/sshtund/internal/util"
)

// entry mirrors one element of the "tunnels" array on disk. Pointer fields
// distinguish "absent" from "zero value" so optional-field defaulting
// (type, reconnect_delay) and required-field validation (port, local_port,
// remote_port) can tell the two apart.
type entry struct {
	Name           *string `json:"name"`
	User           *string `json:"user"`
	Host           *string `json:"host"`
	Port           *int    `json:"port"`
	SSHKey         *string `json:"ssh_key"`
	Type           *string `json:"type"`
	LocalPort      *int    `json:"local_port"`
	RemoteHost     *string `json:"remote_host"`
	RemotePort     *int    `json:"remote_port"`
	ReconnectDelay *int    `json:"reconnect_delay"`
}

type document struct {
	Tunnels []entry `json:"tunnels"`
}

// LoadResult carries the tunnels that validated successfully plus one
// human-readable warning per skipped entry.
type LoadResult struct {
	Tunnels  []model.Tunnel
	Warnings []string
}

// Load reads path and validates each entry against capacity. It fails only
// if the file is missing/unreadable or the top-level JSON value has no
// array under "tunnels"; a malformed individual entry is skipped with a
// warning instead.
func Load(path string, capacity int) (LoadResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return LoadResult{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	tunnelsRaw, present := raw["tunnels"]
	if !present {
		return LoadResult{}, fmt.Errorf("config %s: missing top-level \"tunnels\" array", path)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(tunnelsRaw, &entries); err != nil {
		return LoadResult{}, fmt.Errorf("config %s: \"tunnels\" is not an array: %w", path, err)
	}

	var result LoadResult
	seen := make(map[string]bool)
	for i, rawEntry := range entries {
		var e entry
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		if len(result.Tunnels) >= capacity {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("entry %d (%s): skipped, table capacity %d reached", i, nameOrBlank(e), capacity))
			continue
		}
		t, warn := validate(e, seen)
		if warn != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("entry %d: %s", i, warn))
			continue
		}
		seen[t.Name] = true
		result.Tunnels = append(result.Tunnels, t)
	}
	return result, nil
}

func nameOrBlank(e entry) string {
	if e.Name != nil {
		return *e.Name
	}
	return "?"
}

// validate checks an entry's required fields and ranges, returning either a
// populated Tunnel or a non-empty warning describing why it was rejected.
func validate(e entry, seen map[string]bool) (model.Tunnel, string) {
	if e.Name == nil || *e.Name == "" {
		return model.Tunnel{}, "missing or empty \"name\""
	}
	name := *e.Name
	if len(name) > model.MaxNameLen {
		return model.Tunnel{}, fmt.Sprintf("%q: name exceeds %d characters", name, model.MaxNameLen)
	}
	if seen[name] {
		return model.Tunnel{}, fmt.Sprintf("%q: duplicate name", name)
	}
	if e.User == nil || *e.User == "" {
		return model.Tunnel{}, fmt.Sprintf("%q: missing or empty \"user\"", name)
	}
	if e.Host == nil || *e.Host == "" {
		return model.Tunnel{}, fmt.Sprintf("%q: missing or empty \"host\"", name)
	}
	if e.Port == nil {
		return model.Tunnel{}, fmt.Sprintf("%q: missing \"port\"", name)
	}
	if err := util.ValidatePort(*e.Port); err != nil {
		return model.Tunnel{}, fmt.Sprintf("%q: port: %v", name, err)
	}
	if e.SSHKey == nil || *e.SSHKey == "" {
		return model.Tunnel{}, fmt.Sprintf("%q: missing or empty \"ssh_key\"", name)
	}
	if e.LocalPort == nil {
		return model.Tunnel{}, fmt.Sprintf("%q: missing \"local_port\"", name)
	}
	if err := util.ValidatePort(*e.LocalPort); err != nil {
		return model.Tunnel{}, fmt.Sprintf("%q: local_port: %v", name, err)
	}
	if e.RemoteHost == nil || *e.RemoteHost == "" {
		return model.Tunnel{}, fmt.Sprintf("%q: missing or empty \"remote_host\"", name)
	}
	if e.RemotePort == nil {
		return model.Tunnel{}, fmt.Sprintf("%q: missing \"remote_port\"", name)
	}
	if err := util.ValidatePort(*e.RemotePort); err != nil {
		return model.Tunnel{}, fmt.Sprintf("%q: remote_port: %v", name, err)
	}

	kind := model.Forward
	if e.Type != nil {
		switch util.DefaultString(*e.Type, string(model.Forward)) {
		case string(model.Forward):
			kind = model.Forward
		case string(model.Reverse):
			kind = model.Reverse
		default:
			return model.Tunnel{}, fmt.Sprintf("%q: invalid \"type\" %q (want forward or reverse)", name, *e.Type)
		}
	}

	delay := model.DefaultReconnectDelaySeconds
	if e.ReconnectDelay != nil {
		if *e.ReconnectDelay < 0 {
			return model.Tunnel{}, fmt.Sprintf("%q: reconnect_delay must be >= 0", name)
		}
		delay = *e.ReconnectDelay
	}

	return model.Tunnel{
		Name:           name,
		User:           *e.User,
		Host:           *e.Host,
		Port:           *e.Port,
		SSHKey:         *e.SSHKey,
		Kind:           kind,
		LocalPort:      *e.LocalPort,
		RemoteHost:     *e.RemoteHost,
		RemotePort:     *e.RemotePort,
		ReconnectDelay: delay,
		Status:         model.Stopped,
	}, ""
}

// Save atomically re-emits tunnels as the configuration document, persisting
// only the identity/configuration subset (never status, restart_count,
// last_restart, or any runtime handle). It writes to a temporary file in the
// same directory and renames it into place so a reader never observes a
// partially-written document.
func Save(path string, tunnels []model.Tunnel) error {
	doc := document{Tunnels: make([]entry, 0, len(tunnels))}
	for _, t := range tunnels {
		name, user, host, sshKey, kind, remoteHost := t.Name, t.User, t.Host, t.SSHKey, string(t.Kind), t.RemoteHost
		port, localPort, remotePort, delay := t.Port, t.LocalPort, t.RemotePort, t.ReconnectDelay
		doc.Tunnels = append(doc.Tunnels, entry{
			Name:           &name,
			User:           &user,
			Host:           &host,
			Port:           &port,
			SSHKey:         &sshKey,
			Type:           &kind,
			LocalPort:      &localPort,
			RemoteHost:     &remoteHost,
			RemotePort:     &remotePort,
			ReconnectDelay: &delay,
		})
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp config %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config %s: %w", path, err)
	}
	return nil
}
