// Package doctor implements the diagnose command's backing checks: logs
// directory and config file reachability, per-tunnel ssh_key presence and
// permission audit, and a reminder that reverse tunnels need server-side
// GatewayPorts/AllowTcpForwarding configuration this process cannot verify.
package doctor

import (
	"fmt"
	"os"
	"sort"

	"github.com/sshtund/sshtund/internal/model"
)

// Severity classifies a diagnostic Issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one diagnostic finding.
type Issue struct {
	Severity       Severity
	Check          string
	Target         string
	Message        string
	Recommendation string
}

// Report collects every Issue found by Run, most severe first.
type Report struct {
	Issues []Issue
}

func (r Report) HasHigh() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Run inspects the logs directory, the configuration file, and every
// tunnel's ssh_key for presence and permission posture.
func Run(logDir, configPath string, tunnels []model.Tunnel) Report {
	var issues []Issue

	issues = append(issues, checkPathExists(logDir, "logs-dir", "logs directory")...)
	issues = append(issues, checkPathExists(configPath, "config-file", "configuration file")...)

	seenKeys := map[string]bool{}
	for _, t := range tunnels {
		if t.SSHKey == "" {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "ssh-key-missing",
				Target:         t.Name,
				Message:        "no ssh_key configured",
				Recommendation: "set ssh_key to a private key file before starting this tunnel",
			})
			continue
		}
		if !seenKeys[t.SSHKey] {
			seenKeys[t.SSHKey] = true
			issues = append(issues, checkKeyPerm(t.SSHKey)...)
		}

		if t.Kind == model.Reverse {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "reverse-tunnel-server-config",
				Target:         t.Name,
				Message:        "reverse tunnels require GatewayPorts/AllowTcpForwarding on the remote sshd, which this process cannot verify",
				Recommendation: fmt.Sprintf("confirm sshd_config on %s permits remote port forwarding", t.Host),
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri, rj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].Target < issues[j].Target
	})
	return Report{Issues: issues}
}

func checkPathExists(path, check, label string) []Issue {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return []Issue{{
				Severity:       SeverityHigh,
				Check:          check,
				Target:         path,
				Message:        fmt.Sprintf("%s does not exist", label),
				Recommendation: fmt.Sprintf("create %s or correct the configured path", label),
			}}
		}
		return []Issue{{
			Severity:       SeverityLow,
			Check:          check,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect %s: %v", label, err),
			Recommendation: "verify path and permissions manually",
		}}
	}
	return nil
}

// checkKeyPerm flags an ssh_key that is missing or broader than mode 0600,
// matching the same owner-only-read posture OpenSSH itself enforces.
func checkKeyPerm(path string) []Issue {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Issue{{
				Severity:       SeverityHigh,
				Check:          "ssh-key-perm",
				Target:         path,
				Message:        "ssh_key file does not exist",
				Recommendation: "point ssh_key at a valid private key file",
			}}
		}
		return []Issue{{
			Severity:       SeverityLow,
			Check:          "ssh-key-perm",
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect ssh_key: %v", err),
			Recommendation: "verify path and permissions manually",
		}}
	}
	if mode := st.Mode().Perm(); mode > 0o600 {
		return []Issue{{
			Severity:       SeverityMedium,
			Check:          "ssh-key-perm",
			Target:         path,
			Message:        fmt.Sprintf("key permissions are too broad (%#o)", mode),
			Recommendation: "chmod 600 the key file",
		}}
	}
	return nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
