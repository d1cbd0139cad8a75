// Package classify centralizes the substring classification table used to
// map an SSH client's early diagnostic output to a tunnel status bucket.
// Precedence is AUTH_ERROR, then PORT_ERROR, then generic ERROR; a match is
// sticky for the current attempt and is never downgraded by later output.
package classify

import (
	"strings"

	"github.com/sshtund/sshtund/internal/model"
)

type rule struct {
	status   model.Status
	triggers []string
}

// table is ordered by precedence. Do not reorder: AUTH_ERROR must be
// checked before PORT_ERROR, which must be checked before ERROR.
var table = []rule{
	{
		status: model.AuthError,
		triggers: []string{
			"Permission denied",
			"Authentication failed",
			"Permissions",
			"too open",
		},
	},
	{
		status: model.PortError,
		triggers: []string{
			"bind: Address already in use",
			"remote port forwarding failed",
			"Warning: remote port forwarding failed",
			"cannot listen to port",
			"bind: Cannot assign requested address",
		},
	},
	{
		status: model.Error,
		triggers: []string{
			"Connection refused",
			"Host key verification failed",
			"No such file",
			"Could not resolve hostname",
		},
	},
}

// Classify scans text for any known trigger substring and returns the
// matching status bucket in precedence order. ok is false if no trigger
// matched.
func Classify(text string) (status model.Status, matched string, ok bool) {
	for _, r := range table {
		for _, trigger := range r.triggers {
			if strings.Contains(text, trigger) {
				return r.status, trigger, true
			}
		}
	}
	return model.Error, "", false
}
