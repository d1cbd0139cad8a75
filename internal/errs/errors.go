// Package errs provides two-tier error messages: a user-safe summary fit to
// print to the REPL's operator, and a verbose debug detail fit for internal
// logs. Tunnel failures routinely embed the exact things an operator should
// not have to stare at (or paste into a bug report) every time a spawn
// fails: the private key's full filesystem path, and the user@host target
// OpenSSH echoes back in its own diagnostics. RedactMessage strips both.
package errs

import (
	"errors"
	"os"
	"regexp"
	"strings"
)

// sshKeyPathRe matches a filesystem path whose last element is one of
// OpenSSH's default private key filenames (a bare filename with no directory
// part is not matched), or any token ending in ".pem".
var sshKeyPathRe = regexp.MustCompile(`\S*/(?:id_rsa|id_dsa|id_ecdsa|id_ed25519)(?:\.pub)?\b|\S*\.pem\b`)

// sshTargetRe matches an OpenSSH connection target (user@host) as it
// appears in ssh's own error text, e.g. "deploy@10.0.0.1: Permission
// denied".
var sshTargetRe = regexp.MustCompile(`\b[\w.-]+@[\w.-]+\b`)

// ClassifiedError separates a user-safe message from verbose debug detail.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

// New creates an error with separated user-safe and debug details.
func New(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// UserMessage returns a message safe to print to the operator. When redact
// is true, the message is passed through RedactMessage.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for internal logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

// RedactMessage strips the user's home directory, any SSH private key path,
// and any user@host connection target from a message destined for
// operator-visible output. A spawn failure's debug detail carries the full
// argv (key path and all, via errs.New's DebugDetail field); the user-safe
// side of the same error should never repeat it.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	out = sshKeyPathRe.ReplaceAllString(out, "<ssh-key>")
	out = sshTargetRe.ReplaceAllString(out, "<user>@<host>")
	return out
}
