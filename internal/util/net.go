// Package util provides common utility functions and constants used across the
// sshtund supervisor. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "strings"

// NormalizeAddr returns the provided address if it is non-empty (after
// trimming whitespace), or the fallback value if the address is empty or
// whitespace-only. Used by the SSH argument builder to default an empty
// remote_host to "localhost".
func NormalizeAddr(addr, fallback string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fallback
	}
	return addr
}
