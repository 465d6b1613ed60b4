// Package env reads process environment variables with fallbacks, for
// the few spots that run before config loading (logger bootstrap).
package env

import "os"

// Get returns the named variable, or fallback when unset or empty.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
