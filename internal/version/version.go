// Package version exposes build version information.
// The variables are set at build time via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of this build.
	Version = "0.1.0"

	// Commit is the git commit hash this binary was built from.
	Commit = "unknown"

	// Date is the build date in RFC 3339 format.
	Date = "unknown"
)

// Short returns just the semantic version.
func Short() string {
	return Version
}

// Info returns a human-readable version string.
func Info() string {
	return fmt.Sprintf("wattscope %s (commit %s, built %s)", Version, Commit, Date)
}

// Map returns version fields for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
