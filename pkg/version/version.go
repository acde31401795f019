// Package version holds build-time version information.
package version

// Version is the docuflow release version.
// Overridden at build time via -ldflags "-X github.com/docuflow/docuflow/pkg/version.Version=...".
var Version = "0.3.0-dev"

// Commit is the git commit hash, set at build time.
var Commit = "unknown"
