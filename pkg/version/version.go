// Package version exposes build-time version information.
package version

import "fmt"

var (
	// Version is the semantic version of the build, set via -ldflags.
	Version = "0.1.0"
	// GitCommit is the git commit the binary was built from.
	GitCommit = "unknown"
)

// Get returns a human-readable version string.
func Get() string {
	return fmt.Sprintf("myllm %s (%s)", Version, GitCommit)
}
