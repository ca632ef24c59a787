// SPDX-License-Identifier: MIT

package version

import "fmt"

var (
	// Version is the current application version.
	// It should be populated by the build system (ldflags) or fall back to the VERSION file.
	Version = "v0.4.2"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String returns a single-line human readable build description.
func String() string {
	return fmt.Sprintf("ballast %s (%s, %s)", Version, Commit, Date)
}
