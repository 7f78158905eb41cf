// Package version holds build metadata set with -ldflags "-X".
package version

import "fmt"

//nolint:gochecknoglobals // overwritten by the linker
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String formats the build metadata for --version output and startup logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
