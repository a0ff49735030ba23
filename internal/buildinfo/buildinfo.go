// Package buildinfo holds version metadata stamped at compile time via
// -ldflags "-X github.com/nugget/amswatch/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// Info returns the build metadata as a map, suitable for structured
// log attributes or metric labels.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// String returns the one-line banner printed by "amswatch version".
func String() string {
	return fmt.Sprintf("amswatch %s (%s@%s) built %s %s/%s",
		Version, GitCommit, GitBranch, BuildTime, runtime.GOOS, runtime.GOARCH)
}
