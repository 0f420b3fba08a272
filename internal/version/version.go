// Package version carries the build identity written into every measurement
// record so a run can be traced back to the software that produced it.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// GitTag is the most recent git tag at build time
	GitTag = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// readBuildInfo is swapped out in tests.
var readBuildInfo = debug.ReadBuildInfo

// Commit returns GitSHA, falling back to the VCS revision embedded by the Go
// toolchain when no -ldflags value was provided. A "-dirty" suffix marks
// builds from a modified tree.
func Commit() string {
	if GitSHA != "unknown" && GitSHA != "" {
		return GitSHA
	}
	info, ok := readBuildInfo()
	if !ok {
		return GitSHA
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return GitSHA
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// String summarises the build for startup logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, tag %s, built %s)", Version, Commit(), GitTag, BuildTime)
}
