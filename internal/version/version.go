// Package version holds build metadata injected through ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = "unknown"
)

// Info is a snapshot of the build metadata.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// SetInfo overrides the metadata. Empty values keep the current setting.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// Get returns the current metadata. An unset Go version falls back to the
// runtime's.
func Get() Info {
	gv := GoVersion
	if gv == "" || gv == "unknown" {
		gv = runtime.Version()
	}
	return Info{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit, GoVersion: gv}
}

func (i Info) String() string {
	return fmt.Sprintf("Version: %s\nBuild Time: %s\nGit Commit: %s\nGo Version: %s",
		i.Version, i.BuildTime, i.GitCommit, i.GoVersion)
}

// FormatStartupMessage is the line logged when the bot comes up.
func FormatStartupMessage() string {
	return fmt.Sprintf("theaccelbot %s (built %s, commit %s)", Version, BuildTime, GitCommit)
}
