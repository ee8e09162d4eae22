// Package version reports the bridge build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set through -ldflags "-X github.com/memohai/dingtalk-bridge/internal/version.Version=..."
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build description printed by the version command and returned by /ping.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

var vcsOnce sync.Once

// Get returns the build info, filling commit and time from VCS stamps when ldflags
// left them empty.
func Get() Info {
	vcsOnce.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
	return Info{
		Version:   Version,
		Commit:    shortHash(CommitHash),
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// String formats the info as "version (commit)".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, i.Commit)
}
