// Package version reports build information for the rehydrate binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Program is the binary name used in version strings.
const Program = "rehydrate"

// Set via ldflags:
//
//	-X github.com/Aman-CERP/rehydrate/pkg/version.Version=$(VERSION)
//	-X github.com/Aman-CERP/rehydrate/pkg/version.Commit=$(COMMIT)
//	-X github.com/Aman-CERP/rehydrate/pkg/version.Date=$(DATE)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is structured version information for --json output.
type BuildInfo struct {
	Program   string `json:"program"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns build information. Commit and Date fall back to the VCS
// stamp the Go toolchain embeds when ldflags did not set them.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Program:   Program,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value
				if len(info.Commit) > 12 {
					info.Commit = info.Commit[:12]
				}
			}
		case "vcs.time":
			if info.Date == "unknown" && s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String returns a one-line version string.
func String() string {
	i := GetInfo()
	dirty := ""
	if i.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("%s %s (commit: %s%s, built: %s, go: %s, %s/%s)",
		i.Program, i.Version, i.Commit, dirty, i.Date, i.GoVersion, i.OS, i.Arch)
}

// Short returns just the version.
func Short() string {
	return Version
}
