// Package version reports the build of the playpen binary. Values come from
// -ldflags when set and from the module build info otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/conneroisu/playpen/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

type vcsInfo struct {
	module   string
	revision string
	modified bool
}

var readVCS = sync.OnceValue(func() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if info.Main.Version != "(devel)" {
		v.module = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
})

// GetBuildInfo returns comprehensive build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     readVCS().modified,
	}
}

// GetVersion returns the release version, or dev-<commit> for untagged
// builds.
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	v := readVCS()
	if v.module != "" {
		return v.module
	}
	if len(v.revision) >= 7 {
		return "dev-" + v.revision[:7]
	}
	return "dev"
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := readVCS().revision; rev != "" {
		return rev
	}
	return "unknown"
}

// GetShortVersion returns a short version string suitable for display and
// the User-Agent of outgoing requests.
func GetShortVersion() string {
	version := GetVersion()
	commit := GetGitCommit()
	if IsRelease() && len(commit) >= 7 {
		return fmt.Sprintf("%s (%s)", version, commit[:7])
	}
	return version
}

// GetDetailedVersion returns one "Key: value" line per build attribute.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	parts := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		parts = append(parts, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		parts = append(parts, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	parts = append(parts, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	if info.Dirty {
		parts = append(parts, "Working tree: dirty")
	}
	return strings.Join(parts, "\n")
}

// IsRelease reports whether this is a tagged build.
func IsRelease() bool {
	v := GetVersion()
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

func parseBuildTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
