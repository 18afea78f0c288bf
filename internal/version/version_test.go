package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLdflagsVersionWins(t *testing.T) {
	old, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = old, oldCommit })

	Version, GitCommit = "v1.2.0", "0123456789abcdef"
	assert.Equal(t, "v1.2.0", GetVersion())
	assert.True(t, IsRelease())
	assert.Equal(t, "v1.2.0 (0123456)", GetShortVersion())
	assert.True(t, strings.HasPrefix(GetDetailedVersion(), "Version: v1.2.0\nCommit: 0123456789abcdef"))
}

func TestParseBuildTime(t *testing.T) {
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), parseBuildTime("2026-01-02T03:04:05Z"))
	assert.True(t, parseBuildTime("unknown").IsZero())
}

func TestBuildInfoPlatform(t *testing.T) {
	info := GetBuildInfo()
	assert.Contains(t, info.Platform, "/")
	assert.NotEmpty(t, info.GoVersion)
}
