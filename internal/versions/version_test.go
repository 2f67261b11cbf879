package versions

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	t.Parallel()

	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
		check     func(t *testing.T, info VersionInfo)
	}{
		{
			name:      "release build",
			version:   "1.4.0",
			commit:    "abcdef1234567890",
			buildDate: "2026-01-15T10:00:00Z",
			check: func(t *testing.T, info VersionInfo) {
				assert.Equal(t, "1.4.0", info.Version)
				assert.Equal(t, "abcdef1234567890", info.Commit)
				assert.Contains(t, info.BuildDate, "2026-01-15")
			},
		},
		{
			name:      "dev build manufactures version from commit",
			version:   "dev",
			commit:    "abcdef1234567890",
			buildDate: unknownStr,
			check: func(t *testing.T, info VersionInfo) {
				assert.True(t, strings.HasPrefix(info.Version, "build-abcdef12"), info.Version)
			},
		},
		{
			name:      "non-timestamp build date passes through",
			version:   "2.0.0",
			commit:    "deadbeef",
			buildDate: "yesterday",
			check: func(t *testing.T, info VersionInfo) {
				assert.Equal(t, "yesterday", info.BuildDate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate)
			tt.check(t, info)
		})
	}
}
