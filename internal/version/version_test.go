package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, Version, GetCurrentVersion("prod"))
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, DevVersion, GetCurrentVersion("demo"))
}

func TestGetMinorVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
	}{
		{"full version", "1.2.3", "1.2"},
		{"prerelease suffix", "0.0.0-dev", "0.0"},
		{"already major.minor", "1.2", "1.2"},
		{"not semver", "latest", "latest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetMinorVersion(tt.version))
		})
	}
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		name    string
		version string
		target  string
		want    bool
	}{
		{"equal", "1.2.3", "1.2.3", true},
		{"greater patch", "1.2.4", "1.2.3", true},
		{"greater minor", "1.3.0", "1.2.9", true},
		{"lesser minor", "1.1.9", "1.2.0", false},
		{"prerelease below release", "1.2.3-rc1", "1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target))
		})
	}
}
