package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"strings"
	"testing"
)

func TestVersion_Format(t *testing.T) {
	// Version should be a valid semver
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	if !semverRegex.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver", Version)
	}
}

func TestUserAgent_IncludesVersion(t *testing.T) {
	if !strings.HasSuffix(UserAgent, Version) {
		t.Errorf("UserAgent %q should end with %q", UserAgent, Version)
	}
}
