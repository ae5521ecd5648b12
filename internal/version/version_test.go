package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	t.Run("default values", func(t *testing.T) {
		Version, Commit, BuildTime = "dev", "unknown", "unknown"

		result := String()
		if result != "dev (unknown) built unknown" {
			t.Errorf("String() = %q, want %q", result, "dev (unknown) built unknown")
		}
	})

	t.Run("custom values", func(t *testing.T) {
		Version, Commit, BuildTime = "1.2.3", "abc1234", "2026-01-15T12:00:00Z"

		result := String()
		for _, part := range []string{"1.2.3", "(abc1234)", "2026-01-15T12:00:00Z"} {
			if !strings.Contains(result, part) {
				t.Errorf("String() = %q, should contain %q", result, part)
			}
		}
	})
}

func TestUserAgent(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "0.4.0"
	if got := UserAgent(); got != "taskstream/0.4.0" {
		t.Errorf("UserAgent() = %q, want %q", got, "taskstream/0.4.0")
	}
}
