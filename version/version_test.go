package version

import "testing"

func TestVersion_Default(t *testing.T) {
	// Default version should be "dev"
	if Version != "dev" {
		// Version may be set by ldflags in CI, so just check it's not empty
		if Version == "" {
			t.Error("Version should not be empty")
		}
	}
}

func TestFull_DefaultVersion(t *testing.T) {
	origVersion := Version
	origCommit := GitCommit
	defer func() {
		Version = origVersion
		GitCommit = origCommit
	}()

	Version = "1.0.0"
	GitCommit = ""

	result := Full()
	if result != "1.0.0" {
		t.Errorf("Full() = %q, want %q", result, "1.0.0")
	}
}

func TestFull_WithCommit(t *testing.T) {
	origVersion := Version
	origCommit := GitCommit
	defer func() {
		Version = origVersion
		GitCommit = origCommit
	}()

	Version = "1.0.0"
	GitCommit = "abc1234"

	result := Full()
	if result != "1.0.0-abc1234" {
		t.Errorf("Full() = %q, want %q", result, "1.0.0-abc1234")
	}
}

func TestDriverName(t *testing.T) {
	if DriverName != "opal-go" {
		t.Errorf("DriverName = %q, want %q", DriverName, "opal-go")
	}
}
