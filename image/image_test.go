package image

import (
	"os"
	"path/filepath"
	"testing"

	msbtypes "github.com/microsandbox/msbcore/internal/types"
)

func TestHomeDefaultsUnderUserHome(t *testing.T) {
	os.Unsetenv(homeEnvVar)

	home, err := Home()
	if err != nil {
		t.Fatalf("Home: %v", err)
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}
	want := filepath.Join(userHome, defaultHomeSubdir)
	if home != want {
		t.Errorf("Home() = %q, want %q", home, want)
	}
}

func TestHomeHonorsEnvOverride(t *testing.T) {
	t.Setenv(homeEnvVar, "/tmp/custom-msb-home")

	home, err := Home()
	if err != nil {
		t.Fatalf("Home: %v", err)
	}
	if home != "/tmp/custom-msb-home" {
		t.Errorf("Home() = %q, want /tmp/custom-msb-home", home)
	}
}

func TestPullOptionsResolveDefaults(t *testing.T) {
	t.Setenv(homeEnvVar, "/tmp/custom-msb-home")

	resolved, err := PullOptions{}.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if resolved.Home != "/tmp/custom-msb-home" {
		t.Errorf("resolved.Home = %q, want /tmp/custom-msb-home", resolved.Home)
	}
	wantExtraction := filepath.Join("/tmp/custom-msb-home", layersSubdir)
	if resolved.ExtractionDir != wantExtraction {
		t.Errorf("resolved.ExtractionDir = %q, want %q", resolved.ExtractionDir, wantExtraction)
	}
	if resolved.Platform != msbtypes.LinuxPlatform() {
		t.Errorf("resolved.Platform = %+v, want %+v", resolved.Platform, msbtypes.LinuxPlatform())
	}
	if resolved.Log == nil {
		t.Error("resolved.Log is nil, want a logger")
	}
}

func TestPullOptionsResolvePreservesExplicitValues(t *testing.T) {
	opts := PullOptions{
		Home:          "/tmp/explicit-home",
		ExtractionDir: "/tmp/explicit-layers",
		Platform:      msbtypes.Platform{OS: "linux", Architecture: "arm64"},
	}

	resolved, err := opts.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if resolved.Home != opts.Home {
		t.Errorf("resolved.Home = %q, want %q", resolved.Home, opts.Home)
	}
	if resolved.ExtractionDir != opts.ExtractionDir {
		t.Errorf("resolved.ExtractionDir = %q, want %q", resolved.ExtractionDir, opts.ExtractionDir)
	}
	if resolved.Platform != opts.Platform {
		t.Errorf("resolved.Platform = %+v, want %+v", resolved.Platform, opts.Platform)
	}
}
