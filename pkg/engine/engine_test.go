package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bundleforge/bundleforge/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func TestCommitsMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"aabbccdd", "aabbccdd", true},
		{"aabbccdd", "aabbccddeeff00112233445566778899aabbccdd", true},
		{"aabbccddeeff00112233445566778899aabbccdd", "aabbccdd", true},
		{"aabbccdd", "ffeeddcc", false},
		{"", "aabbccdd", false},
		{"aabbccdd", "", false},
	}
	for _, c := range cases {
		if got := commitsMatch(c.a, c.b); got != c.want {
			t.Errorf("commitsMatch(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 100); got != "short" {
		t.Errorf("tail = %q", got)
	}
	long := "aaaaabbbbb"
	if got := tail(long, 5); got != "...bbbbb" {
		t.Errorf("tail = %q", got)
	}
}

func TestStatusListsPlugins(t *testing.T) {
	enginePath := t.TempDir()
	plugins := filepath.Join(enginePath, "custom_nodes")
	for _, name := range []string{"ComfyUI-Manager", "rgthree-comfy", "__pycache__", ".git"} {
		if err := os.MkdirAll(filepath.Join(plugins, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Stray file, not a plugin.
	if err := os.WriteFile(filepath.Join(plugins, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(enginePath, "python3", testLogger(t), nil)
	st := m.Status(context.Background())

	if st.PluginCount != 2 {
		t.Fatalf("PluginCount = %d, want 2: %v", st.PluginCount, st.Plugins)
	}
	// Not a git repository: commit stays empty rather than erroring.
	if st.Commit != "" {
		t.Errorf("Commit = %q, want empty for non-repository", st.Commit)
	}
}

func TestStatusMissingPluginDir(t *testing.T) {
	m := NewManager(t.TempDir(), "python3", testLogger(t), nil)
	st := m.Status(context.Background())
	if st.PluginCount != 0 {
		t.Errorf("PluginCount = %d, want 0", st.PluginCount)
	}
}

func TestInstallBaseRequirementsMissingFile(t *testing.T) {
	m := NewManager(t.TempDir(), "python3", testLogger(t), nil)
	if err := m.InstallBaseRequirements(context.Background()); err == nil {
		t.Fatal("InstallBaseRequirements succeeded without requirements.txt")
	}
}

func TestInstallLockedRequirementsMissingFile(t *testing.T) {
	m := NewManager(t.TempDir(), "python3", testLogger(t), nil)
	err := m.InstallLockedRequirements(context.Background(), filepath.Join(t.TempDir(), "absent.lock"))
	if err == nil {
		t.Fatal("InstallLockedRequirements succeeded without lock file")
	}
}
