package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
	"github.com/bundleforge/bundleforge/pkg/version"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return NewStore(t.TempDir(), log)
}

// writeVersion creates a complete version directory with all required files.
func writeVersion(t *testing.T, s *Store, name string, v version.ID, description string) {
	t.Helper()
	dir := s.VersionPath(name, v)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	descriptor := `
metadata:
  name: ` + name + `
  version: ` + string(v) + `
  description: ` + description + `
`
	for file, content := range map[string]string{
		DescriptorFile: descriptor,
		LockFile:       "torch==2.4.0\n",
		WorkflowFile:   `{"nodes": []}`,
	} {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
}

func TestListBundlesSkipsEmptyAndHidden(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "flux-dev", "250131-01", "a")
	writeVersion(t, s, "flux-dev", "250131-02", "b")
	writeVersion(t, s, "sdxl", "250130-01", "c")

	// Bundle with no versions and a hidden directory are both ignored.
	if err := os.MkdirAll(s.BundlePath("empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(s.BundlePath(".hidden"), 0o755); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListBundles()
	if err != nil {
		t.Fatalf("ListBundles: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("ListBundles = %d entries, want 2: %+v", len(infos), infos)
	}
	for _, info := range infos {
		if info.Name == "flux-dev" && info.VersionCount != 2 {
			t.Errorf("flux-dev VersionCount = %d, want 2", info.VersionCount)
		}
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "first")
	writeVersion(t, s, "b", "250131-02", "second")
	writeVersion(t, s, "b", "240601-05", "old")

	versions, err := s.ListVersions("b")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	got := make([]string, len(versions))
	for i, v := range versions {
		got[i] = string(v.Version)
	}
	want := []string{"250131-02", "250131-01", "240601-05"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListVersions order = %v, want %v", got, want)
		}
	}
}

func TestListVersionsInvalidDescriptorSentinel(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "good")

	// Version with a descriptor that does not parse.
	dir := s.VersionPath("b", "250131-02")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptorFile), []byte("metadata: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	versions, err := s.ListVersions("b")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("ListVersions = %d entries, want 2", len(versions))
	}
	if versions[0].Description != "(invalid config)" || versions[0].Tested {
		t.Errorf("invalid version listed as %+v", versions[0])
	}
	if versions[1].Description != "good" {
		t.Errorf("valid version listed as %+v", versions[1])
	}
}

func TestListVersionsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListVersions("nope")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("ListVersions(nope) error = %v, want not-found", err)
	}
}

func TestCurrentPointerLifecycle(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "a")
	writeVersion(t, s, "b", "250131-02", "b")

	if cur := s.CurrentVersion("b"); cur != "" {
		t.Fatalf("CurrentVersion before set = %q", cur)
	}

	if err := s.SetCurrentVersion("b", "250131-01"); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}
	if cur := s.CurrentVersion("b"); cur != "250131-01" {
		t.Fatalf("CurrentVersion = %q, want 250131-01", cur)
	}

	// Repointing replaces the link.
	if err := s.SetCurrentVersion("b", "250131-02"); err != nil {
		t.Fatalf("SetCurrentVersion (repoint): %v", err)
	}
	if cur := s.CurrentVersion("b"); cur != "250131-02" {
		t.Fatalf("CurrentVersion after repoint = %q", cur)
	}

	if err := s.SetCurrentVersion("b", "250131-09"); !errdefs.IsNotFound(err) {
		t.Fatalf("SetCurrentVersion to missing version error = %v, want not-found", err)
	}
}

func TestDeleteVersion(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "a")
	writeVersion(t, s, "b", "250131-02", "b")
	if err := s.SetCurrentVersion("b", "250131-02"); err != nil {
		t.Fatal(err)
	}

	// Deleting the current version is refused while the pointer references it.
	err := s.DeleteVersion("b", "250131-02")
	if !errdefs.IsConflict(err) {
		t.Fatalf("DeleteVersion(current) error = %v, want conflict", err)
	}
	if cur := s.CurrentVersion("b"); cur != "250131-02" {
		t.Fatalf("current pointer changed after refused delete: %q", cur)
	}

	if err := s.DeleteVersion("b", "250131-01"); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if _, err := os.Stat(s.VersionPath("b", "250131-01")); !os.IsNotExist(err) {
		t.Error("version directory still present after delete")
	}

	if err := s.DeleteVersion("b", "250131-01"); !errdefs.IsNotFound(err) {
		t.Fatalf("DeleteVersion(absent) error = %v, want not-found", err)
	}
}

func TestResolveVersionPath(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "a")
	writeVersion(t, s, "b", "250131-02", "b")

	// Explicit version.
	p, err := s.ResolveVersionPath("b", "250131-01")
	if err != nil {
		t.Fatalf("ResolveVersionPath explicit: %v", err)
	}
	if p != s.VersionPath("b", "250131-01") {
		t.Errorf("path = %q", p)
	}

	// No current pointer: newest version wins.
	p, err = s.ResolveVersionPath("b", "")
	if err != nil {
		t.Fatalf("ResolveVersionPath fallback: %v", err)
	}
	if p != s.VersionPath("b", "250131-02") {
		t.Errorf("fallback path = %q, want newest", p)
	}

	// Current pointer takes precedence over newest.
	if err := s.SetCurrentVersion("b", "250131-01"); err != nil {
		t.Fatal(err)
	}
	p, err = s.ResolveVersionPath("b", "")
	if err != nil {
		t.Fatalf("ResolveVersionPath current: %v", err)
	}
	if p != s.VersionPath("b", "250131-01") {
		t.Errorf("current path = %q", p)
	}

	if _, err := s.ResolveVersionPath("b", "250131-09"); !errdefs.IsNotFound(err) {
		t.Fatalf("missing explicit version error = %v, want not-found", err)
	}
}

func TestLoadDescriptorMissingFilePriority(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "a")
	dir := s.VersionPath("b", "250131-01")

	// Remove lock and workflow: the lock file is reported first.
	if err := os.Remove(filepath.Join(dir, LockFile)); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, WorkflowFile)); err != nil {
		t.Fatal(err)
	}
	_, err := s.LoadDescriptor(dir)
	if !errdefs.IsValidation(err) {
		t.Fatalf("LoadDescriptor error = %v, want validation", err)
	}
	if !strings.Contains(err.Error(), LockFile) {
		t.Errorf("error should name %s first: %v", LockFile, err)
	}

	// Missing descriptor outranks everything.
	if err := os.Remove(filepath.Join(dir, DescriptorFile)); err != nil {
		t.Fatal(err)
	}
	_, err = s.LoadDescriptor(dir)
	if err == nil || !strings.Contains(err.Error(), DescriptorFile) {
		t.Errorf("error should name %s: %v", DescriptorFile, err)
	}
}

func TestLoadDescriptorComplete(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "b", "250131-01", "described")

	d, err := s.LoadDescriptor(s.VersionPath("b", "250131-01"))
	if err != nil {
		t.Fatalf("LoadDescriptor: %v", err)
	}
	if d.Metadata.Name != "b" || d.Metadata.Description != "described" {
		t.Errorf("descriptor = %+v", d.Metadata)
	}
}

func TestResolveSelectionPrecedence(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "x", "250131-01", "a")
	writeVersion(t, s, "x", "250131-02", "b")
	if err := s.SetCurrentVersion("x", "250131-02"); err != nil {
		t.Fatal(err)
	}

	// Explicit name, current-pointer version.
	name, v, err := s.ResolveSelection("x", "", "", "")
	if err != nil {
		t.Fatalf("ResolveSelection: %v", err)
	}
	if name != "x" || v != "250131-02" {
		t.Errorf("selection = %s/%s", name, v)
	}

	// Explicit version beats everything.
	_, v, err = s.ResolveSelection("x", "250131-01", "x", "250131-02")
	if err != nil {
		t.Fatalf("ResolveSelection: %v", err)
	}
	if v != "250131-01" {
		t.Errorf("version = %s, want explicit 250131-01", v)
	}

	// Environment fills in missing explicit values.
	name, v, err = s.ResolveSelection("", "", "x", "250131-01")
	if err != nil {
		t.Fatalf("ResolveSelection: %v", err)
	}
	if name != "x" || v != "250131-01" {
		t.Errorf("selection = %s/%s", name, v)
	}
}

func TestResolveSelectionErrors(t *testing.T) {
	s := newTestStore(t)
	writeVersion(t, s, "x", "250131-01", "a")

	_, _, err := s.ResolveSelection("", "", "", "")
	if err == nil || !strings.Contains(err.Error(), "no bundle specified") {
		t.Fatalf("error = %v, want no-bundle-specified", err)
	}

	// Name resolvable but no current pointer and no version given.
	_, _, err = s.ResolveSelection("x", "", "", "")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found (no current version)", err)
	}

	// Malformed explicit version.
	_, _, err = s.ResolveSelection("x", "latest", "", "")
	if !errdefs.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestCreateVersionDir(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateVersionDir("new", "250131-01")
	if err != nil {
		t.Fatalf("CreateVersionDir: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("created directory missing: %v", err)
	}

	if _, err := s.CreateVersionDir("new", "250131-01"); !errdefs.IsConflict(err) {
		t.Fatalf("duplicate CreateVersionDir error = %v, want conflict", err)
	}
}
