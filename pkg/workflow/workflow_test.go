package workflow

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
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

func TestInstallCopiesDocument(t *testing.T) {
	engine := t.TempDir()
	src := filepath.Join(t.TempDir(), "workflow.json")
	content := `{"nodes": [{"type": "KSampler"}]}`
	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	inst := NewInstaller(engine, testLogger(t))
	location, err := inst.Install(src, "flux-dev")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := filepath.Join(engine, "user", "default", "workflows", "flux-dev_workflow.json")
	if location != want {
		t.Errorf("location = %q, want %q", location, want)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read installed workflow: %v", err)
	}
	if string(data) != content {
		t.Error("installed content differs from source")
	}
}

func TestInstallRejectsInvalidJSON(t *testing.T) {
	src := filepath.Join(t.TempDir(), "workflow.json")
	if err := os.WriteFile(src, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	inst := NewInstaller(t.TempDir(), testLogger(t))
	_, err := inst.Install(src, "b")
	if !errdefs.IsValidation(err) {
		t.Fatalf("Install error = %v, want validation", err)
	}
}

func TestInstallRejectsMissingSource(t *testing.T) {
	inst := NewInstaller(t.TempDir(), testLogger(t))
	if _, err := inst.Install(filepath.Join(t.TempDir(), "absent.json"), "b"); !errdefs.IsValidation(err) {
		t.Fatalf("Install error = %v, want validation", err)
	}
}

func TestExtractNodeTypesEditorFormat(t *testing.T) {
	doc := `{"nodes": [
		{"type": "KSampler"},
		{"type": "CLIPTextEncode"},
		{"type": "KSampler"}
	]}`
	got, err := ExtractNodeTypes([]byte(doc))
	if err != nil {
		t.Fatalf("ExtractNodeTypes: %v", err)
	}
	want := []string{"CLIPTextEncode", "KSampler"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestExtractNodeTypesPromptFormat(t *testing.T) {
	doc := `{
		"1": {"class_type": "CheckpointLoaderSimple", "inputs": {}},
		"2": {"class_type": "VAEDecode", "inputs": {}},
		"extra": {"class_type": "Ignored"}
	}`
	got, err := ExtractNodeTypes([]byte(doc))
	if err != nil {
		t.Fatalf("ExtractNodeTypes: %v", err)
	}
	want := []string{"CheckpointLoaderSimple", "VAEDecode"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestExtractNodeTypesUnionsBothFormats(t *testing.T) {
	doc := `{
		"nodes": [{"type": "KSampler"}],
		"7": {"class_type": "VAEDecode"}
	}`
	got, err := ExtractNodeTypes([]byte(doc))
	if err != nil {
		t.Fatalf("ExtractNodeTypes: %v", err)
	}
	want := []string{"KSampler", "VAEDecode"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestExtractNodeTypesRejectsNonObject(t *testing.T) {
	if _, err := ExtractNodeTypes([]byte(`[1, 2]`)); !errdefs.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestExtractNodeTypesEmptyDocument(t *testing.T) {
	got, err := ExtractNodeTypes([]byte(`{}`))
	if err != nil {
		t.Fatalf("ExtractNodeTypes: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("types = %v, want empty", got)
	}
}
