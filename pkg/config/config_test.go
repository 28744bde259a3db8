package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.EnginePath != "/workspace/ComfyUI" {
		t.Errorf("EnginePath = %q", cfg.EnginePath)
	}
	if cfg.BundlesPath != "config/bundles" {
		t.Errorf("BundlesPath = %q", cfg.BundlesPath)
	}
	if cfg.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.EnginePort != 8188 {
		t.Errorf("EnginePort = %d", cfg.EnginePort)
	}
	if cfg.EngineStartTimeout != 120*time.Second {
		t.Errorf("EngineStartTimeout = %v", cfg.EngineStartTimeout)
	}
	if !cfg.SkipExisting {
		t.Error("SkipExisting should default to true")
	}
	if cfg.DeployMode != string(ModeFull) {
		t.Errorf("DeployMode = %q", cfg.DeployMode)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FORGE_ENGINE_PATH", "/opt/engine")
	t.Setenv("FORGE_BUNDLE", "flux-dev")
	t.Setenv("FORGE_MAX_CONCURRENT_DOWNLOADS", "5")
	t.Setenv("FORGE_HF_TOKEN", "hf_secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.EnginePath != "/opt/engine" {
		t.Errorf("EnginePath = %q", cfg.EnginePath)
	}
	if cfg.Bundle != "flux-dev" {
		t.Errorf("Bundle = %q", cfg.Bundle)
	}
	if cfg.MaxConcurrentDownloads != 5 {
		t.Errorf("MaxConcurrentDownloads = %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.HFToken != "hf_secret" {
		t.Errorf("HFToken = %q", cfg.HFToken)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	content := "engine_path: /srv/comfy\nmax_concurrent_downloads: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.EnginePath != "/srv/comfy" {
		t.Errorf("EnginePath = %q", cfg.EnginePath)
	}
	if cfg.MaxConcurrentDownloads != 8 {
		t.Errorf("MaxConcurrentDownloads = %d", cfg.MaxConcurrentDownloads)
	}
}

func TestLoadRejectsOutOfRangeConcurrency(t *testing.T) {
	t.Setenv("FORGE_MAX_CONCURRENT_DOWNLOADS", "50")

	if _, err := Load(""); err == nil {
		t.Fatal("Load succeeded with out-of-range concurrency")
	}
}

func TestLoadRejectsUnknownDeployMode(t *testing.T) {
	t.Setenv("FORGE_DEPLOY_MODE", "partial")

	if _, err := Load(""); err == nil {
		t.Fatal("Load succeeded with unknown deploy mode")
	}
}

func TestParseDeployMode(t *testing.T) {
	if m, err := ParseDeployMode("FULL"); err != nil || m != ModeFull {
		t.Errorf("ParseDeployMode(FULL) = %v, %v", m, err)
	}
	if m, err := ParseDeployMode("models_only"); err != nil || m != ModeModelsOnly {
		t.Errorf("ParseDeployMode(models_only) = %v, %v", m, err)
	}
	if _, err := ParseDeployMode("nope"); err == nil {
		t.Error("ParseDeployMode(nope) should fail")
	}
}

func TestDerivedPaths(t *testing.T) {
	s := &Settings{EnginePath: "/workspace/ComfyUI"}
	if got := s.ModelsPath(); got != "/workspace/ComfyUI/models" {
		t.Errorf("ModelsPath = %q", got)
	}
	if got := s.PluginsPath(); got != "/workspace/ComfyUI/custom_nodes" {
		t.Errorf("PluginsPath = %q", got)
	}
}
