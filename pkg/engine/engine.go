// Package engine manages the generative engine installation: pinning it to a
// commit, installing its dependency sets, installing plugins, and probing a
// running instance for the node types it exposes.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
)

// defaultEngineRepo is cloned when a bundle pins an engine commit without
// naming a repository and no installation exists yet.
const defaultEngineRepo = "https://github.com/comfyanonymous/ComfyUI.git"

// Manager performs git and dependency-installer operations against the engine
// installation and its plugin directory.
type Manager struct {
	enginePath string
	pythonBin  string
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
}

// NewManager creates a manager for the engine at enginePath.
func NewManager(enginePath, pythonBin string, log *telemetry.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		enginePath: enginePath,
		pythonBin:  pythonBin,
		log:        log.NewComponentLogger("engine"),
		metrics:    metrics,
	}
}

// PluginsDir returns the plugin installation directory.
func (m *Manager) PluginsDir() string {
	return filepath.Join(m.enginePath, "custom_nodes")
}

// runGit executes a git command and returns its trimmed combined output.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, errdefs.NewTransient(
			fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), output), err).
			WithCode(errdefs.CodeSubprocessFailed).
			WithOperation("git " + args[0])
	}
	return output, nil
}

// runPip executes the dependency installer through the configured
// interpreter.
func (m *Manager) runPip(ctx context.Context, args ...string) error {
	full := append([]string{"-m", "pip"}, args...)
	cmd := exec.CommandContext(ctx, m.pythonBin, full...)
	cmd.Dir = m.enginePath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errdefs.NewTransient(
			fmt.Sprintf("pip %s failed: %s", strings.Join(args, " "), tail(string(out), 2000)), err).
			WithCode(errdefs.CodeSubprocessFailed).
			WithOperation("pip " + args[0])
	}
	return nil
}

// tail returns the last n bytes of s. Installer output can run to megabytes;
// only the end carries the failure.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// CurrentCommit returns the HEAD commit of the repository at dir, or an error
// if dir is not a git repository.
func (m *Manager) CurrentCommit(ctx context.Context, dir string) (string, error) {
	return m.runGit(ctx, dir, "rev-parse", "HEAD")
}

// RemoteURL returns the origin remote URL of the repository at dir.
func (m *Manager) RemoteURL(ctx context.Context, dir string) (string, error) {
	return m.runGit(ctx, dir, "remote", "get-url", "origin")
}

// commitsMatch reports whether two commit identifiers refer to the same
// commit, tolerating short-vs-long SHA forms: either string may be a prefix
// of the other.
func commitsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// Checkout pins the engine to the commit in spec. A missing installation is
// cloned first, from spec.Repo or the upstream default. If the engine is
// already at that commit the checkout is skipped and reported as a success.
func (m *Manager) Checkout(ctx context.Context, spec *bundle.EngineSpec) (string, error) {
	if _, err := os.Stat(filepath.Join(m.enginePath, ".git")); err != nil {
		repo := spec.Repo
		if repo == "" {
			repo = defaultEngineRepo
		}
		m.log.WithField("repo", repo).Info("cloning engine")
		if _, err := m.runGit(ctx, filepath.Dir(m.enginePath), "clone", repo, m.enginePath); err != nil {
			return "", err
		}
		if _, err := m.runGit(ctx, m.enginePath, "checkout", spec.Commit); err != nil {
			return "", err
		}
		return "cloned at " + spec.Commit, nil
	}

	current, err := m.CurrentCommit(ctx, m.enginePath)
	if err == nil && commitsMatch(current, spec.Commit) {
		m.log.WithField("commit", spec.Commit).Info("engine already at pinned commit")
		return "already at " + spec.Commit, nil
	}

	m.log.WithField("commit", spec.Commit).Info("updating engine")
	if _, err := m.runGit(ctx, m.enginePath, "fetch", "--all"); err != nil {
		return "", err
	}
	if _, err := m.runGit(ctx, m.enginePath, "checkout", spec.Commit); err != nil {
		return "", err
	}
	return "checked out " + spec.Commit, nil
}

// InstallBaseRequirements installs the engine's own requirements file.
func (m *Manager) InstallBaseRequirements(ctx context.Context) error {
	req := filepath.Join(m.enginePath, "requirements.txt")
	if _, err := os.Stat(req); err != nil {
		return errdefs.NewValidation(fmt.Sprintf("engine requirements file %s not found", req), err)
	}
	m.log.Info("installing base requirements")
	return m.runPip(ctx, "install", "-r", req)
}

// InstallLockedRequirements overlays the bundle's pinned dependency set.
func (m *Manager) InstallLockedRequirements(ctx context.Context, lockPath string) error {
	if _, err := os.Stat(lockPath); err != nil {
		return errdefs.NewValidation(fmt.Sprintf("lock file %s not found", lockPath), err)
	}
	m.log.WithField("lock", lockPath).Info("installing locked requirements")
	return m.runPip(ctx, "install", "-r", lockPath)
}

// Freeze returns the full list of installed dependency specifiers, one per
// line, as produced by the dependency installer.
func (m *Manager) Freeze(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, m.pythonBin, "-m", "pip", "freeze")
	cmd.Dir = m.enginePath
	out, err := cmd.Output()
	if err != nil {
		return "", errdefs.NewTransient("pip freeze failed", err).
			WithCode(errdefs.CodeSubprocessFailed).
			WithOperation("pip freeze")
	}
	return string(out), nil
}

// PluginResult is the outcome of one plugin installation.
type PluginResult struct {
	Name    string
	Success bool
	Message string
}

// InstallPlugin installs one plugin into the plugin directory. A plugin
// already present at the pinned commit is left alone; one present at a
// different commit is fetched and repinned; an absent plugin is cloned fresh.
// A failed fresh clone is removed so a later run starts clean.
func (m *Manager) InstallPlugin(ctx context.Context, spec bundle.PluginSpec) PluginResult {
	log := m.log.WithField("plugin", spec.Name)
	dir := filepath.Join(m.PluginsDir(), spec.Name)

	if _, err := os.Stat(dir); err == nil {
		current, err := m.CurrentCommit(ctx, dir)
		if err == nil && commitsMatch(current, spec.Commit) {
			log.Debug("already installed at pinned commit")
			m.metrics.RecordPluginInstall("skipped")
			return PluginResult{Name: spec.Name, Success: true, Message: "already installed"}
		}

		log.WithField("commit", spec.Commit).Info("repinning plugin")
		if _, err := m.runGit(ctx, dir, "fetch", "--all"); err != nil {
			m.metrics.RecordPluginInstall("failure")
			return PluginResult{Name: spec.Name, Message: err.Error()}
		}
		if _, err := m.runGit(ctx, dir, "checkout", spec.Commit); err != nil {
			m.metrics.RecordPluginInstall("failure")
			return PluginResult{Name: spec.Name, Message: err.Error()}
		}
		if err := m.installPluginDeps(ctx, dir, spec); err != nil {
			m.metrics.RecordPluginInstall("failure")
			return PluginResult{Name: spec.Name, Message: err.Error()}
		}
		m.metrics.RecordPluginInstall("success")
		return PluginResult{Name: spec.Name, Success: true, Message: "updated to " + spec.Commit}
	}

	log.WithField("repo", spec.Repo).Info("cloning plugin")
	if err := m.clonePlugin(ctx, spec, dir); err != nil {
		// Remove the partial clone so the next attempt is not confused by it.
		os.RemoveAll(dir)
		m.metrics.RecordPluginInstall("failure")
		return PluginResult{Name: spec.Name, Message: err.Error()}
	}
	m.metrics.RecordPluginInstall("success")
	return PluginResult{Name: spec.Name, Success: true, Message: "installed at " + spec.Commit}
}

func (m *Manager) clonePlugin(ctx context.Context, spec bundle.PluginSpec, dir string) error {
	if _, err := m.runGit(ctx, m.PluginsDir(), "clone", spec.Repo, dir); err != nil {
		return err
	}
	if _, err := m.runGit(ctx, dir, "checkout", spec.Commit); err != nil {
		return err
	}
	return m.installPluginDeps(ctx, dir, spec)
}

// installPluginDeps installs the plugin's own requirements file if it ships
// one, then any extra specifiers the bundle declares.
func (m *Manager) installPluginDeps(ctx context.Context, dir string, spec bundle.PluginSpec) error {
	req := filepath.Join(dir, "requirements.txt")
	if _, err := os.Stat(req); err == nil {
		if err := m.runPip(ctx, "install", "-r", req); err != nil {
			return err
		}
	}
	if len(spec.Pip) > 0 {
		args := append([]string{"install"}, spec.Pip...)
		if err := m.runPip(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Status describes the live engine installation.
type Status struct {
	EnginePath  string
	Commit      string
	PluginCount int
	Plugins     []string
}

// Status inspects the engine installation. A missing installation or one that
// is not a git repository yields empty fields rather than an error.
func (m *Manager) Status(ctx context.Context) *Status {
	st := &Status{EnginePath: m.enginePath}

	if commit, err := m.CurrentCommit(ctx, m.enginePath); err == nil {
		st.Commit = commit
	}

	entries, err := os.ReadDir(m.PluginsDir())
	if err != nil {
		return st
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && e.Name() != "__pycache__" {
			st.Plugins = append(st.Plugins, e.Name())
		}
	}
	st.PluginCount = len(st.Plugins)
	return st
}
