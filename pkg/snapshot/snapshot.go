// Package snapshot materializes a new bundle version from a live engine
// installation: its commit, its installed plugins, and its full dependency
// set, paired with a hand-supplied workflow document.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
	"github.com/bundleforge/bundleforge/pkg/version"
)

// Inspector reads the live installation's state. Implemented by
// engine.Manager.
type Inspector interface {
	CurrentCommit(ctx context.Context, dir string) (string, error)
	RemoteURL(ctx context.Context, dir string) (string, error)
	Freeze(ctx context.Context) (string, error)
	PluginsDir() string
}

// Capturer writes bundle versions from live installation state.
type Capturer struct {
	store      *bundle.Store
	inspector  Inspector
	enginePath string
	log        *telemetry.Logger
}

// NewCapturer wires a capturer against the engine at enginePath.
func NewCapturer(store *bundle.Store, inspector Inspector, enginePath string, log *telemetry.Logger) *Capturer {
	return &Capturer{
		store:      store,
		inspector:  inspector,
		enginePath: enginePath,
		log:        log.NewComponentLogger("snapshot"),
	}
}

// Request describes one capture.
type Request struct {
	Bundle       string
	WorkflowPath string
	Description  string

	// ExtraPathsFile is an optional path-mapping file to copy into the
	// version directory.
	ExtraPathsFile string

	// NoSetCurrent suppresses the automatic current-pointer assignment that
	// otherwise happens for a bundle's first version.
	NoSetCurrent bool
}

// Capture inspects the live installation and writes a new bundle version.
// The captured models list is always empty; model files are curated by hand
// afterwards. If this is the bundle's first version it becomes current.
func (c *Capturer) Capture(ctx context.Context, req Request) (version.ID, error) {
	if req.Bundle == "" {
		return "", errdefs.NewValidation("bundle name is required", nil)
	}
	if _, err := os.Stat(c.enginePath); err != nil {
		return "", errdefs.NewValidation(fmt.Sprintf("engine installation %s not found", c.enginePath), err)
	}
	workflowData, err := os.ReadFile(req.WorkflowPath)
	if err != nil {
		return "", errdefs.NewValidation(fmt.Sprintf("workflow document %s not readable", req.WorkflowPath), err)
	}

	existing, err := c.store.VersionIDs(req.Bundle)
	if err != nil {
		return "", err
	}
	v, err := version.Next(existing, time.Now())
	if err != nil {
		return "", err
	}
	log := c.log.WithBundle(req.Bundle, string(v))

	descriptor := &bundle.Descriptor{
		Metadata: bundle.Metadata{
			Name:        req.Bundle,
			Version:     string(v),
			CreatedAt:   time.Now().UTC(),
			Description: req.Description,
		},
		Engine:  c.captureEngine(ctx, log),
		Plugins: c.capturePlugins(ctx, log),
		Models:  nil,
	}

	lock, err := c.inspector.Freeze(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture dependency set: %w", err)
	}

	dir, err := c.store.CreateVersionDir(req.Bundle, v)
	if err != nil {
		return "", err
	}
	if err := c.writeVersion(dir, descriptor, lock, workflowData, req.ExtraPathsFile); err != nil {
		// Never leave a half-written version behind; it would be listed as
		// invalid forever.
		os.RemoveAll(dir)
		return "", err
	}

	if len(existing) == 0 && !req.NoSetCurrent {
		if err := c.store.SetCurrentVersion(req.Bundle, v); err != nil {
			log.WithError(err).Warn("failed to set first version as current")
		}
	}

	log.Infof("captured %d plugins, engine pin %v", len(descriptor.Plugins), descriptor.HasEngine())
	return v, nil
}

// captureEngine records the engine's repository and commit. An installation
// that is not a git repository or has no usable remote yields no engine pin.
func (c *Capturer) captureEngine(ctx context.Context, log *telemetry.Logger) *bundle.EngineSpec {
	commit, err := c.inspector.CurrentCommit(ctx, c.enginePath)
	if err != nil {
		log.Warn("engine is not a git repository, skipping engine pin")
		return nil
	}
	repo, err := c.inspector.RemoteURL(ctx, c.enginePath)
	if err != nil {
		log.Warn("engine has no origin remote, skipping engine pin")
		return nil
	}
	return &bundle.EngineSpec{Repo: repo, Commit: commit}
}

// capturePlugins scans the plugin directory for git repositories. Entries
// that are not repositories or have no remote are skipped with a warning.
func (c *Capturer) capturePlugins(ctx context.Context, log *telemetry.Logger) []bundle.PluginSpec {
	entries, err := os.ReadDir(c.inspector.PluginsDir())
	if err != nil {
		log.WithError(err).Warn("plugin directory not readable")
		return nil
	}

	var specs []bundle.PluginSpec
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == "__pycache__" {
			continue
		}
		dir := filepath.Join(c.inspector.PluginsDir(), e.Name())

		commit, err := c.inspector.CurrentCommit(ctx, dir)
		if err != nil {
			log.Warnf("plugin %s is not a git repository, skipping", e.Name())
			continue
		}
		repo, err := c.inspector.RemoteURL(ctx, dir)
		if err != nil {
			log.Warnf("plugin %s has no origin remote, skipping", e.Name())
			continue
		}
		specs = append(specs, bundle.PluginSpec{Name: e.Name(), Repo: repo, Commit: commit})
	}
	return specs
}

func (c *Capturer) writeVersion(dir string, d *bundle.Descriptor, lock string, workflowData []byte, extraPathsFile string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundle.DescriptorFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundle.LockFile), []byte(lock), 0o644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundle.WorkflowFile), workflowData, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow: %w", err)
	}

	if extraPathsFile != "" {
		extra, err := os.ReadFile(extraPathsFile)
		if err != nil {
			return errdefs.NewValidation(fmt.Sprintf("extra paths file %s not readable", extraPathsFile), err)
		}
		if err := os.WriteFile(filepath.Join(dir, bundle.ExtraPathsFile), extra, 0o644); err != nil {
			return fmt.Errorf("failed to write extra paths file: %w", err)
		}
	}
	return nil
}
