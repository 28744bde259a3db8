// Package deploy derives deployment plans from bundle descriptors and
// executes them against the engine, downloader, and workflow collaborators,
// producing a report of per-step and per-item outcomes.
package deploy

import (
	"context"
	"time"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/download"
	"github.com/bundleforge/bundleforge/pkg/engine"
)

// EngineManager pins the engine, installs dependency sets, and installs
// plugins. Implemented by engine.Manager.
type EngineManager interface {
	Checkout(ctx context.Context, spec *bundle.EngineSpec) (string, error)
	InstallBaseRequirements(ctx context.Context) error
	InstallLockedRequirements(ctx context.Context, lockPath string) error
	InstallPlugin(ctx context.Context, spec bundle.PluginSpec) engine.PluginResult
}

// ModelDownloader transfers model files into the engine's model directories.
// Implemented by download.Downloader.
type ModelDownloader interface {
	Download(ctx context.Context, files []bundle.PlacedModelFile, modelsRoot string) []download.Result
}

// WorkflowInstaller copies workflow documents into the engine. Implemented by
// workflow.Installer.
type WorkflowInstaller interface {
	Install(srcPath, bundleName string) (string, error)
}

// EngineProber starts the engine and queries the node types it exposes.
// Implemented by engine.Prober.
type EngineProber interface {
	Start(ctx context.Context) (*engine.Handle, error)
	WaitReady(ctx context.Context, timeout time.Duration) bool
	Introspect(ctx context.Context) ([]string, error)
	Stop(h *engine.Handle)
}

// HistoryRecorder persists finished deployment reports. Implemented by
// history.Store. A nil recorder disables history.
type HistoryRecorder interface {
	RecordDeployment(ctx context.Context, report *Report) error
}
