package deploy

import (
	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/config"
	"github.com/bundleforge/bundleforge/pkg/version"
)

// Plan is the derived execution plan for one deployment. It is a pure
// function of the descriptor, the mode, and the verify flag; deriving a plan
// performs no I/O and has no side effects.
type Plan struct {
	Bundle  string
	Version version.ID
	Mode    config.DeployMode

	WillUpdateEngine      bool
	WillInstallBaseDeps   bool
	WillInstallLockedDeps bool
	WillInstallPlugins    bool
	WillDownloadModels    bool
	WillInstallWorkflow   bool
	WillVerify            bool

	PluginCount     int
	ModelGroupCount int
	ModelFileCount  int
}

// NewPlan derives the plan for deploying the descriptor in the given mode.
// In full mode every flag reflects whether the descriptor has the
// corresponding content. In models-only mode the engine, dependency, and
// plugin flags are forced off; model download, workflow install, and
// verification keep their full-mode values. The lock listing and workflow
// document are required files of every stored version, so their flags depend
// only on the mode.
func NewPlan(d *bundle.Descriptor, mode config.DeployMode, verify bool) Plan {
	full := mode == config.ModeFull

	p := Plan{
		Bundle:  d.Metadata.Name,
		Version: version.ID(d.Metadata.Version),
		Mode:    mode,

		WillUpdateEngine:      full && d.HasEngine(),
		WillInstallBaseDeps:   full && d.HasEngine(),
		WillInstallLockedDeps: full,
		WillInstallPlugins:    full && len(d.Plugins) > 0,
		WillDownloadModels:    len(d.Models) > 0,
		WillInstallWorkflow:   true,
		WillVerify:            verify,

		ModelGroupCount: len(d.Models),
		ModelFileCount:  d.ModelFileCount(),
	}
	if full {
		p.PluginCount = len(d.Plugins)
	}
	return p
}
