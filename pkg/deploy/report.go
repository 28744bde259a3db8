package deploy

import (
	"time"

	"github.com/bundleforge/bundleforge/pkg/download"
	"github.com/bundleforge/bundleforge/pkg/engine"
)

// Step names recorded in deployment reports.
const (
	StepUpdateEngine      = "update_engine"
	StepInstallBaseDeps   = "install_base_deps"
	StepInstallLockedDeps = "install_locked_deps"
	StepInstallPlugins    = "install_plugins"
	StepDownloadModels    = "download_models"
	StepInstallWorkflow   = "install_workflow"
	StepInstallExtraPaths = "install_extra_paths"
	StepVerify            = "verify"
)

// StepResult is the outcome of one executed step. Skipped steps are not
// recorded at all.
type StepResult struct {
	Name    string
	Success bool
	Message string
}

// Verification is the outcome of the post-deployment engine probe.
type Verification struct {
	Expected  []string
	Available []string
	Missing   []string
	Success   bool
}

// Report accumulates the outcomes of one deployment run.
type Report struct {
	RunID   string
	Bundle  string
	Version string
	Mode    string

	StartedAt  time.Time
	FinishedAt time.Time

	Steps        []StepResult
	Downloads    []download.Result
	Plugins      []engine.PluginResult
	Workflows    []string
	Verification *Verification
	Errors       []string
}

// AddStep records an executed step's outcome.
func (r *Report) AddStep(name string, success bool, message string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Success: success, Message: message})
}

// AddError records a hard error.
func (r *Report) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Success reports whether the whole deployment succeeded: every recorded
// step succeeded and no hard errors occurred. Steps that completed before a
// later failure keep their recorded success; the conjunction still fails.
func (r *Report) Success() bool {
	if len(r.Errors) > 0 {
		return false
	}
	for _, s := range r.Steps {
		if !s.Success {
			return false
		}
	}
	return true
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
