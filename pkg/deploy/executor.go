package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/config"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
	"github.com/bundleforge/bundleforge/pkg/version"
	"github.com/bundleforge/bundleforge/pkg/workflow"
)

// Request selects what to deploy. Empty Bundle/Version fall back to the
// environment defaults and then to the bundle's current pointer.
type Request struct {
	Bundle  string
	Version string
	Mode    config.DeployMode
	Verify  bool
}

// Resolution is the outcome of resolving a request against the bundle store:
// the concrete bundle version, its on-disk location, its descriptor, and the
// derived plan.
type Resolution struct {
	Bundle     string
	Version    version.ID
	Path       string
	Descriptor *bundle.Descriptor
	Plan       Plan
}

// Executor runs deployment plans against the engine, downloader, and
// workflow collaborators.
type Executor struct {
	store      *bundle.Store
	engine     EngineManager
	downloader ModelDownloader
	workflows  WorkflowInstaller
	prober     EngineProber
	history    HistoryRecorder

	cfg     *config.Settings
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewExecutor wires an executor. history may be nil to disable recording.
func NewExecutor(
	store *bundle.Store,
	eng EngineManager,
	downloader ModelDownloader,
	workflows WorkflowInstaller,
	prober EngineProber,
	history HistoryRecorder,
	cfg *config.Settings,
	log *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Executor {
	return &Executor{
		store:      store,
		engine:     eng,
		downloader: downloader,
		workflows:  workflows,
		prober:     prober,
		history:    history,
		cfg:        cfg,
		log:        log.NewComponentLogger("deploy"),
		metrics:    metrics,
	}
}

// Resolve turns a request into a concrete bundle version and plan without
// executing anything. Used directly for dry runs.
func (e *Executor) Resolve(req Request) (*Resolution, error) {
	name, v, err := e.store.ResolveSelection(req.Bundle, req.Version, e.cfg.Bundle, e.cfg.BundleVersion)
	if err != nil {
		return nil, err
	}
	path, err := e.store.ResolveVersionPath(name, v)
	if err != nil {
		return nil, err
	}
	d, err := e.store.LoadDescriptor(path)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Bundle:     name,
		Version:    v,
		Path:       path,
		Descriptor: d,
		Plan:       NewPlan(d, req.Mode, req.Verify),
	}, nil
}

// Deploy resolves the request and executes the resulting plan. Resolution
// failures return an error with no report; execution failures are carried
// inside the report.
func (e *Executor) Deploy(ctx context.Context, req Request) (*Report, error) {
	res, err := e.Resolve(req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, res), nil
}

// Execute runs the plan's steps in fixed order. Engine and dependency steps
// abort the remainder on failure; plugin, model, and workflow steps tolerate
// partial failure; verification runs last and never retroactively fails
// earlier steps.
func (e *Executor) Execute(ctx context.Context, res *Resolution) *Report {
	plan := res.Plan
	report := &Report{
		RunID:     uuid.NewString(),
		Bundle:    res.Bundle,
		Version:   string(res.Version),
		Mode:      string(plan.Mode),
		StartedAt: time.Now().UTC(),
	}

	log := e.log.WithRunID(report.RunID).WithBundle(res.Bundle, string(res.Version))
	log.WithField("mode", plan.Mode).Info("deployment started")
	e.metrics.RecordDeploymentStarted(string(plan.Mode))

	defer func() {
		report.FinishedAt = time.Now().UTC()
		status := "failure"
		if report.Success() {
			status = "success"
		}
		e.metrics.RecordDeploymentCompleted(status, report.Duration())
		log.WithField("status", status).Infof("deployment finished in %s", report.Duration().Round(time.Millisecond))

		if e.history != nil {
			if err := e.history.RecordDeployment(ctx, report); err != nil {
				log.WithError(err).Warn("failed to record deployment history")
			}
		}
	}()

	// Engine and dependency steps. A failure here makes every later step
	// meaningless, so the sequence aborts.
	if plan.WillUpdateEngine {
		msg, err := e.engine.Checkout(ctx, res.Descriptor.Engine)
		if !e.recordStep(report, log, StepUpdateEngine, msg, err) {
			report.AddError("engine update failed, aborting deployment")
			return report
		}
	}
	if plan.WillInstallBaseDeps {
		err := e.engine.InstallBaseRequirements(ctx)
		if !e.recordStep(report, log, StepInstallBaseDeps, "base requirements installed", err) {
			report.AddError("base dependency install failed, aborting deployment")
			return report
		}
	}
	if plan.WillInstallLockedDeps {
		err := e.engine.InstallLockedRequirements(ctx, filepath.Join(res.Path, bundle.LockFile))
		if !e.recordStep(report, log, StepInstallLockedDeps, "locked requirements installed", err) {
			report.AddError("locked dependency install failed, aborting deployment")
			return report
		}
	}

	// Partial-failure-tolerant steps.
	if plan.WillInstallPlugins {
		e.installPlugins(ctx, res, report, log)
	}
	if plan.WillDownloadModels {
		e.downloadModels(ctx, res, report, log)
	}
	if plan.WillInstallWorkflow {
		e.installWorkflow(res, report, log)
	}
	e.installExtraPaths(res, report, log)

	if plan.WillVerify {
		e.verify(ctx, res, report, log)
	}

	return report
}

// recordStep records one step outcome with timing-free bookkeeping and
// returns whether the step succeeded.
func (e *Executor) recordStep(report *Report, log *telemetry.Logger, name, okMsg string, err error) bool {
	start := time.Now()
	if err != nil {
		report.AddStep(name, false, err.Error())
		e.metrics.RecordStep(name, "failure", time.Since(start))
		log.WithStep(name).WithError(err).Error("step failed")
		return false
	}
	report.AddStep(name, true, okMsg)
	e.metrics.RecordStep(name, "success", time.Since(start))
	log.WithStep(name).Info(okMsg)
	return true
}

// installPlugins installs each plugin in descriptor order, sequentially.
// Concurrent dependency installs into one shared environment are unsafe.
func (e *Executor) installPlugins(ctx context.Context, res *Resolution, report *Report, log *telemetry.Logger) {
	start := time.Now()
	failed := 0
	for _, spec := range res.Descriptor.Plugins {
		r := e.engine.InstallPlugin(ctx, spec)
		report.Plugins = append(report.Plugins, r)
		if !r.Success {
			failed++
			log.WithStep(StepInstallPlugins).Errorf("plugin %s failed: %s", r.Name, r.Message)
		}
	}

	total := len(res.Descriptor.Plugins)
	success := failed == 0
	msg := fmt.Sprintf("%d/%d plugins installed", total-failed, total)
	report.AddStep(StepInstallPlugins, success, msg)
	status := "success"
	if !success {
		status = "failure"
	}
	e.metrics.RecordStep(StepInstallPlugins, status, time.Since(start))
	log.WithStep(StepInstallPlugins).Info(msg)
}

// downloadModels fans the model files out to the downloader and folds the
// per-file results into one step outcome.
func (e *Executor) downloadModels(ctx context.Context, res *Resolution, report *Report, log *telemetry.Logger) {
	start := time.Now()
	results := e.downloader.Download(ctx, res.Descriptor.AllModelFiles(), e.cfg.ModelsPath())
	report.Downloads = append(report.Downloads, results...)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
			log.WithStep(StepDownloadModels).Errorf("download %s failed: %s", r.Filename, r.Error)
		}
	}

	success := failed == 0
	msg := fmt.Sprintf("%d/%d model files ready", len(results)-failed, len(results))
	report.AddStep(StepDownloadModels, success, msg)
	status := "success"
	if !success {
		status = "failure"
	}
	e.metrics.RecordStep(StepDownloadModels, status, time.Since(start))
	log.WithStep(StepDownloadModels).Info(msg)
}

func (e *Executor) installWorkflow(res *Resolution, report *Report, log *telemetry.Logger) {
	location, err := e.workflows.Install(filepath.Join(res.Path, bundle.WorkflowFile), res.Bundle)
	if e.recordStep(report, log, StepInstallWorkflow, "workflow installed at "+location, err) {
		report.Workflows = append(report.Workflows, location)
	}
}

// installExtraPaths copies the optional path-mapping file into the engine
// directory. Absent file means the step is skipped, not failed.
func (e *Executor) installExtraPaths(res *Resolution, report *Report, log *telemetry.Logger) {
	src := filepath.Join(res.Path, bundle.ExtraPathsFile)
	data, err := os.ReadFile(src)
	if err != nil {
		if !os.IsNotExist(err) {
			e.recordStep(report, log, StepInstallExtraPaths, "", err)
		}
		return
	}

	target := filepath.Join(e.cfg.EnginePath, bundle.ExtraPathsFile)
	err = os.WriteFile(target, data, 0o644)
	e.recordStep(report, log, StepInstallExtraPaths, "extra model paths installed", err)
}

// verify starts the engine, waits for readiness, and checks that every node
// type the workflow declares is available. The child process is always torn
// down, whatever the outcome.
func (e *Executor) verify(ctx context.Context, res *Resolution, report *Report, log *telemetry.Logger) {
	start := time.Now()

	fail := func(msg string) {
		if report.Verification == nil {
			report.Verification = &Verification{}
		}
		report.AddStep(StepVerify, false, msg)
		e.metrics.RecordStep(StepVerify, "failure", time.Since(start))
		log.WithStep(StepVerify).Error(msg)
	}

	data, err := os.ReadFile(filepath.Join(res.Path, bundle.WorkflowFile))
	if err != nil {
		fail("cannot read workflow document: " + err.Error())
		return
	}
	expected, err := workflow.ExtractNodeTypes(data)
	if err != nil {
		fail("cannot extract node types: " + err.Error())
		return
	}

	handle, err := e.prober.Start(ctx)
	if err != nil {
		fail("cannot start engine: " + err.Error())
		return
	}
	defer e.prober.Stop(handle)

	if !e.prober.WaitReady(ctx, e.cfg.EngineStartTimeout) {
		fail(fmt.Sprintf("engine not ready within %s", e.cfg.EngineStartTimeout))
		return
	}

	available, err := e.prober.Introspect(ctx)
	if err != nil {
		fail("introspection failed: " + err.Error())
		return
	}

	availableSet := make(map[string]struct{}, len(available))
	for _, t := range available {
		availableSet[t] = struct{}{}
	}
	var missing []string
	for _, t := range expected {
		if _, ok := availableSet[t]; !ok {
			missing = append(missing, t)
		}
	}

	v := &Verification{
		Expected:  expected,
		Available: available,
		Missing:   missing,
		Success:   len(missing) == 0,
	}
	report.Verification = v

	if v.Success {
		msg := fmt.Sprintf("all %d node types available", len(expected))
		report.AddStep(StepVerify, true, msg)
		e.metrics.RecordStep(StepVerify, "success", time.Since(start))
		log.WithStep(StepVerify).Info(msg)
		return
	}
	fail(fmt.Sprintf("missing node types: %v", missing))
}
