package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/pkg/config"
	"github.com/bundleforge/bundleforge/pkg/deploy"
	"github.com/bundleforge/bundleforge/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	var (
		bundleName string
		bundleVer  string
		enginePath string
		modelsOnly bool
		dryRun     bool
		noVerify   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a bundle version onto the engine",
		Long: `Deploy resolves a bundle version (explicit flag, environment default, or the
bundle's current pointer), derives a plan from its descriptor, and executes
the plan: engine checkout, dependency installs, plugin installs, model
downloads, workflow install, and an optional verification probe.`,
		Example: `  # Deploy the current version of the default bundle
  forge deploy

  # Deploy a specific version, models and workflow only
  forge deploy --bundle flux-dev --version 250131-02 --models-only

  # Show what would be done without doing it
  forge deploy --bundle flux-dev --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if enginePath != "" {
				app.cfg.EnginePath = enginePath
				app.engine = engine.NewManager(enginePath, app.cfg.PythonBin, app.log, app.metrics)
			}

			mode := config.ModeFull
			if modelsOnly {
				mode = config.ModeModelsOnly
			}
			verify := !noVerify && !app.cfg.NoVerify

			req := deploy.Request{
				Bundle:  bundleName,
				Version: bundleVer,
				Mode:    mode,
				Verify:  verify,
			}
			executor := app.newExecutor()

			if dryRun {
				res, err := executor.Resolve(req)
				if err != nil {
					return err
				}
				printPlan(res)
				return nil
			}

			report, err := executor.Deploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.Success() {
				return fmt.Errorf("deployment of %s/%s failed", report.Bundle, report.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bundleName, "bundle", "b", "", "bundle name (default from environment)")
	cmd.Flags().StringVar(&bundleVer, "version", "", "bundle version (default: current pointer)")
	cmd.Flags().StringVar(&enginePath, "engine", "", "engine installation path (overrides configuration)")
	cmd.Flags().BoolVar(&modelsOnly, "models-only", false, "only download models and install the workflow")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing it")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip post-deployment engine verification")

	return cmd
}

func printPlan(res *deploy.Resolution) {
	p := res.Plan
	fmt.Printf("Plan for %s/%s (mode: %s)\n\n", p.Bundle, p.Version, p.Mode)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "update engine\t%v\n", p.WillUpdateEngine)
	fmt.Fprintf(w, "install base deps\t%v\n", p.WillInstallBaseDeps)
	fmt.Fprintf(w, "install locked deps\t%v\n", p.WillInstallLockedDeps)
	fmt.Fprintf(w, "install plugins\t%v\t(%d)\n", p.WillInstallPlugins, p.PluginCount)
	fmt.Fprintf(w, "download models\t%v\t(%d files in %d groups)\n", p.WillDownloadModels, p.ModelFileCount, p.ModelGroupCount)
	fmt.Fprintf(w, "install workflow\t%v\n", p.WillInstallWorkflow)
	fmt.Fprintf(w, "verify\t%v\n", p.WillVerify)
	w.Flush()
}

func printReport(r *deploy.Report) {
	fmt.Printf("Deployment %s: %s/%s (mode: %s)\n\n", r.RunID, r.Bundle, r.Version, r.Mode)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range r.Steps {
		status := "ok"
		if !s.Success {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, status, s.Message)
	}
	w.Flush()

	if v := r.Verification; v != nil && !v.Success {
		fmt.Printf("\nMissing node types: %v\n", v.Missing)
	}
	for _, e := range r.Errors {
		fmt.Printf("\nError: %s\n", e)
	}

	if r.Success() {
		fmt.Printf("\nSucceeded in %s\n", r.Duration().Round(time.Millisecond))
	} else {
		fmt.Printf("\nFailed after %s\n", r.Duration().Round(time.Millisecond))
	}
}
