package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live engine installation and bundle store state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			st := app.engine.Status(cmd.Context())
			prober := engine.NewProber(app.cfg.EnginePath, app.cfg.PythonBin, app.cfg.EnginePort, app.log)

			fmt.Printf("Engine:  %s\n", st.EnginePath)
			if st.Commit != "" {
				fmt.Printf("Commit:  %s\n", shortCommit(st.Commit))
			} else {
				fmt.Println("Commit:  (not a git repository)")
			}
			fmt.Printf("Plugins: %d\n", st.PluginCount)
			if prober.IsRunning(cmd.Context()) {
				fmt.Printf("Running: yes (port %d)\n", app.cfg.EnginePort)
			} else {
				fmt.Println("Running: no")
			}

			bundles, err := app.store.ListBundles()
			if err != nil {
				return err
			}
			fmt.Printf("\nBundle store: %s (%d bundles)\n", app.store.Root(), len(bundles))
			if len(bundles) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCURRENT\tVERSIONS")
				for _, b := range bundles {
					cur := string(b.CurrentVersion)
					if cur == "" {
						cur = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, cur, b.VersionCount)
				}
				w.Flush()
			}
			return nil
		},
	}
}
