package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/pkg/snapshot"
)

func newSnapshotCommand() *cobra.Command {
	var (
		name         string
		workflowPath string
		description  string
		extraPaths   string
		noSetCurrent bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a new bundle version from the live installation",
		Long: `Snapshot inspects the live engine installation (engine commit, installed
plugins, full dependency set) and writes a new immutable bundle version
alongside the supplied workflow document. The captured models list starts
empty and is curated by hand afterwards.`,
		Example: `  forge snapshot --name flux-dev --workflow my_workflow.json
  forge snapshot --name flux-dev --workflow wf.json --description "torch 2.4 upgrade"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			v, err := app.newCapturer().Capture(cmd.Context(), snapshot.Request{
				Bundle:         name,
				WorkflowPath:   workflowPath,
				Description:    description,
				ExtraPathsFile: extraPaths,
				NoSetCurrent:   noSetCurrent,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Captured %s/%s\n", name, v)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "bundle name to capture into")
	cmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "workflow document to include")
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-text version description")
	cmd.Flags().StringVar(&extraPaths, "extra-model-paths", "", "optional extra model paths file to include")
	cmd.Flags().BoolVar(&noSetCurrent, "no-set-current", false, "do not set a first version as current")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}
