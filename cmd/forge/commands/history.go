package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		bundleName string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past deployments",
		Long: `History lists deployments recorded in the history database, newest first.
Recording requires a configured history database path; without one, deploy
runs leave no records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if app.history == nil {
				return fmt.Errorf("no history database configured (set FORGE_HISTORY_DB)")
			}

			deployments, err := app.history.ListDeployments(cmd.Context(), bundleName, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "STARTED\tBUNDLE\tVERSION\tMODE\tSTATUS\tDURATION")
			for _, d := range deployments {
				status := "ok"
				if !d.Success {
					status = "FAILED"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.StartedAt.Format("2006-01-02 15:04:05"),
					d.Bundle, d.Version, d.Mode, status,
					d.FinishedAt.Sub(d.StartedAt).Round(time.Second).String(),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bundleName, "bundle", "b", "", "filter by bundle name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")

	return cmd
}
