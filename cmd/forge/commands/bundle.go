package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/pkg/version"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspect and manage the bundle store",
	}

	cmd.AddCommand(newBundleListCommand())
	cmd.AddCommand(newBundleShowCommand())
	cmd.AddCommand(newBundleSetCurrentCommand())
	cmd.AddCommand(newBundleDeleteCommand())

	return cmd
}

func newBundleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [NAME]",
		Short: "List bundles, or the versions of one bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 1 {
				versions, err := app.store.ListVersions(args[0])
				if err != nil {
					return err
				}
				current := app.store.CurrentVersion(args[0])
				fmt.Fprintln(w, "VERSION\tCURRENT\tTESTED\tDESCRIPTION")
				for _, v := range versions {
					marker := ""
					if v.Version == current {
						marker = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", v.Version, marker, v.Tested, v.Description)
				}
				return nil
			}

			bundles, err := app.store.ListBundles()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "NAME\tCURRENT\tVERSIONS")
			for _, b := range bundles {
				cur := string(b.CurrentVersion)
				if cur == "" {
					cur = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, cur, b.VersionCount)
			}
			return nil
		},
	}
}

func newBundleShowCommand() *cobra.Command {
	var ver string

	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show the descriptor of a bundle version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			var v version.ID
			if ver != "" {
				v, err = version.Parse(ver)
				if err != nil {
					return err
				}
			}
			path, err := app.store.ResolveVersionPath(args[0], v)
			if err != nil {
				return err
			}
			d, err := app.store.LoadDescriptor(path)
			if err != nil {
				return err
			}

			fmt.Printf("Bundle:      %s\n", d.Metadata.Name)
			fmt.Printf("Version:     %s\n", d.Metadata.Version)
			if d.Metadata.Description != "" {
				fmt.Printf("Description: %s\n", d.Metadata.Description)
			}
			if !d.Metadata.CreatedAt.IsZero() {
				fmt.Printf("Created:     %s\n", d.Metadata.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
			}
			fmt.Printf("Tested:      %v\n", d.Metadata.Tested)

			if d.HasEngine() {
				fmt.Printf("\nEngine: %s @ %s\n", d.Engine.Repo, shortCommit(d.Engine.Commit))
			}
			if len(d.Plugins) > 0 {
				fmt.Printf("\nPlugins (%d):\n", len(d.Plugins))
				for _, p := range d.Plugins {
					fmt.Printf("  %s @ %s\n", p.Name, shortCommit(p.Commit))
				}
			}
			if len(d.Models) > 0 {
				fmt.Printf("\nModels (%d files):\n", d.ModelFileCount())
				for _, g := range d.Models {
					fmt.Printf("  %s -> %s\n", g.Name, g.Directory)
					for _, f := range g.Files {
						fmt.Printf("    %s\n", f.Filename)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ver, "version", "", "bundle version (default: current pointer)")
	return cmd
}

func newBundleSetCurrentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-current NAME VERSION",
		Short: "Point a bundle's current pointer at a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			v, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			if err := app.store.SetCurrentVersion(args[0], v); err != nil {
				return err
			}
			fmt.Printf("%s current -> %s\n", args[0], v)
			return nil
		},
	}
}

func newBundleDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete NAME VERSION",
		Short: "Delete a bundle version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			v, err := version.Parse(args[1])
			if err != nil {
				return err
			}

			if !force {
				fmt.Printf("Delete %s/%s? [y/N] ", args[0], v)
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Println("Aborted")
					return nil
				}
			}

			if err := app.store.DeleteVersion(args[0], v); err != nil {
				return err
			}
			fmt.Printf("Deleted %s/%s\n", args[0], v)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")
	return cmd
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
