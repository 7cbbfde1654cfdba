package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/manivault/mvcore/internal/core"
	"github.com/manivault/mvcore/plugins"
	"github.com/manivault/mvcore/sdk"
)

func resolveCmd(flags *globalFlags) *cobra.Command {
	var noBuiltins bool

	cmd := &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Print the plugin load order without loading anything",
		Long: `Scan a plugins directory for manifests and print the order in which
the plugins would be loaded, followed by every plugin that cannot be
resolved and why. The directory defaults to the configured one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := flags.plugins
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				dir = cfg.System.PluginsDir
			}

			var entries []sdk.Metadata
			if !noBuiltins {
				for _, f := range plugins.Builtins() {
					entries = append(entries, f.Metadata())
				}
			}

			metas, scanErrs, err := core.ScanManifests(dir)
			if err != nil {
				return err
			}
			entries = append(entries, metas...)

			res := core.ResolveLoadOrder(entries)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plugins in %s\n", dir)
			fmt.Fprint(out, res.String())
			for _, se := range scanErrs {
				fmt.Fprintf(out, "  %s invalid manifest in %s: %v\n", color.YellowString("!"), se.Dir, se.Err)
			}

			if len(res.Unresolved) > 0 || len(scanErrs) > 0 {
				return fmt.Errorf("%d unresolved plugins, %d invalid manifests", len(res.Unresolved), len(scanErrs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBuiltins, "no-builtins", false, "resolve only the directory's plugins")

	return cmd
}
