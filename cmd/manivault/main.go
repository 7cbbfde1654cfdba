// Package main provides the manivault command: it serves the plugin core
// over HTTP and offers offline tools for plugin resolution and projects.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/manivault/mvcore/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command that needs a configuration
type globalFlags struct {
	config  string
	data    string
	plugins string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "manivault",
		Short: "Plugin lifecycle and dependency resolution core",
		Long: `ManiVault loads data, analysis, loader, writer and view plugins in
dependency order, creates and destroys their instances, and keeps the
datasets and parameters they share.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "configuration file (default <data>/config.yaml)")
	pf.StringVar(&flags.data, "data", "", "data directory, overrides the configuration")
	pf.StringVar(&flags.plugins, "plugins", "", "plugins directory, overrides the configuration")

	rootCmd.AddCommand(
		serveCmd(&flags),
		resolveCmd(&flags),
		projectCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the command line overrides.
// A missing file yields the defaults.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	path := flags.config
	if path == "" {
		dataPath := flags.data
		if dataPath == "" {
			dataPath = config.Default().System.DataPath
		}
		path = filepath.Join(dataPath, "config.yaml")
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if flags.data != "" {
		derived := cfg.System.PluginsDir == filepath.Join(cfg.System.DataPath, "plugins")
		cfg.SetDataPath(flags.data)
		if derived {
			cfg.System.PluginsDir = filepath.Join(flags.data, "plugins")
		}
	}
	if flags.plugins != "" {
		cfg.System.PluginsDir = flags.plugins
	}
	return cfg, nil
}
