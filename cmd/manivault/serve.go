package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/manivault/mvcore/internal/api"
	"github.com/manivault/mvcore/internal/config"
	"github.com/manivault/mvcore/internal/core"
	"github.com/manivault/mvcore/internal/database"
	"github.com/manivault/mvcore/internal/metrics"
	"github.com/manivault/mvcore/internal/project"
	"github.com/manivault/mvcore/plugins"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load every plugin and serve the HTTP API",
		Long: `Load the builtin plugins and those in the plugins directory in
dependency order, then serve the REST API, WebSocket events and metrics
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, watchConfig)
		},
	}

	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload the configuration file when it changes")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, watchConfig bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	api.Version = version

	c, err := core.New(cfg, core.Options{Builtins: plugins.Builtins()})
	if err != nil {
		return err
	}
	logger := c.Logger

	if err := os.MkdirAll(cfg.System.DataPath, 0755); err != nil {
		logger.Warn("Cannot create data directory", "path", cfg.System.DataPath, "error", err)
	}

	dbCfg := database.DefaultConfig(cfg.System.DataPath)
	dbCfg.Path = cfg.Projects.DatabasePath
	db, err := database.OpenAndMigrate(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	c.Projects = project.NewStore(db, cfg.Projects.Directory, logger)

	logger.Info("Starting ManiVault",
		"version", version,
		"config", cfg.GetPath(),
		"data_path", cfg.System.DataPath,
		"plugins_dir", cfg.System.PluginsDir,
	)

	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	if watchConfig {
		if err := cfg.Watch(); err != nil {
			logger.Warn("Cannot watch configuration", "path", cfg.GetPath(), "error", err)
		}
		// Newly enabled plugins are picked up by a rescan
		cfg.OnChange(func(cfg *config.Config) {
			err := c.Do(ctx, func() error {
				report, err := c.Registry.LoadAll(ctx, cfg.System.PluginsDir)
				if err == nil {
					logger.Info("Plugins rescanned after configuration change", "loaded", len(report.Loaded))
				}
				return err
			})
			if err != nil {
				logger.Warn("Plugin rescan failed", "error", err)
			}
		})
	}

	m := metrics.New("")
	defer m.Attach(c.Events, c.Reporter)()

	hub := api.NewHub(cfg.API.CORSOrigins, logger)
	defer hub.Attach(c.Events, c.Reporter)()
	go hub.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if !cfg.API.Enabled {
		logger.Info("API disabled, running headless")
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", "signal", sig)
		case <-ctx.Done():
		}
		return nil
	}

	srv := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      api.NewServer(c, hub, m).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
