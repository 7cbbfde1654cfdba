package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/manivault/mvcore/internal/database"
	"github.com/manivault/mvcore/internal/project"
)

func projectCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage saved projects",
	}

	cmd.AddCommand(
		projectListCmd(flags),
		projectExportCmd(flags),
		projectImportCmd(flags),
		projectRollbackCmd(flags),
		projectDeleteCmd(flags),
	)

	return cmd
}

// withStore opens the project store of the configured data directory
func withStore(ctx context.Context, flags *globalFlags, fn func(*project.Store) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	dbCfg := database.DefaultConfig(cfg.System.DataPath)
	dbCfg.Path = cfg.Projects.DatabasePath
	db, err := database.OpenAndMigrate(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(project.NewStore(db, cfg.Projects.Directory, logger))
}

func projectListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(s *project.Store) error {
				list, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Name", "Datasets", "Plugins", "Updated"})
				table.SetBorder(false)
				for _, sum := range list {
					table.Append([]string{
						sum.Name,
						fmt.Sprintf("%d", sum.DatasetCount),
						fmt.Sprintf("%d", sum.PluginCount),
						sum.UpdatedAt.Format("2006-01-02 15:04:05"),
					})
				}
				table.Render()
				return nil
			})
		},
	}
}

func projectExportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <name>",
		Short: "Write a saved project to the project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(s *project.Store) error {
				path, err := s.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
}

func projectImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Save a project file under the name it carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(s *project.Store) error {
				p, err := s.Import(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", p.Name)
				return nil
			})
		},
	}
}

func projectRollbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <name>",
		Short: "Restore the previous revision of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(s *project.Store) error {
				return s.Rollback(cmd.Context(), args[0])
			})
		},
	}
}

func projectDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project and its revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), flags, func(s *project.Store) error {
				return s.Delete(cmd.Context(), args[0])
			})
		},
	}
}
