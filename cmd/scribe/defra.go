package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/config"
	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/schema"
)

var logsTail string

var defraCmd = &cobra.Command{
	Use:   "defra",
	Short: "Manage the DefraDB container",
	Long: `Manage the DefraDB container that stores projects, verses and walks.

The container is the one 'scribe serve' uses, taken from the defra section
of the config. Data lives in ~/.scribe/defradb/ and survives stop.

Examples:
  scribe defra start            # Create or start the container
  scribe defra status -o json   # Container, health and collection counts
  scribe defra logs --tail 50   # Recent container output
  scribe defra stop             # Stop the container (data preserved)`,
}

// DefraReport is what 'scribe defra status' prints.
type DefraReport struct {
	Container   *defra.Container    `json:"container"`
	URL         string              `json:"url"`
	Health      string              `json:"health"`
	Collections []schema.Collection `json:"collections,omitempty"`
}

func init() {
	defraCmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Create or start the DefraDB container and wait for it",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, mgr *defra.DockerManager) error {
					if err := mgr.Ensure(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "DefraDB is running at %s\n", mgr.URL())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the DefraDB container",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, mgr *defra.DockerManager) error {
					if err := mgr.Stop(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "DefraDB stopped")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the container, its health and scribe's collections",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, mgr *defra.DockerManager) error {
					report, err := defraReport(ctx, mgr)
					if err != nil {
						return err
					}
					return api.Output(report)
				})
			},
		},
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show DefraDB container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, mgr *defra.DockerManager) error {
				return mgr.Logs(ctx, logsTail, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
	logsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines from the end, or \"all\"")
	defraCmd.AddCommand(logsCmd)

	rootCmd.AddCommand(defraCmd)
}

func defraReport(ctx context.Context, mgr *defra.DockerManager) (*DefraReport, error) {
	c, err := mgr.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	report := &DefraReport{Container: c, URL: mgr.URL(), Health: "unreachable"}
	if c.State != defra.StateRunning {
		return report, nil
	}
	client := defra.NewClient(mgr.URL())
	if err := client.HealthCheck(ctx); err != nil {
		return report, nil
	}
	report.Health = "healthy"
	cols, err := schema.Inventory(ctx, client)
	if err != nil {
		report.Health = "schema not initialized"
		return report, nil
	}
	report.Collections = cols
	return report, nil
}

// withManager runs fn against the container configured for this home.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *defra.DockerManager) error) error {
	h, err := getHome()
	if err != nil {
		return err
	}
	cm, err := config.NewManager(configPath(h), h.EnvPath())
	if err != nil {
		return err
	}
	mgr, err := defra.NewDockerManager(defra.FromConfig(cm.Get().Defra, h.DefraDataPath()))
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(cmd.Context(), mgr)
}

// configPath is --config when given, else the home's config.yaml.
func configPath(h *home.Dir) string {
	if cfgFile != "" {
		return cfgFile
	}
	return h.ConfigPath()
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}
