package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/config"
	"github.com/jackzampolin/scribe/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scribe server",
	Long: `Start the scribe HTTP server.

This starts both the HTTP API server and the DefraDB container.
When the server shuts down (via Ctrl+C or SIGTERM), running walks are
stopped and left interrupted, and DefraDB is stopped.

Configuration is read from ~/.scribe/config.yaml (created on first run)
and reloaded when the file changes. Secrets can live in ~/.scribe/.env.

Examples:
  scribe serve                    # Start on the configured port
  scribe serve --port 3000        # Start on custom port
  scribe serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		path := configPath(h)
		if cfgFile == "" && !h.ConfigExists() {
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("failed to write default config: %w", err)
			}
		}
		cm, err := config.NewManager(path, h.EnvPath())
		if err != nil {
			return err
		}
		cfg := cm.Get()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		cm.WatchConfig()

		logger, err := newLogger(cfg.Log.Level)
		if err != nil {
			return err
		}

		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Blocks until shutdown
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides server.port)")

	rootCmd.AddCommand(serveCmd)
}
