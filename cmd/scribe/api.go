package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running scribe server via HTTP.

These commands require a running server (scribe serve).
Use --server to specify a custom server URL.

Examples:
  scribe api status                                # Server and provider status
  scribe api projects upload mark.zip              # Import a project
  scribe api books transcribe <project_id> MRK     # Transcribe Mark
  scribe api verses approve <project_id> MRK 1     # Approve chapter 1
  scribe api projects export <project_id> -f out.zip`,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func group(use, short string, eps []api.Endpoint) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	for _, ep := range eps {
		cmd.AddCommand(ep.Command(getServerURL))
	}
	return cmd
}

func init() {
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(group("projects", "Project import, listing, export and reset", endpoints.ProjectCommands()))
	apiCmd.AddCommand(group("books", "Book status and transcription/synthesis walks", endpoints.BookCommands()))
	apiCmd.AddCommand(group("verses", "Verse editing and chapter approval", endpoints.VerseCommands()))

	rootCmd.AddCommand(apiCmd)
}
