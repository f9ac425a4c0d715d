// cmd/pipectl/main.go — operator CLI. Talks to the admin HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		server string
		token  string
	)

	rootCmd := &cobra.Command{
		Use:   "pipectl",
		Short: "Control the listing pipeline",
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", envOr("PIPELINE_SERVER", "http://localhost:8080"), "admin API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PIPELINE_ADMIN_TOKEN"), "admin token (X-Admin-Token header)")

	client := func() *apiClient { return newAPIClient(server, token) }

	rootCmd.AddCommand(runCmd(client))
	rootCmd.AddCommand(statusCmd(client))
	rootCmd.AddCommand(dlqCmd(client))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
