// Package cmd provides the CLI commands for vaultmcp.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultmcp/pkg/version"
)

// configPath is the --config persistent flag, consumed by every
// command that loads configuration.
var configPath string

// NewRootCmd creates the root command for the vaultmcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultmcp",
		Short: "Vector knowledge base MCP server backed by Qdrant",
		Long: `VaultMCP stores documents and code in Qdrant with content-addressed
deduplication and filter-based versioning, and serves them to AI
assistants over the Model Context Protocol.

Configuration comes from environment variables (QDRANT_URL,
QDRANT_API_KEY, VAULTMCP_*), an optional .env file, and an optional
vaultmcp.yaml. Environment variables win.

Running 'vaultmcp' with no arguments starts the stdio server.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// MCP clients spawn the bare binary, so the default action
			// is serving. Stdout belongs to the protocol from here on.
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("vaultmcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a vaultmcp.yaml config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with signal-aware cancellation, so a
// SIGINT or SIGTERM shuts the server down gracefully.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
