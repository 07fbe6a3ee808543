package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vaultmcp/vaultmcp/configs"
	"github.com/vaultmcp/vaultmcp/internal/cli"
	"github.com/vaultmcp/vaultmcp/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
		Long: `Inspect and manage the vaultmcp configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. YAML file (vaultmcp.yaml in the working directory, or --config)
  3. Environment variables (QDRANT_*, VAULTMCP_*, OPENAI_*, OLLAMA_HOST),
     with .env loaded first`,
		Example: `  # Show the effective configuration (secrets masked)
  vaultmcp config show

  # Create a starter vaultmcp.yaml
  vaultmcp config init

  # Print which file would be loaded
  vaultmcp config path`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging defaults, the YAML file, and
environment variables. API keys are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(redacted)
			}
			data, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter configuration file",
		Long: `Write the configuration template to vaultmcp.yaml in the working
directory (or the --config path). Secrets stay in the environment;
the file only carries connection and tuning settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := cli.NewWriter(cmd.OutOrStdout())

	path := configPath
	if path == "" {
		path = config.DefaultFileName
	}

	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("configuration file already exists")
		out.Dim(path)
		out.Dim("use --force to overwrite")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.Template), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	out.Successf("created %s", path)
	out.Dim("set QDRANT_URL and QDRANT_API_KEY in the environment or a .env file")
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Long:  `Print the YAML file the other commands would load, and whether it exists.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultFileName
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (not found, using defaults and environment)\n", path)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
