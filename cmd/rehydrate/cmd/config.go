package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/rehydrate/configs"
	"github.com/Aman-CERP/rehydrate/internal/config"
	"github.com/Aman-CERP/rehydrate/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage rehydrate configuration.

Precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/rehydrate/config.yaml)
  3. Project config (.rehydrate.yaml)
  4. Environment variables (REHYDRATE_*)`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the example configuration",
		Example: `  # Project config in the current directory
  rehydrate config init

  # User config, replacing an existing file (a backup is kept)
  rehydrate config init --user --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ProjectConfigPath(g.dir)
			if user {
				path = config.GetUserConfigPath()
			}
			return runConfigInit(cmd, path, force, time.Now())
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file after backing it up")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool, now time.Time) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("Configuration already exists: %s", path)
			out.Status("", "Use --force to replace it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path, now)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("", "Backup: %s", backup)
	}

	if err := writeFile(path, []byte(configs.ExampleConfig)); err != nil {
		return err
	}
	out.Successf("Created %s", path)
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  rehydrate config show
  rehydrate config show --json
  rehydrate config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				cfg = g.cfg
			case "defaults":
				cfg = config.NewConfig()
			default:
				return fmt.Errorf("invalid source: %s (use: merged, defaults)", source)
			}
			return printConfig(cmd, cfg, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")
	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config, jsonOutput bool) error {
	var (
		data []byte
		err  error
	)
	if jsonOutput {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user and project config paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			out.KeyValue("user", config.GetUserConfigPath())
			out.KeyValue("project", config.ProjectConfigPath(g.dir))
			out.KeyValue("data", g.dataDir())
			return nil
		},
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
