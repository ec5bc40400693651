// Package cmd provides the CLI commands for rehydrate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rehydrate/internal/config"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/logging"
	"github.com/Aman-CERP/rehydrate/internal/profiling"
	"github.com/Aman-CERP/rehydrate/pkg/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	debug      bool
	configPath string
	dir        string

	profile        profiling.Options
	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the rehydrate CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "rehydrate",
		Short: "Assemble token-budgeted context bundles from indexed chunks",
		Long: `rehydrate builds a context bundle for a role and a task: it searches
a vector index and a BM25 index in parallel, fuses and reranks the results,
and packs them into pinned, evidence and recent slots under a token budget.

Index pre-chunked JSONL with 'rehydrate index', then ask with
'rehydrate query <role> <task>'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.teardown()
		},
	}
	cmd.SetVersionTemplate("rehydrate version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to stderr and ~/.rehydrate/logs/")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Use this config file instead of the user and project files")
	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory holding .rehydrate.yaml and the data dir")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, rerrors.FormatForCLI(err))
	}
	return err
}

// setup loads configuration and installs the default logger.
func (g *globalOptions) setup() error {
	var err error
	if g.configPath != "" {
		if _, statErr := os.Stat(g.configPath); statErr != nil {
			return rerrors.New(rerrors.ErrCodeConfigNotFound, "config file not found: "+g.configPath, statErr)
		}
		g.cfg, err = config.LoadFile(g.configPath)
	} else {
		g.cfg, err = config.Load(g.dir)
	}
	if err != nil {
		return rerrors.ConfigError("failed to load configuration", err)
	}

	logCfg := logging.Config{
		Level:     g.cfg.Logging.Level,
		FilePath:  g.cfg.Logging.FilePath,
		MaxSizeMB: g.cfg.Logging.MaxSizeMB,
		MaxFiles:  g.cfg.Logging.MaxFiles,
	}
	if g.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if g.debug {
		slog.Debug("debug logging enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	if g.profile.Enabled() {
		if g.profiler, err = profiling.Start(g.profile); err != nil {
			return err
		}
	}
	return nil
}

func (g *globalOptions) teardown() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// dataDir resolves the configured data directory against --dir.
func (g *globalOptions) dataDir() string {
	d := g.cfg.Index.DataDir
	if filepath.IsAbs(d) {
		return d
	}
	return filepath.Join(g.dir, d)
}
