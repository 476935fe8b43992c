package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "internxt-webdav",
		Short:   "WebDAV gateway for an encrypted drive",
		Long:    "Serves an end-to-end encrypted, sharded remote drive over a local WebDAV listener.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults, config file, .env and environment, CLI flags) into resolvedCfg.
func loadConfig(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(config.DefaultDotEnvPath()); err != nil {
		return err
	}

	env, err := config.ReadEnvOverrides()
	if err != nil {
		return err
	}

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only explicitly set flags override lower layers. Commands without
	// these flags report them unchanged.
	if cmd.Flags().Changed("host") {
		cli.Host = &flagHost
	}

	if cmd.Flags().Changed("port") {
		cli.Port = &flagPort
	}

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// logLevel picks the level from config, then --verbose/--quiet, which
// always win.
func logLevel(cfg *config.Config) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
