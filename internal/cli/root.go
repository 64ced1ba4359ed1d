// Package cli implements the outletwatch command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/seantiz/outletwatch/internal/config"
)

// globalFlags override the environment configuration for every command.
type globalFlags struct {
	dbPath      string
	outletsFile string
	checker     string
	logLevel    string
}

// NewRootCommand builds the outletwatch command tree.
func NewRootCommand(version string) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "outletwatch",
		Short: "Check the live status of every outlet and report on it",
		Long: `outletwatch logs into the merchant portal for each outlet in the
outlet list, reads its live status, and delivers a status report.

Configuration comes from OUTLETWATCH_* environment variables (and a .env
file in the working directory); flags override the environment.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&gf.dbPath, "db", "", "SQLite database path")
	pf.StringVarP(&gf.outletsFile, "outlets", "f", "", "outlet list (.csv, .yaml or .yml)")
	pf.StringVar(&gf.checker, "checker", "", "checker to use (browser, scripted)")
	pf.StringVar(&gf.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(&gf),
		newServeCommand(&gf),
		newTokenCommand(),
		newVersionCommand(version),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version string, args []string) error {
	root := NewRootCommand(version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadConfig reads the environment and applies any flags that were set.
func loadConfig(cmd *cobra.Command, gf *globalFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = gf.dbPath
	}
	if flags.Changed("outlets") {
		cfg.OutletsFile = gf.outletsFile
	}
	if flags.Changed("checker") {
		cfg.Checker = gf.checker
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = config.ParseLogLevel(gf.logLevel)
	}
	return cfg, nil
}
