package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c360/graphdb/config"
)

// cliOptions carries the global flags and what PersistentPreRunE derives
// from them.
type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   appName,
		Short: "Schema-driven JSON to graph ingestion with group ACLs",
		Long: `graphdb interprets JSON metadata documents through an index schema, stores
the result as vertices and edges, links access-control lists to the resources
they govern and answers ACL-scoped graph queries.

Configuration comes from a JSON file (--config) overlaid with GRAPHDB_*
environment variables. A .env file in the working directory is loaded first.`,
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.initialize()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", getEnv("GRAPHDB_CONFIG", ""),
		"Path to configuration file (env: GRAPHDB_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: GRAPHDB_LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "",
		"Log format: json, text (env: GRAPHDB_LOG_FORMAT)")

	root.AddCommand(
		newServeCommand(opts),
		newIngestCommand(opts),
		newBootstrapCommand(opts),
		newACLCommand(opts),
		newQueryCommand(opts),
		newValidateIndexCommand(opts),
	)
	return root
}

// initialize loads configuration, applies the logging flags and installs the
// logger.
func (o *cliOptions) initialize() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := validateLogFlags(cfg.Log); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	o.cfg = cfg
	o.logger = setupLogger(cfg.Log.Level, cfg.Log.Format, o.stderr)
	slog.SetDefault(o.logger)
	o.logger.Debug("Configuration loaded", "config_path", o.configPath, "backend", cfg.Store.Backend)
	return nil
}

func validateLogFlags(cfg config.LogConfig) error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.Format) {
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return nil
}

// printJSON writes v to stdout, indented.
func (o *cliOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
