/*
main.go - Application entry point

PURPOSE:
  Command line of the echelon advancement engine.

COMMANDS:
  serve    HTTP API, detection scheduler and metrics (default)
  detect   One detection pass over the stored employees, then exit

GLOBAL FLAGS:
  --config     YAML config file (see config/config.go)
  --db         SQLite database path, ":memory:" for in-memory
  --log-level  trace|debug|info|warn|error
  --log-json   JSON logs instead of console output

  Flags override ECHELON_* environment variables, which override the
  config file.

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/echelon.db

  # Nightly batch from cron
  ./server detect --db=./data/echelon.db --now=2025-09-01

SEE ALSO:
  - serve.go, detect.go: Subcommands
  - config/config.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/echelon-engine/config"
)

const programName = "echelon"

var (
	configFile string
	cfg        *config.Config
	logger     zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Echelon advancement detection engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("log-level", "", "log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "log in JSON")
	addServeFlags(rootCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyFlags(cmd, loaded); err != nil {
			return err
		}
		cfg = loaded
		logger = cfg.Logger(os.Stderr)
		return nil
	}

	// Subcommands
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the detection scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "HTTP server port")
	cmd.Flags().Bool("no-scheduler", false, "disable the detection scheduler")
	cmd.Flags().Duration("interval", 0, "detection scheduler interval")
}

// applyFlags copies the flags set on the command line into c.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		c.LogJSON, _ = flags.GetBool("log-json")
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		c.Port, _ = flags.GetInt("port")
	}
	if flags.Lookup("no-scheduler") != nil && flags.Changed("no-scheduler") {
		disabled, _ := flags.GetBool("no-scheduler")
		c.Scheduler.Enabled = !disabled
	}
	if flags.Lookup("interval") != nil && flags.Changed("interval") {
		c.Scheduler.Interval, _ = flags.GetDuration("interval")
	}
	return c.Validate()
}
