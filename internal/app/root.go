package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/config"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

var (
	configPath string
	dbPath     string
	jsonOutput bool

	// RootCmd is the root command for autopilot
	RootCmd = &cobra.Command{
		Use:   "autopilot",
		Short: "Autonomous operator for Akash deployments",
		Long: `autopilot watches your Akash deployments, asks a recommender for a plan,
and executes the parts of that plan the guardrails allow.

Every attempted action is recorded in an append-only ledger. Rate limits,
cooldowns and replica bounds are enforced before anything runs.

Examples:
  # Run the decision loop in the foreground
  autopilot run

  # Run it in the background
  autopilot run --daemon

  # Run a single iteration and print what happened
  autopilot run --once

  # Inspect the ledger
  autopilot actions --type scale --limit 20

  # Show the guardrails in force
  autopilot policy`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "autopilot: autonomous operator for Akash deployments")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Run 'autopilot run' to start the decision loop.")
			fmt.Fprintln(out, "Run 'autopilot status' to check on a running loop.")
			fmt.Fprintln(out, "Run 'autopilot --help' for all commands.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default: $AUTOPILOT_CONFIG)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (default: ~/.autopilot/autopilot.db)")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// newLogger returns a JSON logger at the configured level.
func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openStore opens the configured database and ensures the schema exists.
func openStore(cfg config.Config, opts ...store.Option) (*store.Store, error) {
	dialect, err := store.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	if dialect == store.SQLite && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	st, err := store.Open(cfg.DBDriver, cfg.DSN(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return st, nil
}

// stateFile returns name inside the autopilot state directory, creating
// the directory if needed.
func stateFile(name string) (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve state directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	s, err := output.RenderJSON(v)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), s)
	return nil
}
