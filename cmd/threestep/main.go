package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/logging"
	"github.com/nvandessel/threestep/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threestep",
		Short: "Trial generator for the three-step decision task",
		Long: `threestep generates stimulus-sequence trials for a three-stage sequential
decision experiment.

Each trial type gets reward stimuli that stay in place for normally
distributed stretches of trials, and per-trial stimulus mappings that are
counter-balanced and perturbed into common and rare transitions. Trials are
written to a JSON file with a SHA-256 checksum sidecar and recorded in a
local history database.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGenerateCmd(),
		newVerifyCmd(),
		newSimulateCmd(),
		newReportCmd(),
		newExportCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "threestep version %s\n", version)
			}
		},
	}
}

// projectRoot returns the absolute --root directory.
func projectRoot(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("root")
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}
	return abs, nil
}

// loadConfig loads the user configuration and checks it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger for cfg.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openHistory opens the history database, or returns nil when it is
// disabled in cfg.
func openHistory(root string, cfg *config.Config) (*store.SQLiteStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	if cfg.Store.Path != "" {
		return store.OpenSQLiteStore(cfg.Store.Path)
	}
	return store.NewSQLiteStore(root)
}

// requireHistory opens the history database for commands that need it.
func requireHistory(root string, cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := openHistory(root, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("generation history is disabled (store.enabled = false)")
	}
	return s, nil
}

// signalContext cancels the returned context on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
