package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"devflow/internal/artifact"
	"devflow/internal/config"
	"devflow/internal/ledger"
)

const version = "0.1.0"

var (
	flagConfig   string
	flagWorkDir  string
	flagStateDir string
)

var rootCmd = &cobra.Command{
	Use:   "devflow",
	Short: "Drive AI coding agents through multi-step workflows",
	Long: `devflow runs named workflows (plan, implement, review, learn) by
delegating each step to an external coding agent. Every run is recorded in
an append-only task ledger under the state directory.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default: $DEVFLOW_CONFIG or ./devflow.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagWorkDir, "workdir", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "state directory (overrides $DEVFLOW_STATE_DIR)")

	rootCmd.AddCommand(runCmd, runsCmd, eventsCmd, showCmd, stopCmd, validateCmd, mcpCmd)
}

// setup switches to the work dir and loads an optional .env file before any
// command reads the environment.
func setup(*cobra.Command, []string) error {
	if flagWorkDir != "" {
		if err := os.Chdir(flagWorkDir); err != nil {
			return fmt.Errorf("workdir %q: %w", flagWorkDir, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if flagStateDir != "" {
		if err := os.Setenv(config.EnvStateDir, flagStateDir); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Discover(wd)
}

// state opens the ledger and snapshot store for cfg.
func state(cfg *config.Config) (*ledger.Ledger, *artifact.Store, error) {
	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, nil, err
	}
	return l, artifact.NewStore(cfg.StateDir()), nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
