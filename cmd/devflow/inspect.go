package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"devflow/internal/ledger"
	"devflow/internal/report"
)

var flagJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, _, err := state(cfg)
		if err != nil {
			return err
		}
		runs, err := l.Runs()
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		report.Runs(cmd.OutOrStdout(), runs)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events [run-id]",
	Short: "Print the ledger events of a run (default: the latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, _, err := state(cfg)
		if err != nil {
			return err
		}
		runID, err := resolveRunID(l, args)
		if err != nil {
			return err
		}
		events, err := l.RunEvents(runID)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), events)
		}
		report.Events(cmd.OutOrStdout(), events)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run snapshot (default: the latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, store, err := state(cfg)
		if err != nil {
			return err
		}
		runID, err := resolveRunID(l, args)
		if err != nil {
			return err
		}
		r, err := store.LoadRun(runID)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("run %s not found", runID)
		}
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), r)
		}
		report.Run(cmd.OutOrStdout(), r)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Ask a running run to stop before its next step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, store, err := state(cfg)
		if err != nil {
			return err
		}
		summary, err := findRun(l, args[0])
		if err != nil {
			return err
		}
		if !summary.Running() {
			return fmt.Errorf("run %s already finished (%s)", summary.RunID, summary.Status)
		}
		if err := store.RequestStop(summary.RunID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stop requested for run %s\n", summary.RunID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runsCmd, eventsCmd, showCmd} {
		c.Flags().BoolVar(&flagJSON, "json", false, "print JSON instead of text")
	}
}

// resolveRunID returns the id given on the command line or the latest run.
func resolveRunID(l *ledger.Ledger, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	id, ok, err := l.LatestRunID()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("no runs recorded")
	}
	return id, nil
}

func findRun(l *ledger.Ledger, id string) (ledger.RunSummary, error) {
	events, err := l.RunEvents(id)
	if err != nil {
		return ledger.RunSummary{}, err
	}
	runs := ledger.Summarize(events)
	if len(runs) == 0 {
		return ledger.RunSummary{}, fmt.Errorf("run %s not found", id)
	}
	return runs[0], nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
