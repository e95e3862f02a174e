package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"devflow/internal/agent"
	"devflow/internal/config"
	"devflow/internal/formula"
	"devflow/internal/report"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, its workflows and the agent binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := cfg.Formulas()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		describeConfig(out, cfg, set)

		adapter, err := cfg.NewAdapter(nil)
		if err != nil {
			return err
		}
		defer adapter.Close()
		return describeAgent(out, cfg.Adapter.Command, adapter.Validate(cmd.Context()))
	},
}

func describeConfig(w io.Writer, cfg *config.Config, set formula.Set) {
	st := report.DefaultStyles()
	source := cfg.Path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(w, "%s %s\n", st.Title.Render("Config"), source)
	fmt.Fprintf(w, "State dir: %s\n", cfg.StateDir())
	for _, name := range set.Names() {
		f := set[name]
		fmt.Fprintf(w, "\n%s %s\n", st.Subtitle.Render("Workflow"), name)
		if f.Description != "" {
			fmt.Fprintf(w, "  %s\n", st.Muted.Render(f.Description))
		}
		for _, s := range f.Steps {
			var extra []string
			if s.Verifier != "" {
				extra = append(extra, "verifier "+s.Verifier)
			}
			if s.Kind == formula.KindLoop {
				extra = append(extra, fmt.Sprintf("max retries %d", s.MaxRetries))
			}
			if s.Always {
				extra = append(extra, "always")
			}
			line := fmt.Sprintf("  %s %-10s %-10s %s", st.Success.Render(report.IconSuccess), s.ID, s.Kind, s.Agent)
			if len(extra) > 0 {
				line += st.Muted.Render(" (" + strings.Join(extra, ", ") + ")")
			}
			fmt.Fprintln(w, line)
		}
	}
}

func describeAgent(w io.Writer, command string, c agent.Capability) error {
	st := report.DefaultStyles()
	fmt.Fprintln(w)
	if !c.Installed {
		fmt.Fprintf(w, "%s agent %s: %v\n", st.Error.Render(report.IconFailed), command, c.Err)
		return fmt.Errorf("agent %q unavailable", command)
	}
	version := c.Version
	if version == "" {
		version = "unknown version"
	}
	fmt.Fprintf(w, "%s agent %s (%s)\n", st.Success.Render(report.IconSuccess), command, version)
	return nil
}
