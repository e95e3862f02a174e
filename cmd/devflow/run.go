package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"devflow/internal/agent"
	"devflow/internal/ledger"
	"devflow/internal/orchestrator"
	"devflow/internal/progress"
	"devflow/internal/report"
	"devflow/internal/run"
	"devflow/internal/steering"
	"devflow/internal/trace"
	"devflow/internal/vcs"
)

var (
	runDryRun        bool
	runMaxIterations int
	runQuiet         bool
	runNoGit         bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow> <task...>",
	Short: "Run a workflow for a task",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWorkflow,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "answer every agent call without spawning anything")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "safety cap on story loop iterations (default from config)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "print one line per ledger event instead of agent output")
	runCmd.Flags().BoolVar(&runNoGit, "no-git", false, "stay on the current branch and never commit")
}

// runFailedError reports a run that finished with status failed. The
// report has already been printed, so main only sets the exit code.
type runFailedError struct {
	id string
}

func (e *runFailedError) Error() string { return "run " + e.id + " failed" }

func runWorkflow(cmd *cobra.Command, args []string) error {
	workflow, task := args[0], strings.Join(args[1:], " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := cfg.Formulas()
	if err != nil {
		return err
	}
	l, store, err := state(cfg)
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var live io.Writer
	if !runQuiet && isTerminal(os.Stdout) {
		live = out
	}
	var adapter agent.Adapter
	if runDryRun {
		fmt.Fprintln(out, "devflow: dry-run mode, no agents will be executed")
		adapter = dryRunAdapter(set, task)
	} else {
		adapter, err = cfg.NewAdapter(live)
		if err != nil {
			return err
		}
		if c := adapter.Validate(ctx); !c.Installed {
			return fmt.Errorf("agent %q unavailable: %v", cfg.Adapter.Command, c.Err)
		}
	}

	tp, err := trace.NewProvider(ctx, version)
	if err != nil {
		log.Printf("warning: tracing disabled: %v", err)
	}
	defer func() {
		if err := trace.Shutdown(tp, 5*time.Second); err != nil {
			log.Printf("warning: flush traces: %v", err)
		}
	}()

	var observers []ledger.Observer
	if tp != nil {
		observers = append(observers, trace.NewObserver(tp))
	}
	orchOut := out
	var printer *progressPrinter
	if runQuiet {
		orchOut = io.Discard
		printer = startProgress(out)
		defer printer.stop()
		observers = append(observers, printer.emitter())
	}

	opts := orchestrator.Options{
		Formulas:      set,
		Agents:        cfg.Agents,
		Adapter:       adapter,
		Recorder:      ledger.NewRecorder(l, observers...),
		Store:         store,
		BranchPrefix:  cfg.BranchPrefix,
		Commit:        cfg.Commit && !runDryRun,
		Steering:      &steering.Files{Root: wd, Static: cfg.Steering, Agents: cfg.Agents},
		WorkDir:       wd,
		MaxIterations: cfg.MaxIterations,
		Output:        orchOut,
	}
	if runMaxIterations > 0 {
		opts.MaxIterations = runMaxIterations
	}
	if !runNoGit && !runDryRun {
		opts.Git = vcs.New(wd)
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		return err
	}
	r, err := orch.Run(ctx, workflow, task)
	// The report shares out with the printer; every progress line must be
	// written before it starts.
	printer.stop()
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	report.Run(out, r)
	if r.Status != run.StatusDone {
		return &runFailedError{id: r.ID}
	}
	return nil
}

// progressPrinter writes one line per live progress event until stopped.
type progressPrinter struct {
	w    io.Writer
	ch   chan progress.Event
	em   *progress.ChanEmitter
	wg   sync.WaitGroup
	once sync.Once
}

func startProgress(w io.Writer) *progressPrinter {
	p := &progressPrinter{w: w, ch: make(chan progress.Event, 64)}
	p.em = &progress.ChanEmitter{Ch: p.ch}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for ev := range p.ch {
			fmt.Fprintf(w, "%s %-7s %s\n", ev.Timestamp.Local().Format("15:04:05"), ev.Status, ev.Message)
		}
	}()
	return p
}

func (p *progressPrinter) emitter() *progress.ChanEmitter { return p.em }

// stop waits until every queued event is printed. It is safe to call more
// than once and on a nil printer. Nothing may be emitted after stop.
func (p *progressPrinter) stop() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.ch)
		p.wg.Wait()
		if n := p.em.Dropped(); n > 0 {
			fmt.Fprintf(p.w, "(%d progress events dropped)\n", n)
		}
	})
}
