package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/call-eval/internal/app"
	"github.com/stellarlinkco/call-eval/internal/runner"
	"github.com/stellarlinkco/call-eval/internal/store"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

var errTestsFailed = errors.New("call-eval: tests failed")

type runOptions struct {
	suiteName   string
	file        string
	concurrency int
	output      string
	quiet       bool
}

func newRunCmd(st *cliState) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a conversation test suite",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadCfg(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.suiteName, "suite", "", "suite name to run (looked up under the suites directory)")
	cmd.Flags().StringVar(&opts.file, "file", "", "suite file to run (overrides --suite)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "concurrent simulations (overrides config)")
	cmd.Flags().StringVar(&opts.output, "output", "table", "output format: table|json")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "suppress per-case progress lines")

	return cmd
}

func runSuite(cmd *cobra.Command, st *cliState, opts *runOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("run: missing config (internal error)")
	}
	if opts == nil {
		return fmt.Errorf("run: nil options")
	}

	format, err := parseOutputFormat(opts.output)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if opts.concurrency > 0 {
		st.cfg.Simulation.Concurrency = opts.concurrency
	}

	suite, err := resolveSuite(opts)
	if err != nil {
		return err
	}

	a, err := app.New(st.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	var progress runner.ProgressFunc
	if !opts.quiet && format == formatTable {
		progress = func(ev runner.Event) {
			switch ev.Kind {
			case runner.EventStarted:
				fmt.Fprintf(out, "Running %q: %d cases\n", ev.SuiteName, ev.TotalCases)
			case runner.EventCaseCompleted:
				score := "-"
				if ev.Score != nil {
					score = fmt.Sprintf("%d", *ev.Score)
				}
				fmt.Fprintf(out, "  %s  %s (score %s)\n", coloredCaseStatus(ev.CaseStatus), ev.CaseName, score)
			}
		}
	}

	run, err := a.Run(ctx, suite, progress)
	if err != nil {
		return err
	}

	results, err := a.Store.ListResults(ctx, run.ID)
	if err != nil {
		return err
	}

	switch format {
	case formatJSON:
		if err := writeRunJSON(out, run, results); err != nil {
			return err
		}
	default:
		fmt.Fprint(out, formatRunSummary(run))
		fmt.Fprint(out, formatResultsTable(results))
	}

	if !runPassed(run) {
		return errTestsFailed
	}
	return nil
}

func resolveSuite(opts *runOptions) (*testcase.TestSuite, error) {
	if file := strings.TrimSpace(opts.file); file != "" {
		return testcase.LoadFromFile(file)
	}

	name := strings.TrimSpace(opts.suiteName)
	if name == "" {
		return nil, fmt.Errorf("run: specify --suite <name> or --file <path>")
	}
	suites, err := testcase.LoadFromDir(defaultSuitesDir)
	if err != nil {
		return nil, err
	}
	for _, suite := range suites {
		if suite != nil && strings.EqualFold(strings.TrimSpace(suite.Suite), name) {
			return suite, nil
		}
	}
	return nil, fmt.Errorf("run: unknown suite %q", name)
}

func runPassed(run *store.RunRecord) bool {
	return run != nil && run.FailedCases == 0 && run.ErroredCases == 0
}
