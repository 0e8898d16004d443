package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stellarlinkco/call-eval/internal/config"
	"github.com/stellarlinkco/call-eval/internal/evaluator"
	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/runner"
	"github.com/stellarlinkco/call-eval/internal/simulator"
	"github.com/stellarlinkco/call-eval/internal/store"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

// App wires the provider, store and runner together for the CLI and the API
// server.
type App struct {
	Config *config.Config
	Store  store.Store
	Runner *runner.Runner
}

// New builds an App from the config: it resolves the default LLM provider,
// opens the configured store and assembles the runner.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	provider, err := llm.DefaultProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	return NewWithDeps(cfg, provider, st), nil
}

// NewWithDeps assembles an App around an existing provider and store.
func NewWithDeps(cfg *config.Config, provider llm.Provider, st store.Store) *App {
	if cfg == nil {
		cfg = config.Default()
	}
	sim := simulator.New(provider, cfg.Simulation.TurnMaxTokens)
	eval := evaluator.New(provider, cfg.Simulation.EvalMaxTokens)
	return &App{
		Config: cfg,
		Store:  st,
		Runner: runner.New(sim, eval, st, runner.ConfigFrom(cfg)),
	}
}

// PrepareRun registers a pending run for the suite: the run row plus one
// pending result row per case. The runner flips these to running and
// terminal states as it executes.
func (a *App) PrepareRun(ctx context.Context, suite *testcase.TestSuite) (*store.RunRecord, error) {
	if a == nil || a.Store == nil {
		return nil, errors.New("app: not initialized")
	}
	if err := testcase.Validate(suite); err != nil {
		return nil, err
	}

	run := &store.RunRecord{
		ID:         store.NewRunID(),
		SuiteName:  suite.Suite,
		Status:     store.RunPending,
		TotalCases: len(suite.Cases),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.Store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	for _, tc := range suite.Cases {
		result := &store.ResultRecord{
			ID:       store.NewResultID(),
			RunID:    run.ID,
			CaseID:   tc.ID,
			CaseName: tc.Name,
			Status:   store.CasePending,
		}
		if err := a.Store.CreateResult(ctx, result); err != nil {
			return nil, fmt.Errorf("app: register case %q: %w", tc.ID, err)
		}
	}
	return run, nil
}

// Run prepares and executes the suite in one call.
func (a *App) Run(ctx context.Context, suite *testcase.TestSuite, progress runner.ProgressFunc) (*store.RunRecord, error) {
	run, err := a.PrepareRun(ctx, suite)
	if err != nil {
		return nil, err
	}
	return a.Runner.ExecuteRun(ctx, run.ID, suite, progress)
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
