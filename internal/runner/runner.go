package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stellarlinkco/call-eval/internal/evaluator"
	"github.com/stellarlinkco/call-eval/internal/simulator"
	"github.com/stellarlinkco/call-eval/internal/store"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

// ErrSimulationTimeout marks a case whose simulation exceeded the per-case
// budget, as opposed to a provider or transport failure.
var ErrSimulationTimeout = errors.New("runner: simulation timed out")

// failingScoreThreshold is the overall score below which a case fails even
// when every hard criterion passed.
const failingScoreThreshold = 50

// Runner executes a test suite: it simulates each case concurrently,
// evaluates the transcripts, persists per-case results and finalizes the run
// aggregate. A case that errors never aborts the run; the run always drains
// every case.
type Runner struct {
	sim  *simulator.Simulator
	eval *evaluator.Evaluator
	st   store.Store
	cfg  Config
}

func New(sim *simulator.Simulator, eval *evaluator.Evaluator, st store.Store, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = ConfigFrom(nil).Concurrency
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = ConfigFrom(nil).CaseTimeout
	}
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = ConfigFrom(nil).DefaultMaxTurns
	}
	return &Runner{sim: sim, eval: eval, st: st, cfg: cfg}
}

// ExecuteRun runs every case of the suite against the run created earlier
// with runID. Pending result rows for each case must already exist. The
// progress callback, when non-nil, receives serialized events as cases start
// and finish. The returned record reflects the finalized run.
func (r *Runner) ExecuteRun(ctx context.Context, runID string, suite *testcase.TestSuite, progress ProgressFunc) (*store.RunRecord, error) {
	if r == nil || r.sim == nil || r.st == nil {
		return nil, errors.New("runner: not initialized")
	}
	if ctx == nil {
		return nil, errors.New("runner: nil context")
	}
	if suite == nil || len(suite.Cases) == 0 {
		return nil, errors.New("runner: empty suite")
	}

	startedAt := time.Now().UTC()
	if err := r.st.MarkRunRunning(ctx, runID, startedAt); err != nil {
		return nil, err
	}

	var emitMu sync.Mutex
	emit := func(ev Event) {
		if progress == nil {
			return
		}
		ev.RunID = runID
		ev.Timestamp = time.Now().UTC()
		emitMu.Lock()
		defer emitMu.Unlock()
		progress(ev)
	}

	emit(Event{Kind: EventStarted, SuiteName: suite.Suite, TotalCases: len(suite.Cases)})

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, r.cfg.Concurrency)
		outcomes = make([]*store.ResultRecord, len(suite.Cases))
		finished int
	)

	for i, tc := range suite.Cases {
		wg.Add(1)
		go func(i int, tc testcase.TestCase) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			emit(Event{Kind: EventCaseStarted, CaseID: tc.ID, CaseName: tc.Name, TotalCases: len(suite.Cases)})

			caseStart := time.Now().UTC()
			if err := r.st.MarkResultRunning(ctx, runID, tc.ID, caseStart); err != nil {
				// The row should exist; treat a miss as an errored case.
				outcomes[i] = erroredRecord(runID, tc, caseStart, err.Error())
			} else {
				outcomes[i] = r.runCase(ctx, runID, suite, tc, caseStart)
			}

			rec := outcomes[i]
			if err := r.st.FinishResult(ctx, rec); err != nil && rec.Status != store.CaseErrored {
				rec.Status = store.CaseErrored
				rec.ErrorMessage = fmt.Sprintf("persist result: %v", err)
				_ = r.st.FinishResult(ctx, rec)
			}

			mu.Lock()
			finished++
			done := finished
			mu.Unlock()

			emit(Event{Kind: EventCaseCompleted, CaseID: tc.ID, CaseName: tc.Name, CaseStatus: rec.Status, Score: rec.OverallScore})
			emit(Event{Kind: EventProgress, Completed: done, TotalCases: len(suite.Cases)})
		}(i, tc)
	}
	wg.Wait()

	run := r.aggregate(runID, suite.Suite, outcomes, startedAt)
	if err := r.st.FinalizeRun(ctx, run); err != nil {
		return run, err
	}

	emit(Event{Kind: EventComplete, SuiteName: suite.Suite, TotalCases: run.TotalCases, Run: run})
	return run, nil
}

// runCase simulates and evaluates a single case and returns the terminal
// result record. It never returns an error: every failure mode lands in the
// record as an errored status with a message.
func (r *Runner) runCase(ctx context.Context, runID string, suite *testcase.TestSuite, tc testcase.TestCase, caseStart time.Time) (rec *store.ResultRecord) {
	defer func() {
		if p := recover(); p != nil {
			rec = erroredRecord(runID, tc, caseStart, fmt.Sprintf("panic: %v", p))
		}
	}()

	persona, _ := suite.PersonaByName(tc.Persona)
	maxTurns := tc.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.cfg.DefaultMaxTurns
	}

	simCtx, cancel := context.WithTimeout(ctx, r.cfg.CaseTimeout)
	defer cancel()

	simRes, simErr := r.sim.Simulate(simCtx, suite.Agent, persona, tc.Scenario, maxTurns)
	if simErr != nil && simCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		simErr = fmt.Errorf("%w after %s", ErrSimulationTimeout, r.cfg.CaseTimeout)
	}

	finishedAt := time.Now().UTC()
	rec = &store.ResultRecord{
		RunID:      runID,
		CaseID:     tc.ID,
		CaseName:   tc.Name,
		DurationMs: finishedAt.Sub(caseStart).Milliseconds(),
		StartedAt:  &caseStart,
		FinishedAt: &finishedAt,
	}
	if simRes != nil {
		rec.Transcript = simRes.Transcript
		rec.TurnCount = simRes.Exchanges
		rec.EndReason = string(simRes.EndReason)
		rec.InputTokens = simRes.InputTokens
		rec.OutputTokens = simRes.OutputTokens
	}

	if simErr != nil {
		rec.Status = store.CaseErrored
		if rec.EndReason == "" {
			rec.EndReason = string(simulator.EndError)
		}
		rec.ErrorMessage = simErr.Error()
		return rec
	}

	eval, err := r.eval.Evaluate(ctx, simRes.Transcript, tc.Criteria, tc.Scenario, suite.Agent.SystemPrompt)
	if err != nil {
		eval = nil
	}
	if eval != nil {
		score := eval.OverallScore
		rec.CriteriaResults = eval.CriteriaResults
		rec.OverallScore = &score
		rec.Summary = eval.Summary
		rec.Sentiment = eval.Sentiment
		rec.Topics = eval.Topics
		rec.InputTokens += eval.InputTokens
		rec.OutputTokens += eval.OutputTokens
	}

	rec.Status = determinePassFail(eval)
	finishedAt = time.Now().UTC()
	rec.FinishedAt = &finishedAt
	rec.DurationMs = finishedAt.Sub(caseStart).Milliseconds()
	return rec
}

// determinePassFail applies the verdict rules: a case fails when any
// must_pass criterion failed, any must_not_fail criterion was violated, or
// the overall score lands below the threshold. A missing evaluation counts
// as failed, not errored: the call itself ran to completion.
func determinePassFail(eval *evaluator.Evaluation) store.CaseStatus {
	if eval == nil {
		return store.CaseFailed
	}
	for _, cr := range eval.CriteriaResults {
		if cr.Passed {
			continue
		}
		if cr.Type == testcase.MustPass || cr.Type == testcase.MustNotFail {
			return store.CaseFailed
		}
	}
	if eval.OverallScore < failingScoreThreshold {
		return store.CaseFailed
	}
	return store.CasePassed
}

func erroredRecord(runID string, tc testcase.TestCase, caseStart time.Time, msg string) *store.ResultRecord {
	finishedAt := time.Now().UTC()
	return &store.ResultRecord{
		RunID:        runID,
		CaseID:       tc.ID,
		CaseName:     tc.Name,
		Status:       store.CaseErrored,
		EndReason:    string(simulator.EndError),
		ErrorMessage: msg,
		DurationMs:   finishedAt.Sub(caseStart).Milliseconds(),
		StartedAt:    &caseStart,
		FinishedAt:   &finishedAt,
	}
}

func (r *Runner) aggregate(runID, suiteName string, outcomes []*store.ResultRecord, startedAt time.Time) *store.RunRecord {
	finishedAt := time.Now().UTC()
	run := &store.RunRecord{
		ID:         runID,
		SuiteName:  suiteName,
		Status:     store.RunCompleted,
		TotalCases: len(outcomes),
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
		StartedAt:  &startedAt,
		FinishedAt: &finishedAt,
	}

	var scoreSum, scored int
	for _, rec := range outcomes {
		if rec == nil {
			run.ErroredCases++
			continue
		}
		switch rec.Status {
		case store.CasePassed:
			run.PassedCases++
		case store.CaseFailed:
			run.FailedCases++
		default:
			run.ErroredCases++
		}
		run.InputTokens += rec.InputTokens
		run.OutputTokens += rec.OutputTokens
		if rec.OverallScore != nil {
			scoreSum += *rec.OverallScore
			scored++
		}
	}

	if scored > 0 {
		avg := math.Round(float64(scoreSum)/float64(scored)*100) / 100
		run.AvgScore = &avg
	}
	run.EstimatedCostCents = estimateCostCents(run.InputTokens, run.OutputTokens, r.cfg.InputPerMTok, r.cfg.OutputPerMTok)
	return run
}

// estimateCostCents converts token totals to whole cents, rounding up so a
// run that consumed anything never reports zero cost.
func estimateCostCents(inputTokens, outputTokens int, inputPerMTok, outputPerMTok float64) int64 {
	usd := float64(inputTokens)*inputPerMTok/1e6 + float64(outputTokens)*outputPerMTok/1e6
	if usd <= 0 {
		return 0
	}
	return int64(math.Ceil(usd * 100))
}
