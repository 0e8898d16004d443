package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/call-eval/internal/evaluator"
	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/simulator"
	"github.com/stellarlinkco/call-eval/internal/store"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

const passingEvalJSON = `{
	"criteria_results": [
		{"criterion": "Agent offers a refund", "type": "must_pass", "passed": true, "reasoning": "Refund offered."}
	],
	"overall_score": 85,
	"summary": "Handled well.",
	"sentiment": "positive",
	"topics": ["billing"]
}`

// fakeProvider serves all three call shapes: persona turns (system prompt
// carries the end-call sentinel), agent turns, and the judge call (empty
// system, single user message). It also tracks peak in-flight completions.
type fakeProvider struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int

	delay        time.Duration
	block        bool
	blockWhen    string
	personaReply string
	evalJSON     string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.block || (p.blockWhen != "" && strings.Contains(req.System, p.blockWhen)) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if req.System == "" {
		return &llm.Completion{Text: p.evalJSON, InputTokens: 100, OutputTokens: 40}, nil
	}
	if strings.Contains(req.System, simulator.EndCallSentinel) {
		reply := p.personaReply
		if reply == "" {
			reply = "Thanks, that fixes it. " + simulator.EndCallSentinel
		}
		return &llm.Completion{Text: reply, InputTokens: 10, OutputTokens: 5}, nil
	}
	return &llm.Completion{Text: "Sure, let me look into that.", InputTokens: 10, OutputTokens: 5}, nil
}

func testSuite(n int) *testcase.TestSuite {
	s := &testcase.TestSuite{
		Suite: "billing-support",
		Agent: testcase.Agent{
			SystemPrompt: "You are a billing support agent.",
			FirstMessage: "Hello, billing support.",
		},
		Personas: []testcase.Persona{
			{Name: "upset-customer", Description: "Recently double charged."},
		},
	}
	for i := 0; i < n; i++ {
		s.Cases = append(s.Cases, testcase.TestCase{
			ID:       fmt.Sprintf("case-%d", i+1),
			Name:     fmt.Sprintf("Case %d", i+1),
			Scenario: "Caller disputes a double charge.",
			Persona:  "upset-customer",
			Criteria: []testcase.SuccessCriterion{
				{Criterion: "Agent offers a refund", Type: testcase.MustPass},
			},
		})
	}
	return s
}

func newRunner(t *testing.T, p llm.Provider, cfg Config) (*Runner, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sim := simulator.New(p, 256)
	eval := evaluator.New(p, 2048)
	return New(sim, eval, st, cfg), st
}

func prepareRun(t *testing.T, st store.Store, runID string, suite *testcase.TestSuite) {
	t.Helper()
	ctx := context.Background()
	err := st.CreateRun(ctx, &store.RunRecord{
		ID: runID, SuiteName: suite.Suite, Status: store.RunPending, TotalCases: len(suite.Cases),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for _, tc := range suite.Cases {
		err := st.CreateResult(ctx, &store.ResultRecord{
			ID: store.NewResultID(), RunID: runID, CaseID: tc.ID, CaseName: tc.Name,
		})
		if err != nil {
			t.Fatalf("CreateResult(%s): %v", tc.ID, err)
		}
	}
}

func TestExecuteRun_EndToEnd(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{evalJSON: passingEvalJSON}
	r, st := newRunner(t, provider, Config{Concurrency: 2, CaseTimeout: 5 * time.Second, DefaultMaxTurns: 4, InputPerMTok: 3.0, OutputPerMTok: 15.0})
	suite := testSuite(3)
	prepareRun(t, st, "run-1", suite)

	var events []Event
	run, err := r.ExecuteRun(context.Background(), "run-1", suite, func(ev Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	if run.Status != store.RunCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
	if run.PassedCases != 3 || run.FailedCases != 0 || run.ErroredCases != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/0/0", run.PassedCases, run.FailedCases, run.ErroredCases)
	}
	if run.AvgScore == nil || *run.AvgScore != 85 {
		t.Errorf("avg score = %v, want 85", run.AvgScore)
	}
	// Each case: one persona turn (10/5) plus one judge call (100/40).
	if run.InputTokens != 330 || run.OutputTokens != 135 {
		t.Errorf("tokens = %d/%d, want 330/135", run.InputTokens, run.OutputTokens)
	}
	// 330*3/1e6 + 135*15/1e6 dollars rounds up to one cent.
	if run.EstimatedCostCents != 1 {
		t.Errorf("estimated cost = %d cents, want 1", run.EstimatedCostCents)
	}

	persisted, err := st.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if persisted.Status != store.RunCompleted || persisted.PassedCases != 3 {
		t.Errorf("persisted run = %+v, want completed with 3 passed", persisted)
	}

	results, err := st.ListResults(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, res := range results {
		if res.Status != store.CasePassed {
			t.Errorf("%s status = %q, want passed", res.CaseID, res.Status)
		}
		if res.EndReason != string(simulator.EndPersonaEnded) {
			t.Errorf("%s end reason = %q, want persona_ended", res.CaseID, res.EndReason)
		}
		if len(res.Transcript) == 0 {
			t.Errorf("%s transcript empty", res.CaseID)
		}
		if res.OverallScore == nil || *res.OverallScore != 85 {
			t.Errorf("%s score = %v, want 85", res.CaseID, res.OverallScore)
		}
	}

	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[0].Kind != EventStarted || events[0].TotalCases != 3 {
		t.Errorf("first event = %+v, want started with 3 cases", events[0])
	}
	last := events[len(events)-1]
	if last.Kind != EventComplete || last.Run == nil || last.Run.PassedCases != 3 {
		t.Errorf("last event = %+v, want complete with final record", last)
	}
	kinds := map[EventKind]int{}
	maxProgress := 0
	for _, ev := range events {
		kinds[ev.Kind]++
		if ev.RunID != "run-1" {
			t.Errorf("event run id = %q, want run-1", ev.RunID)
		}
		if ev.Kind == EventProgress && ev.Completed > maxProgress {
			maxProgress = ev.Completed
		}
	}
	if kinds[EventCaseStarted] != 3 || kinds[EventCaseCompleted] != 3 || kinds[EventProgress] != 3 {
		t.Errorf("event counts = %v, want 3 of each case kind", kinds)
	}
	if maxProgress != 3 {
		t.Errorf("max progress completed = %d, want 3", maxProgress)
	}
}

func TestExecuteRun_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{evalJSON: passingEvalJSON, delay: 20 * time.Millisecond}
	r, st := newRunner(t, provider, Config{Concurrency: 2, CaseTimeout: 5 * time.Second})
	suite := testSuite(6)
	prepareRun(t, st, "run-1", suite)

	if _, err := r.ExecuteRun(context.Background(), "run-1", suite, nil); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	provider.mu.Lock()
	maxSeen := provider.maxSeen
	provider.mu.Unlock()
	if maxSeen > 2 {
		t.Errorf("peak in-flight completions = %d, want <= 2", maxSeen)
	}
}

func TestExecuteRun_SimulationTimeout(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{block: true}
	r, st := newRunner(t, provider, Config{Concurrency: 1, CaseTimeout: 50 * time.Millisecond})
	suite := testSuite(1)
	prepareRun(t, st, "run-1", suite)

	run, err := r.ExecuteRun(context.Background(), "run-1", suite, nil)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %q, want completed despite timeout", run.Status)
	}
	if run.ErroredCases != 1 {
		t.Errorf("errored cases = %d, want 1", run.ErroredCases)
	}
	if run.AvgScore != nil {
		t.Errorf("avg score = %v, want nil when nothing scored", *run.AvgScore)
	}

	res, err := st.GetResult(context.Background(), "run-1", "case-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != store.CaseErrored {
		t.Errorf("case status = %q, want errored", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "timed out") {
		t.Errorf("error message = %q, want timeout text", res.ErrorMessage)
	}
	// The opening line landed before the caller turn hung.
	if len(res.Transcript) != 1 {
		t.Errorf("transcript length = %d, want the partial transcript kept", len(res.Transcript))
	}
}

func TestExecuteRun_UnparsableEvaluationFailsCase(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{evalJSON: "the judge rambled instead of emitting JSON"}
	r, st := newRunner(t, provider, Config{Concurrency: 1, CaseTimeout: 5 * time.Second})
	suite := testSuite(1)
	prepareRun(t, st, "run-1", suite)

	run, err := r.ExecuteRun(context.Background(), "run-1", suite, nil)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if run.FailedCases != 1 || run.ErroredCases != 0 {
		t.Errorf("counts = failed %d errored %d, want 1 failed", run.FailedCases, run.ErroredCases)
	}

	res, err := st.GetResult(context.Background(), "run-1", "case-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != store.CaseFailed {
		t.Errorf("case status = %q, want failed for missing evaluation", res.Status)
	}
	if res.OverallScore != nil {
		t.Errorf("score = %v, want nil", *res.OverallScore)
	}
	if res.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty for a clean simulation", res.ErrorMessage)
	}
}

func TestExecuteRun_MixedOutcomesDrainAllCases(t *testing.T) {
	t.Parallel()

	// One case hangs its simulation; the other two complete and score.
	provider := &fakeProvider{evalJSON: passingEvalJSON}
	provider.blockWhen = "stay on hold forever"
	r, st := newRunner(t, provider, Config{Concurrency: 2, CaseTimeout: 50 * time.Millisecond})
	suite := testSuite(3)
	suite.Cases[1].Scenario = "Caller is told to stay on hold forever."
	prepareRun(t, st, "run-1", suite)

	run, err := r.ExecuteRun(context.Background(), "run-1", suite, nil)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if run.PassedCases != 2 || run.FailedCases != 0 || run.ErroredCases != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/0/1", run.PassedCases, run.FailedCases, run.ErroredCases)
	}
	if got := run.PassedCases + run.FailedCases + run.ErroredCases; got != run.TotalCases {
		t.Errorf("terminal cases = %d, want %d", got, run.TotalCases)
	}
	if run.AvgScore == nil || *run.AvgScore != 85 {
		t.Errorf("avg score = %v, want 85 over the two scored cases", run.AvgScore)
	}

	res, err := st.GetResult(context.Background(), "run-1", "case-2")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != store.CaseErrored || !strings.Contains(res.ErrorMessage, "timed out") {
		t.Errorf("hung case = %q / %q, want errored timeout", res.Status, res.ErrorMessage)
	}
}

func TestDeterminePassFail(t *testing.T) {
	t.Parallel()

	mk := func(score int, results ...evaluator.CriterionResult) *evaluator.Evaluation {
		return &evaluator.Evaluation{CriteriaResults: results, OverallScore: score}
	}

	tests := []struct {
		name string
		eval *evaluator.Evaluation
		want store.CaseStatus
	}{
		{"nil evaluation", nil, store.CaseFailed},
		{
			"failed must_pass overrides high score",
			mk(90, evaluator.CriterionResult{Type: testcase.MustPass, Passed: false}),
			store.CaseFailed,
		},
		{
			"violated must_not_fail overrides high score",
			mk(95, evaluator.CriterionResult{Type: testcase.MustNotFail, Passed: false}),
			store.CaseFailed,
		},
		{
			"failed should_pass alone does not fail",
			mk(72, evaluator.CriterionResult{Type: testcase.ShouldPass, Passed: false}),
			store.CasePassed,
		},
		{
			"low score fails despite passing criteria",
			mk(40, evaluator.CriterionResult{Type: testcase.MustPass, Passed: true}),
			store.CaseFailed,
		},
		{
			"threshold score passes",
			mk(50, evaluator.CriterionResult{Type: testcase.MustPass, Passed: true}),
			store.CasePassed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determinePassFail(tt.eval); got != tt.want {
				t.Errorf("determinePassFail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEstimateCostCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in, out   int
		pin, pout float64
		want      int64
	}{
		{"zero usage", 0, 0, 3.0, 15.0, 0},
		{"rounds up to one cent", 330, 135, 3.0, 15.0, 1},
		{"exact cents", 1_000_000, 0, 3.0, 15.0, 300},
		{"mixed usage", 2_000_000, 1_000_000, 3.0, 15.0, 2100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimateCostCents(tt.in, tt.out, tt.pin, tt.pout); got != tt.want {
				t.Errorf("estimateCostCents() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAggregate_AverageScoreRounding(t *testing.T) {
	t.Parallel()

	r := New(simulator.New(&fakeProvider{}, 0), nil, mustMemStore(t), Config{})
	s1, s2, s3 := 70, 71, 0
	outcomes := []*store.ResultRecord{
		{Status: store.CasePassed, OverallScore: &s1},
		{Status: store.CasePassed, OverallScore: &s2},
		{Status: store.CaseFailed, OverallScore: &s3},
		{Status: store.CaseErrored}, // no score, excluded from the mean
	}

	run := r.aggregate("run-1", "s", outcomes, time.Now().UTC())
	if run.TotalCases != 4 || run.PassedCases != 2 || run.FailedCases != 1 || run.ErroredCases != 1 {
		t.Errorf("counts = %d total %d/%d/%d", run.TotalCases, run.PassedCases, run.FailedCases, run.ErroredCases)
	}
	if run.AvgScore == nil || *run.AvgScore != 47.0 {
		t.Errorf("avg score = %v, want 47.0", run.AvgScore)
	}

	run = r.aggregate("run-2", "s", []*store.ResultRecord{{Status: store.CaseErrored}}, time.Now().UTC())
	if run.AvgScore != nil {
		t.Errorf("avg score = %v, want nil with no scored cases", *run.AvgScore)
	}
}

func mustMemStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
