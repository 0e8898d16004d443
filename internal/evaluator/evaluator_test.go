package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/simulator"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

type stubProvider struct {
	text    string
	err     error
	lastReq *llm.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{Text: p.text, InputTokens: 100, OutputTokens: 40}, nil
}

var sampleTranscript = []simulator.Message{
	{Role: simulator.RoleAgent, Content: "Hello, how can I help?", Turn: 0},
	{Role: simulator.RoleCaller, Content: "My invoice is wrong.", Turn: 1},
	{Role: simulator.RoleAgent, Content: "Let me fix that for you.", Turn: 2},
}

var sampleCriteria = []testcase.SuccessCriterion{
	{Criterion: "Agent acknowledges the billing problem", Type: testcase.MustPass},
	{Criterion: "Agent offers a concrete resolution", Type: testcase.ShouldPass},
	{Criterion: "Agent never blames the customer", Type: testcase.MustNotFail},
}

func TestEvaluate_FullResponse(t *testing.T) {
	t.Parallel()

	p := &stubProvider{text: `{
		"criteria_results": [
			{"criterion": "Agent acknowledges the billing problem", "passed": true, "reasoning": "Agent addressed the invoice."},
			{"criterion": "Agent offers a concrete resolution", "passed": true, "reasoning": "Said they would fix it."},
			{"criterion": "Agent never blames the customer", "passed": true, "reasoning": "No blame."}
		],
		"overall_score": 80,
		"summary": "Smooth call.",
		"sentiment": "Positive",
		"topics": ["billing", "invoice"]
	}`}

	e := New(p, 0)
	got, err := e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "billing complaint", "You are a billing agent.")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got == nil {
		t.Fatal("Evaluate: nil evaluation")
	}
	if len(got.CriteriaResults) != 3 {
		t.Fatalf("len(CriteriaResults): got %d want 3", len(got.CriteriaResults))
	}
	for i, cr := range got.CriteriaResults {
		if cr.Criterion != sampleCriteria[i].Criterion {
			t.Fatalf("CriteriaResults[%d].Criterion: got %q", i, cr.Criterion)
		}
		if cr.Type != sampleCriteria[i].Type {
			t.Fatalf("CriteriaResults[%d].Type: got %q", i, cr.Type)
		}
		if !cr.Passed {
			t.Fatalf("CriteriaResults[%d]: not passed", i)
		}
	}
	if got.OverallScore != 80 {
		t.Fatalf("OverallScore: got %d want 80", got.OverallScore)
	}
	if got.Sentiment != "positive" {
		t.Fatalf("Sentiment: got %q", got.Sentiment)
	}
	if got.InputTokens != 100 || got.OutputTokens != 40 {
		t.Fatalf("tokens: got %d/%d", got.InputTokens, got.OutputTokens)
	}

	// The rubric and transcript are both in the prompt.
	prompt := p.lastReq.Messages[0].Content
	for _, want := range []string{"baseline score of 70", "Subtract 15", "Subtract 25", "Add 5", "My invoice is wrong."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestEvaluate_FencedOutput(t *testing.T) {
	t.Parallel()

	p := &stubProvider{text: "```json\n{\"criteria_results\": [], \"overall_score\": 55, \"summary\": \"ok\", \"sentiment\": \"neutral\", \"topics\": []}\n```"}

	e := New(p, 0)
	got, err := e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "s", "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got == nil {
		t.Fatal("Evaluate: nil evaluation for fenced output")
	}
	if got.OverallScore != 55 {
		t.Fatalf("OverallScore: got %d want 55", got.OverallScore)
	}
	// All criteria were dropped by the model; all get fallbacks.
	if len(got.CriteriaResults) != len(sampleCriteria) {
		t.Fatalf("len(CriteriaResults): got %d want %d", len(got.CriteriaResults), len(sampleCriteria))
	}
	for i, cr := range got.CriteriaResults {
		if cr.Passed {
			t.Fatalf("CriteriaResults[%d]: fallback should not pass", i)
		}
		if cr.Reasoning != fallbackReasoning {
			t.Fatalf("CriteriaResults[%d].Reasoning: got %q", i, cr.Reasoning)
		}
	}
}

func TestEvaluate_ReconciliationPartialMatch(t *testing.T) {
	t.Parallel()

	// Model echoes a reworded criterion that still contains the first 30
	// characters of the original, case shifted, and drops the other two.
	p := &stubProvider{text: `{
		"criteria_results": [
			{"criterion": "the AGENT ACKNOWLEDGES THE BILLING problem clearly", "passed": true, "reasoning": "yes"}
		],
		"overall_score": 70,
		"summary": "partial",
		"sentiment": "neutral",
		"topics": []
	}`}

	e := New(p, 0)
	got, err := e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "s", "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got == nil {
		t.Fatal("Evaluate: nil evaluation")
	}
	if len(got.CriteriaResults) != 3 {
		t.Fatalf("len(CriteriaResults): got %d want 3", len(got.CriteriaResults))
	}
	if !got.CriteriaResults[0].Passed || got.CriteriaResults[0].Reasoning != "yes" {
		t.Fatalf("matched criterion: got %+v", got.CriteriaResults[0])
	}
	if got.CriteriaResults[1].Passed || got.CriteriaResults[2].Passed {
		t.Fatal("dropped criteria should be synthesized as failed")
	}

	// Every original criterion text appears exactly once.
	seen := map[string]int{}
	for _, cr := range got.CriteriaResults {
		seen[cr.Criterion]++
	}
	for _, c := range sampleCriteria {
		if seen[c.Criterion] != 1 {
			t.Fatalf("criterion %q appears %d times", c.Criterion, seen[c.Criterion])
		}
	}
}

func TestEvaluate_NilResults(t *testing.T) {
	t.Parallel()

	e := New(&stubProvider{text: "{}"}, 0)

	// No criteria: nothing to score.
	got, err := e.Evaluate(context.Background(), sampleTranscript, nil, "s", "")
	if err != nil || got != nil {
		t.Fatalf("no criteria: got (%v, %v) want (nil, nil)", got, err)
	}

	// Completion failure: skip scoring, not an error.
	e = New(&stubProvider{err: errors.New("overloaded")}, 0)
	got, err = e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "s", "")
	if err != nil || got != nil {
		t.Fatalf("provider failure: got (%v, %v) want (nil, nil)", got, err)
	}

	// Unparseable output: same.
	e = New(&stubProvider{text: "I couldn't evaluate this."}, 0)
	got, err = e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "s", "")
	if err != nil || got != nil {
		t.Fatalf("bad output: got (%v, %v) want (nil, nil)", got, err)
	}

	// Nil provider: same.
	e = New(nil, 0)
	got, err = e.Evaluate(context.Background(), sampleTranscript, sampleCriteria, "s", "")
	if err != nil || got != nil {
		t.Fatalf("nil provider: got (%v, %v) want (nil, nil)", got, err)
	}
}

func TestEvaluate_ScoreClamped(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		raw  int
		want int
	}{
		{raw: -10, want: 0},
		{raw: 0, want: 0},
		{raw: 100, want: 100},
		{raw: 140, want: 100},
	} {
		if got := clampScore(tc.raw); got != tc.want {
			t.Fatalf("clampScore(%d): got %d want %d", tc.raw, got, tc.want)
		}
	}
}
