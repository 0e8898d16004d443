package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/simulator"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

const (
	defaultEvalMaxTokens = 2048

	// fallbackReasoning is recorded for criteria the model's response did
	// not address.
	fallbackReasoning = "Could not be evaluated from the conversation."

	// criterionMatchPrefix is how many leading characters of a criterion
	// are used to match it against the model's echoed text. Deliberately
	// loose; near-identical criterion phrasings can cross-match.
	criterionMatchPrefix = 30
)

const evalPromptTemplate = `You are a strict QA evaluator for phone conversations between a caller and an AI voice agent.

## Scenario under test
{{.Scenario}}

{{if .AgentPromptExcerpt -}}
## Agent instructions (excerpt)
{{.AgentPromptExcerpt}}

{{end -}}
## Transcript
{{range .Transcript}}{{.Role}}: {{.Content}}
{{end}}
## Success criteria
{{range .Criteria}}- [{{.Type}}] {{.Criterion}}
{{end}}
## Scoring
Start from a baseline score of 70. Subtract 15 for each failed must_pass criterion. Subtract 25 for each violated must_not_fail criterion. Add 5 for each satisfied should_pass criterion. Clamp the final score to the range 0-100.

## Instructions
Judge every criterion strictly against the transcript. Output ONLY valid JSON in this exact format, with one entry per criterion:
{"criteria_results": [{"criterion": "<criterion text>", "passed": <bool>, "reasoning": "<brief explanation>"}], "overall_score": <integer 0-100>, "summary": "<one paragraph>", "sentiment": "<positive|neutral|negative>", "topics": ["<topic>"]}`

var evalPromptTmpl = template.Must(template.New("evaluate").Parse(evalPromptTemplate))

type evalPromptData struct {
	Scenario           string
	AgentPromptExcerpt string
	Transcript         []simulator.Message
	Criteria           []testcase.SuccessCriterion
}

type evalOutput struct {
	CriteriaResults []evalCriterion `json:"criteria_results"`
	OverallScore    int             `json:"overall_score"`
	Summary         string          `json:"summary"`
	Sentiment       string          `json:"sentiment"`
	Topics          []string        `json:"topics"`
}

type evalCriterion struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Reasoning string `json:"reasoning"`
}

// Evaluator scores finished transcripts against case criteria.
type Evaluator struct {
	provider  llm.Provider
	maxTokens int
}

func New(provider llm.Provider, maxTokens int) *Evaluator {
	if maxTokens <= 0 {
		maxTokens = defaultEvalMaxTokens
	}
	return &Evaluator{
		provider:  provider,
		maxTokens: maxTokens,
	}
}

// Evaluate judges the transcript against the criteria with one completion
// call. It returns (nil, nil) when there is nothing to score or when the
// completion service fails or produces unusable output; callers treat a nil
// evaluation as "skip scoring", not as a run failure.
func (e *Evaluator) Evaluate(ctx context.Context, transcript []simulator.Message, criteria []testcase.SuccessCriterion, scenario string, agentPromptExcerpt string) (*Evaluation, error) {
	if e == nil {
		return nil, errors.New("evaluator: nil evaluator")
	}
	if ctx == nil {
		return nil, errors.New("evaluator: nil context")
	}
	if len(criteria) == 0 {
		return nil, nil
	}
	if e.provider == nil {
		return nil, nil
	}

	var promptBuf bytes.Buffer
	if err := evalPromptTmpl.Execute(&promptBuf, evalPromptData{
		Scenario:           strings.TrimSpace(scenario),
		AgentPromptExcerpt: excerpt(agentPromptExcerpt, 500),
		Transcript:         transcript,
		Criteria:           criteria,
	}); err != nil {
		return nil, fmt.Errorf("evaluator: render prompt: %w", err)
	}

	resp, err := e.provider.Complete(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: promptBuf.String()}},
		MaxTokens: e.maxTokens,
	})
	if err != nil || resp == nil {
		return nil, nil
	}

	var out evalOutput
	if err := llm.ParseJSON(resp.Text, &out); err != nil {
		return nil, nil
	}

	return &Evaluation{
		CriteriaResults: reconcile(criteria, out.CriteriaResults),
		OverallScore:    clampScore(out.OverallScore),
		Summary:         strings.TrimSpace(out.Summary),
		Sentiment:       strings.ToLower(strings.TrimSpace(out.Sentiment)),
		Topics:          out.Topics,
		InputTokens:     resp.InputTokens,
		OutputTokens:    resp.OutputTokens,
	}, nil
}

// reconcile pairs the model's verdicts back to the input criteria so that
// every input criterion is accounted for exactly once. A criterion the model
// dropped gets a synthesized failed result.
func reconcile(criteria []testcase.SuccessCriterion, got []evalCriterion) []CriterionResult {
	used := make([]bool, len(got))
	out := make([]CriterionResult, 0, len(criteria))

	for _, c := range criteria {
		key := matchKey(c.Criterion)
		matched := false
		for i, g := range got {
			if used[i] {
				continue
			}
			if strings.Contains(strings.ToLower(g.Criterion), key) {
				used[i] = true
				reasoning := strings.TrimSpace(g.Reasoning)
				if reasoning == "" {
					reasoning = fallbackReasoning
				}
				out = append(out, CriterionResult{
					Criterion: c.Criterion,
					Type:      c.Type,
					Passed:    g.Passed,
					Reasoning: reasoning,
				})
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, CriterionResult{
				Criterion: c.Criterion,
				Type:      c.Type,
				Passed:    false,
				Reasoning: fallbackReasoning,
			})
		}
	}

	return out
}

func matchKey(criterion string) string {
	s := strings.ToLower(strings.TrimSpace(criterion))
	if len(s) > criterionMatchPrefix {
		s = s[:criterionMatchPrefix]
	}
	return s
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
