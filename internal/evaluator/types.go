package evaluator

import "github.com/stellarlinkco/call-eval/internal/testcase"

// CriterionResult is the verdict for one success criterion. The criterion
// text is echoed from the input list, never from the model.
type CriterionResult struct {
	Criterion string                 `json:"criterion"`
	Type      testcase.CriterionType `json:"type"`
	Passed    bool                   `json:"passed"`
	Reasoning string                 `json:"reasoning"`
}

// Evaluation is the scored outcome for one finished transcript.
type Evaluation struct {
	CriteriaResults []CriterionResult
	OverallScore    int // 0-100
	Summary         string
	Sentiment       string
	Topics          []string
	InputTokens     int
	OutputTokens    int
}
