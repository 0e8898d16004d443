package store

import (
	"context"
	"time"

	"github.com/stellarlinkco/call-eval/internal/evaluator"
	"github.com/stellarlinkco/call-eval/internal/simulator"
)

// RunStatus is the lifecycle state of a test run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// CaseStatus is the lifecycle state of a per-case result.
type CaseStatus string

const (
	CasePending CaseStatus = "pending"
	CaseRunning CaseStatus = "running"
	CasePassed  CaseStatus = "passed"
	CaseFailed  CaseStatus = "failed"
	CaseErrored CaseStatus = "errored"
)

// Terminal reports whether no further status transition occurs from s.
func (s CaseStatus) Terminal() bool {
	switch s {
	case CasePassed, CaseFailed, CaseErrored:
		return true
	default:
		return false
	}
}

// RunWriter defines write access to run aggregate records.
type RunWriter interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	// MarkRunRunning updates only status and started_at.
	MarkRunRunning(ctx context.Context, runID string, startedAt time.Time) error
	// FinalizeRun writes the terminal aggregate counters.
	FinalizeRun(ctx context.Context, run *RunRecord) error
}

// ResultWriter defines write access to per-case result records.
type ResultWriter interface {
	CreateResult(ctx context.Context, result *ResultRecord) error
	// MarkResultRunning updates only status and started_at.
	MarkResultRunning(ctx context.Context, runID, caseID string, startedAt time.Time) error
	// FinishResult writes the terminal per-case fields.
	FinishResult(ctx context.Context, result *ResultRecord) error
}

// RunReader defines read access to runs and their results.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	GetResult(ctx context.Context, runID, caseID string) (*ResultRecord, error)
	ListResults(ctx context.Context, runID string) ([]*ResultRecord, error)
}

// Store defines persistence for runs and per-case results.
type Store interface {
	RunWriter
	ResultWriter
	RunReader
	Close() error
}

// RunRecord is the suite-level aggregate row, keyed by run id.
type RunRecord struct {
	ID                 string
	SuiteName          string
	Status             RunStatus
	TotalCases         int
	PassedCases        int
	FailedCases        int
	ErroredCases       int
	AvgScore           *float64 // nil when no case produced a score
	DurationMs         int64
	InputTokens        int
	OutputTokens       int
	EstimatedCostCents int64
	CreatedAt          time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
}

// ResultRecord is the per-(run, case) row.
type ResultRecord struct {
	ID              string
	RunID           string
	CaseID          string
	CaseName        string
	Status          CaseStatus
	Transcript      []simulator.Message
	TurnCount       int
	EndReason       string
	CriteriaResults []evaluator.CriterionResult
	OverallScore    *int // nil when evaluation was skipped
	Summary         string
	Sentiment       string
	Topics          []string
	InputTokens     int
	OutputTokens    int
	ErrorMessage    string
	DurationMs      int64
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// RunFilter filters run listings.
type RunFilter struct {
	SuiteName string
	Status    RunStatus
	Since     time.Time
	Limit     int
}
