package runner

import (
	"time"

	"github.com/stellarlinkco/call-eval/internal/config"
	"github.com/stellarlinkco/call-eval/internal/store"
)

// EventKind identifies a progress event emitted while a run executes.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventCaseStarted   EventKind = "case_started"
	EventCaseCompleted EventKind = "case_completed"
	EventProgress      EventKind = "progress"
	EventComplete      EventKind = "complete"
)

// Event is a single progress notification. Fields beyond Kind, RunID and
// Timestamp are populated per kind: case events carry the case identity,
// progress carries the counters, complete carries the final run record.
type Event struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	SuiteName  string           `json:"suite_name,omitempty"`
	TotalCases int              `json:"total_cases,omitempty"`
	CaseID     string           `json:"case_id,omitempty"`
	CaseName   string           `json:"case_name,omitempty"`
	CaseStatus store.CaseStatus `json:"case_status,omitempty"`
	Score      *int             `json:"score,omitempty"`
	Completed  int              `json:"completed,omitempty"`
	Run        *store.RunRecord `json:"run,omitempty"`
}

// ProgressFunc receives events synchronously as the run advances. It must be
// safe to call from multiple goroutines; the runner serializes calls itself.
type ProgressFunc func(Event)

// Config holds the knobs the runner needs from the application config.
type Config struct {
	Concurrency     int
	CaseTimeout     time.Duration
	DefaultMaxTurns int
	InputPerMTok    float64
	OutputPerMTok   float64
}

// ConfigFrom extracts runner settings from the application config,
// falling back to defaults for anything unset.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		Concurrency:     config.DefaultConcurrency,
		CaseTimeout:     config.DefaultCaseTimeout,
		DefaultMaxTurns: config.DefaultMaxTurns,
		InputPerMTok:    config.DefaultInputPerMTok,
		OutputPerMTok:   config.DefaultOutputPerMTok,
	}
	if cfg == nil {
		return out
	}
	if cfg.Simulation.Concurrency > 0 {
		out.Concurrency = cfg.Simulation.Concurrency
	}
	if cfg.Simulation.CaseTimeout > 0 {
		out.CaseTimeout = cfg.Simulation.CaseTimeout
	}
	if cfg.Simulation.DefaultMaxTurns > 0 {
		out.DefaultMaxTurns = cfg.Simulation.DefaultMaxTurns
	}
	if cfg.Pricing.InputPerMTok > 0 {
		out.InputPerMTok = cfg.Pricing.InputPerMTok
	}
	if cfg.Pricing.OutputPerMTok > 0 {
		out.OutputPerMTok = cfg.Pricing.OutputPerMTok
	}
	return out
}
