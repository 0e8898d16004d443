package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 50

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.NewString()
}

// NewResultID returns a fresh per-case result identifier.
func NewResultID() string {
	return "res_" + uuid.NewString()
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	insertRunStmt      *sql.Stmt
	markRunRunningStmt *sql.Stmt
	finalizeRunStmt    *sql.Stmt
	getRunStmt         *sql.Stmt
	insertResultStmt   *sql.Stmt
	markResultRunning  *sql.Stmt
	finishResultStmt   *sql.Stmt
	getResultStmt      *sql.Stmt
	resultsByRunStmt   *sql.Stmt
}

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if inMemory {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{db: db}
	if err := st.prepareStatements(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS test_runs (
			id TEXT PRIMARY KEY,
			suite_name TEXT NOT NULL,
			status TEXT NOT NULL,
			total_cases INTEGER NOT NULL,
			passed_cases INTEGER NOT NULL DEFAULT 0,
			failed_cases INTEGER NOT NULL DEFAULT 0,
			errored_cases INTEGER NOT NULL DEFAULT 0,
			avg_score REAL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost_cents INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS test_results (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			case_id TEXT NOT NULL,
			case_name TEXT NOT NULL,
			status TEXT NOT NULL,
			transcript BLOB,
			turn_count INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT '',
			criteria_results BLOB,
			overall_score INTEGER,
			summary TEXT NOT NULL DEFAULT '',
			sentiment TEXT NOT NULL DEFAULT '',
			topics BLOB,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER,
			finished_at INTEGER,
			UNIQUE(run_id, case_id),
			FOREIGN KEY(run_id) REFERENCES test_runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_test_results_run_id ON test_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_test_runs_suite ON test_runs(suite_name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_test_runs_created_at ON test_runs(created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	if s == nil || s.db == nil {
		return errors.New("store: nil sqlite store")
	}

	ctx := context.Background()
	type stmtSpec struct {
		dst    **sql.Stmt
		query  string
		errFmt string
	}

	specs := []stmtSpec{
		{
			dst: &s.insertRunStmt,
			query: `
				INSERT INTO test_runs (
					id, suite_name, status, total_cases, created_at
				) VALUES (?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert run: %w",
		},
		{
			dst: &s.markRunRunningStmt,
			query: `
				UPDATE test_runs SET status = ?, started_at = ? WHERE id = ?
			`,
			errFmt: "store: prepare mark run running: %w",
		},
		{
			dst: &s.finalizeRunStmt,
			query: `
				UPDATE test_runs SET
					status = ?, passed_cases = ?, failed_cases = ?, errored_cases = ?,
					avg_score = ?, duration_ms = ?, input_tokens = ?, output_tokens = ?,
					estimated_cost_cents = ?, finished_at = ?
				WHERE id = ?
			`,
			errFmt: "store: prepare finalize run: %w",
		},
		{
			dst: &s.getRunStmt,
			query: `
				SELECT id, suite_name, status, total_cases, passed_cases, failed_cases,
					errored_cases, avg_score, duration_ms, input_tokens, output_tokens,
					estimated_cost_cents, created_at, started_at, finished_at
				FROM test_runs WHERE id = ?
			`,
			errFmt: "store: prepare get run: %w",
		},
		{
			dst: &s.insertResultStmt,
			query: `
				INSERT INTO test_results (
					id, run_id, case_id, case_name, status
				) VALUES (?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert result: %w",
		},
		{
			dst: &s.markResultRunning,
			query: `
				UPDATE test_results SET status = ?, started_at = ? WHERE run_id = ? AND case_id = ?
			`,
			errFmt: "store: prepare mark result running: %w",
		},
		{
			dst: &s.finishResultStmt,
			query: `
				UPDATE test_results SET
					status = ?, transcript = ?, turn_count = ?, end_reason = ?,
					criteria_results = ?, overall_score = ?, summary = ?, sentiment = ?,
					topics = ?, input_tokens = ?, output_tokens = ?, error_message = ?,
					duration_ms = ?, finished_at = ?
				WHERE run_id = ? AND case_id = ?
			`,
			errFmt: "store: prepare finish result: %w",
		},
		{
			dst: &s.getResultStmt,
			query: resultSelectColumns + ` FROM test_results WHERE run_id = ? AND case_id = ?`,
			errFmt: "store: prepare get result: %w",
		},
		{
			dst: &s.resultsByRunStmt,
			query: resultSelectColumns + `
				FROM test_results
				WHERE run_id = ?
				ORDER BY case_id ASC
			`,
			errFmt: "store: prepare results by run: %w",
		},
	}

	for _, spec := range specs {
		stmt, err := s.db.PrepareContext(ctx, spec.query)
		if err != nil {
			return fmt.Errorf(spec.errFmt, err)
		}
		*spec.dst = stmt
	}
	return nil
}

const resultSelectColumns = `
	SELECT id, run_id, case_id, case_name, status, transcript, turn_count,
		end_reason, criteria_results, overall_score, summary, sentiment, topics,
		input_tokens, output_tokens, error_message, duration_ms, started_at, finished_at`

// CreateRun inserts the run aggregate row with status and total count only.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	if s == nil || s.insertRunStmt == nil {
		return errors.New("store: not initialized")
	}
	if run == nil {
		return errors.New("store: nil run")
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("store: run missing id")
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := run.Status
	if status == "" {
		status = RunPending
	}

	_, err := s.insertRunStmt.ExecContext(ctx,
		run.ID, run.SuiteName, string(status), run.TotalCases, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run %q: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkRunRunning(ctx context.Context, runID string, startedAt time.Time) error {
	if s == nil || s.markRunRunningStmt == nil {
		return errors.New("store: not initialized")
	}
	res, err := s.markRunRunningStmt.ExecContext(ctx, string(RunRunning), startedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("store: mark run %q running: %w", runID, err)
	}
	return requireRow(res, "run", runID)
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, run *RunRecord) error {
	if s == nil || s.finalizeRunStmt == nil {
		return errors.New("store: not initialized")
	}
	if run == nil {
		return errors.New("store: nil run")
	}

	var avg sql.NullFloat64
	if run.AvgScore != nil {
		avg = sql.NullFloat64{Float64: *run.AvgScore, Valid: true}
	}
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
	}

	res, err := s.finalizeRunStmt.ExecContext(ctx,
		string(RunCompleted), run.PassedCases, run.FailedCases, run.ErroredCases,
		avg, run.DurationMs, run.InputTokens, run.OutputTokens,
		run.EstimatedCostCents, finished, run.ID,
	)
	if err != nil {
		return fmt.Errorf("store: finalize run %q: %w", run.ID, err)
	}
	return requireRow(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if s == nil || s.getRunStmt == nil {
		return nil, errors.New("store: not initialized")
	}

	row := s.getRunStmt.QueryRowContext(ctx, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run %q: %w", id, err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, suite_name, status, total_cases, passed_cases, failed_cases,
			errored_cases, avg_score, duration_ms, input_tokens, output_tokens,
			estimated_cost_cents, created_at, started_at, finished_at
		FROM test_runs WHERE 1=1`)

	var args []any
	if v := strings.TrimSpace(filter.SuiteName); v != "" {
		sb.WriteString(" AND suite_name = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(string(filter.Status)); v != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, v)
	}
	if !filter.Since.IsZero() {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	sb.WriteString(" ORDER BY created_at DESC LIMIT ?")
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateResult(ctx context.Context, result *ResultRecord) error {
	if s == nil || s.insertResultStmt == nil {
		return errors.New("store: not initialized")
	}
	if result == nil {
		return errors.New("store: nil result")
	}
	if strings.TrimSpace(result.ID) == "" {
		return errors.New("store: result missing id")
	}
	if strings.TrimSpace(result.RunID) == "" || strings.TrimSpace(result.CaseID) == "" {
		return errors.New("store: result missing run or case id")
	}

	status := result.Status
	if status == "" {
		status = CasePending
	}

	_, err := s.insertResultStmt.ExecContext(ctx,
		result.ID, result.RunID, result.CaseID, result.CaseName, string(status),
	)
	if err != nil {
		return fmt.Errorf("store: insert result %s/%s: %w", result.RunID, result.CaseID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkResultRunning(ctx context.Context, runID, caseID string, startedAt time.Time) error {
	if s == nil || s.markResultRunning == nil {
		return errors.New("store: not initialized")
	}
	res, err := s.markResultRunning.ExecContext(ctx, string(CaseRunning), startedAt.UnixMilli(), runID, caseID)
	if err != nil {
		return fmt.Errorf("store: mark result %s/%s running: %w", runID, caseID, err)
	}
	return requireRow(res, "result", runID+"/"+caseID)
}

func (s *SQLiteStore) FinishResult(ctx context.Context, result *ResultRecord) error {
	if s == nil || s.finishResultStmt == nil {
		return errors.New("store: not initialized")
	}
	if result == nil {
		return errors.New("store: nil result")
	}
	if !result.Status.Terminal() {
		return fmt.Errorf("store: finish result %s/%s: non-terminal status %q", result.RunID, result.CaseID, result.Status)
	}

	transcript, err := marshalJSON(result.Transcript)
	if err != nil {
		return fmt.Errorf("store: marshal transcript: %w", err)
	}
	criteria, err := marshalJSON(result.CriteriaResults)
	if err != nil {
		return fmt.Errorf("store: marshal criteria results: %w", err)
	}
	topics, err := marshalJSON(result.Topics)
	if err != nil {
		return fmt.Errorf("store: marshal topics: %w", err)
	}

	var score sql.NullInt64
	if result.OverallScore != nil {
		score = sql.NullInt64{Int64: int64(*result.OverallScore), Valid: true}
	}
	var finished sql.NullInt64
	if result.FinishedAt != nil {
		finished = sql.NullInt64{Int64: result.FinishedAt.UnixMilli(), Valid: true}
	}

	res, err := s.finishResultStmt.ExecContext(ctx,
		string(result.Status), transcript, result.TurnCount, result.EndReason,
		criteria, score, result.Summary, result.Sentiment,
		topics, result.InputTokens, result.OutputTokens, result.ErrorMessage,
		result.DurationMs, finished,
		result.RunID, result.CaseID,
	)
	if err != nil {
		return fmt.Errorf("store: finish result %s/%s: %w", result.RunID, result.CaseID, err)
	}
	return requireRow(res, "result", result.RunID+"/"+result.CaseID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, runID, caseID string) (*ResultRecord, error) {
	if s == nil || s.getResultStmt == nil {
		return nil, errors.New("store: not initialized")
	}

	row := s.getResultStmt.QueryRowContext(ctx, runID, caseID)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: result %s/%s not found", runID, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get result %s/%s: %w", runID, caseID, err)
	}
	return result, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*ResultRecord, error) {
	if s == nil || s.resultsByRunStmt == nil {
		return nil, errors.New("store: not initialized")
	}

	rows, err := s.resultsByRunStmt.QueryContext(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list results for %q: %w", runID, err)
	}
	defer rows.Close()

	var out []*ResultRecord
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list results for %q: %w", runID, err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}

	stmts := []*sql.Stmt{
		s.insertRunStmt, s.markRunRunningStmt, s.finalizeRunStmt, s.getRunStmt,
		s.insertResultStmt, s.markResultRunning, s.finishResultStmt,
		s.getResultStmt, s.resultsByRunStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run       RunRecord
		status    string
		avg       sql.NullFloat64
		createdAt int64
		startedAt sql.NullInt64
		finished  sql.NullInt64
	)
	err := row.Scan(
		&run.ID, &run.SuiteName, &status, &run.TotalCases, &run.PassedCases,
		&run.FailedCases, &run.ErroredCases, &avg, &run.DurationMs,
		&run.InputTokens, &run.OutputTokens, &run.EstimatedCostCents,
		&createdAt, &startedAt, &finished,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if avg.Valid {
		v := avg.Float64
		run.AvgScore = &v
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		run.StartedAt = &t
	}
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanResult(row rowScanner) (*ResultRecord, error) {
	var (
		result     ResultRecord
		status     string
		transcript []byte
		criteria   []byte
		topics     []byte
		score      sql.NullInt64
		startedAt  sql.NullInt64
		finished   sql.NullInt64
	)
	err := row.Scan(
		&result.ID, &result.RunID, &result.CaseID, &result.CaseName, &status,
		&transcript, &result.TurnCount, &result.EndReason, &criteria, &score,
		&result.Summary, &result.Sentiment, &topics, &result.InputTokens,
		&result.OutputTokens, &result.ErrorMessage, &result.DurationMs,
		&startedAt, &finished,
	)
	if err != nil {
		return nil, err
	}

	result.Status = CaseStatus(status)
	if err := unmarshalJSON(transcript, &result.Transcript); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if err := unmarshalJSON(criteria, &result.CriteriaResults); err != nil {
		return nil, fmt.Errorf("criteria results: %w", err)
	}
	if err := unmarshalJSON(topics, &result.Topics); err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}
	if score.Valid {
		v := int(score.Int64)
		result.OverallScore = &v
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		result.StartedAt = &t
	}
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		result.FinishedAt = &t
	}
	return &result, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %q not found", kind, id)
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(b []byte, out any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}
