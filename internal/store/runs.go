package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "run_id, dataset, status, total_rows, processed, skipped, failed, prompt_tokens, output_tokens, total_tokens, started_at, finished_at, error, created_at"

// CreateRun persists a new run in the queued state.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.RunID == "" {
		return errors.New("run id is empty")
	}
	if run.Status == "" {
		run.Status = RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO runs (run_id, dataset, status, total_rows, processed, skipped, failed,
             prompt_tokens, output_tokens, total_tokens, started_at, finished_at, error, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Dataset,
		string(run.Status),
		run.TotalRows,
		run.Processed,
		run.Skipped,
		run.Failed,
		run.Usage.PromptTokens,
		run.Usage.OutputTokens,
		run.Usage.TotalTokens,
		nullableTimeValue(run.StartedAt),
		nullableTime(run.FinishedAt),
		nullableString(run.Error),
		run.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier. Returns nil when absent.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns recent runs newest-first, optionally filtered by dataset.
func (s *Store) ListRuns(ctx context.Context, dataset string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ErrRunNotQueued reports an attempt to start a run that already left the
// queued state. Runs move queued → running → terminal exactly once.
var ErrRunNotQueued = errors.New("run is not queued")

// MarkRunRunning transitions a queued run to running and stamps its start
// time. Returns ErrRunNotQueued when the run is already running or terminal.
func (s *Store) MarkRunRunning(ctx context.Context, runID string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, started_at = ? WHERE run_id = ? AND status = ?`,
		string(RunRunning), time.Now().UTC().Format(time.RFC3339Nano), runID, string(RunQueued),
	)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("mark run running %q: %w", runID, ErrRunNotQueued)
	}
	return nil
}

// UpdateRunProgress persists the run's counters and accumulated token usage.
func (s *Store) UpdateRunProgress(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE runs SET total_rows = ?, processed = ?, skipped = ?, failed = ?,
             prompt_tokens = ?, output_tokens = ?, total_tokens = ?
         WHERE run_id = ?`,
		run.TotalRows, run.Processed, run.Skipped, run.Failed,
		run.Usage.PromptTokens, run.Usage.OutputTokens, run.Usage.TotalTokens,
		run.RunID,
	); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// MarkRunCompleted transitions a run to its successful terminal state.
func (s *Store) MarkRunCompleted(ctx context.Context, run *Run) error {
	return s.finishRun(ctx, run, RunCompleted, "")
}

// MarkRunFailed transitions a run to its failed terminal state with the cause.
func (s *Store) MarkRunFailed(ctx context.Context, run *Run, cause string) error {
	return s.finishRun(ctx, run, RunFailed, cause)
}

func (s *Store) finishRun(ctx context.Context, run *Run, status RunStatus, cause string) error {
	if run == nil {
		return errors.New("run is nil")
	}
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.Error = cause
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE runs SET status = ?, total_rows = ?, processed = ?, skipped = ?, failed = ?,
             prompt_tokens = ?, output_tokens = ?, total_tokens = ?, finished_at = ?, error = ?
         WHERE run_id = ? AND status NOT IN (?, ?)`,
		string(status),
		run.TotalRows, run.Processed, run.Skipped, run.Failed,
		run.Usage.PromptTokens, run.Usage.OutputTokens, run.Usage.TotalTokens,
		now.Format(time.RFC3339Nano),
		nullableString(cause),
		run.RunID,
		string(RunCompleted), string(RunFailed),
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func nullableTimeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		runID        string
		dataset      string
		status       string
		totalRows    int
		processed    int
		skipped      int
		failed       int
		promptTokens int
		outputTokens int
		totalTokens  int
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		errMessage   sql.NullString
		createdRaw   sql.NullString
	)

	if err := scanner.Scan(
		&runID,
		&dataset,
		&status,
		&totalRows,
		&processed,
		&skipped,
		&failed,
		&promptTokens,
		&outputTokens,
		&totalTokens,
		&startedRaw,
		&finishedRaw,
		&errMessage,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		RunID:     runID,
		Dataset:   dataset,
		Status:    RunStatus(status),
		TotalRows: totalRows,
		Processed: processed,
		Skipped:   skipped,
		Failed:    failed,
		Usage: TokenUsage{
			PromptTokens: promptTokens,
			OutputTokens: outputTokens,
			TotalTokens:  totalTokens,
		},
		Error: errMessage.String,
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			run.StartedAt = started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	return run, nil
}
