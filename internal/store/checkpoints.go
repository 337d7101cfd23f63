package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const checkpointColumns = "business_key, input_hash, ai_category, ai_subtopic, ai_confidence, ai_issue_type, ai_entities_json, ai_urgency, ai_sentiment, ai_resolution_quality, ai_reopen_risk, ai_feedback_driver, ai_closure_theme, ai_summary, model_used, last_run_at, error"

const upsertCheckpointSQL = `INSERT INTO checkpoints (` + checkpointColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(business_key) DO UPDATE SET
        input_hash = excluded.input_hash,
        ai_category = excluded.ai_category,
        ai_subtopic = excluded.ai_subtopic,
        ai_confidence = excluded.ai_confidence,
        ai_issue_type = excluded.ai_issue_type,
        ai_entities_json = excluded.ai_entities_json,
        ai_urgency = excluded.ai_urgency,
        ai_sentiment = excluded.ai_sentiment,
        ai_resolution_quality = excluded.ai_resolution_quality,
        ai_reopen_risk = excluded.ai_reopen_risk,
        ai_feedback_driver = excluded.ai_feedback_driver,
        ai_closure_theme = excluded.ai_closure_theme,
        ai_summary = excluded.ai_summary,
        model_used = excluded.model_used,
        last_run_at = excluded.last_run_at,
        error = excluded.error`

// deleteChunkSize bounds the IN clause length for bulk checkpoint deletes.
const deleteChunkSize = 500

func checkpointArgs(cp *Checkpoint) []any {
	var lastRun any
	if !cp.LastRunAt.IsZero() {
		lastRun = cp.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	return []any{
		cp.BusinessKey,
		cp.InputHash,
		nullableString(cp.Labels.Category),
		nullableString(cp.Labels.Subtopic),
		nullableString(cp.Labels.Confidence),
		nullableString(cp.Labels.IssueType),
		nullableString(cp.Labels.EntitiesJSON),
		nullableString(cp.Labels.Urgency),
		nullableString(cp.Labels.Sentiment),
		nullableString(cp.Labels.ResolutionQuality),
		nullableString(cp.Labels.ReopenRisk),
		nullableString(cp.Labels.FeedbackDriver),
		nullableString(cp.Labels.ClosureTheme),
		nullableString(cp.Labels.Summary),
		nullableString(cp.ModelUsed),
		lastRun,
		nullableString(cp.Error),
	}
}

func upsertCheckpointTx(ctx context.Context, ex execer, cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if cp.BusinessKey == "" {
		return errors.New("checkpoint business key is empty")
	}
	if _, err := ex.ExecContext(ctx, upsertCheckpointSQL, checkpointArgs(cp)...); err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.BusinessKey, err)
	}
	return nil
}

// UpsertCheckpoint inserts or updates the checkpoint for a business key.
// Applying the same checkpoint twice leaves the store unchanged.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp *Checkpoint) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return upsertCheckpointTx(ctx, s.db, cp)
	})
}

// GetCheckpoint fetches the checkpoint for a business key. Returns nil when absent.
func (s *Store) GetCheckpoint(ctx context.Context, businessKey string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE business_key = ?`, businessKey)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// BulkLoadCheckpoints fetches checkpoints for a set of business keys in
// chunked IN queries, avoiding N+1 lookups when a run starts.
func (s *Store) BulkLoadCheckpoints(ctx context.Context, keys []string) (map[string]*Checkpoint, error) {
	out := make(map[string]*Checkpoint, len(keys))
	for start := 0; start < len(keys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		args := make([]any, len(chunk))
		for i, key := range chunk {
			args[i] = key
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+checkpointColumns+` FROM checkpoints WHERE business_key IN (`+makePlaceholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("bulk load checkpoints: %w", err)
		}
		for rows.Next() {
			cp, err := scanCheckpoint(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[cp.BusinessKey] = cp
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// DeleteCheckpointsForKeys removes checkpoints for the given business keys in
// bounded chunks. Used by the dataset reset operation.
func (s *Store) DeleteCheckpointsForKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		args := make([]any, len(chunk))
		for i, key := range chunk {
			args[i] = key
		}
		res, err := s.execWithRetry(ctx,
			`DELETE FROM checkpoints WHERE business_key IN (`+makePlaceholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return deleted, fmt.Errorf("delete checkpoints: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			deleted += int(affected)
		}
	}
	return deleted, nil
}

// ApplyBatch persists one batch's checkpoints and processed records in a
// single transaction, so a crash loses at most one unflushed batch.
func (s *Store) ApplyBatch(ctx context.Context, checkpoints []*Checkpoint, records []*Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, cp := range checkpoints {
			if err := upsertCheckpointTx(ctx, tx, cp); err != nil {
				return err
			}
		}
		for _, rec := range records {
			if err := upsertRecordTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }) (*Checkpoint, error) {
	var (
		businessKey    string
		inputHash      string
		category       sql.NullString
		subtopic       sql.NullString
		confidence     sql.NullString
		issueType      sql.NullString
		entities       sql.NullString
		urgency        sql.NullString
		sentiment      sql.NullString
		quality        sql.NullString
		reopenRisk     sql.NullString
		feedbackDriver sql.NullString
		closureTheme   sql.NullString
		summary        sql.NullString
		model          sql.NullString
		lastRunRaw     sql.NullString
		errMessage     sql.NullString
	)

	if err := scanner.Scan(
		&businessKey,
		&inputHash,
		&category,
		&subtopic,
		&confidence,
		&issueType,
		&entities,
		&urgency,
		&sentiment,
		&quality,
		&reopenRisk,
		&feedbackDriver,
		&closureTheme,
		&summary,
		&model,
		&lastRunRaw,
		&errMessage,
	); err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		BusinessKey: businessKey,
		InputHash:   inputHash,
		Labels: Labels{
			Category:          category.String,
			Subtopic:          subtopic.String,
			Confidence:        confidence.String,
			IssueType:         issueType.String,
			EntitiesJSON:      entities.String,
			Urgency:           urgency.String,
			Sentiment:         sentiment.String,
			ResolutionQuality: quality.String,
			ReopenRisk:        reopenRisk.String,
			FeedbackDriver:    feedbackDriver.String,
			ClosureTheme:      closureTheme.String,
			Summary:           summary.String,
		},
		ModelUsed: model.String,
		Error:     errMessage.String,
	}
	if lastRunRaw.Valid {
		if lastRun, err := parseTimeString(lastRunRaw.String); err == nil {
			cp.LastRunAt = lastRun
		}
	}
	return cp, nil
}
