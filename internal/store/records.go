package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const recordColumns = "source_id, dataset, business_key, row_index, department, status, subject, description, closing_remark, rating, resolution_days, forward_count, ai_category, ai_subtopic, ai_confidence, ai_issue_type, ai_entities_json, ai_urgency, ai_sentiment, ai_resolution_quality, ai_reopen_risk, ai_feedback_driver, ai_closure_theme, ai_summary, ai_model, actionable_score, ai_error, updated_at"

const upsertRecordSQL = `INSERT INTO records (` + recordColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(source_id) DO UPDATE SET
        dataset = excluded.dataset,
        business_key = excluded.business_key,
        row_index = excluded.row_index,
        department = excluded.department,
        status = excluded.status,
        subject = excluded.subject,
        description = excluded.description,
        closing_remark = excluded.closing_remark,
        rating = excluded.rating,
        resolution_days = excluded.resolution_days,
        forward_count = excluded.forward_count,
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
        ai_model = excluded.ai_model,
        actionable_score = excluded.actionable_score,
        ai_error = excluded.ai_error,
        updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordArgs(rec *Record) []any {
	return []any{
		rec.SourceID,
		rec.Dataset,
		rec.BusinessKey,
		rec.RowIndex,
		nullableString(rec.Department),
		nullableString(rec.Status),
		nullableString(rec.Subject),
		nullableString(rec.Description),
		nullableString(rec.ClosingRemark),
		nullableFloat(rec.Rating),
		nullableInt(rec.ResolutionDays),
		rec.ForwardCount,
		nullableString(rec.Labels.Category),
		nullableString(rec.Labels.Subtopic),
		nullableString(rec.Labels.Confidence),
		nullableString(rec.Labels.IssueType),
		nullableString(rec.Labels.EntitiesJSON),
		nullableString(rec.Labels.Urgency),
		nullableString(rec.Labels.Sentiment),
		nullableString(rec.Labels.ResolutionQuality),
		nullableString(rec.Labels.ReopenRisk),
		nullableString(rec.Labels.FeedbackDriver),
		nullableString(rec.Labels.ClosureTheme),
		nullableString(rec.Labels.Summary),
		nullableString(rec.ModelUsed),
		nullableInt(rec.ActionableScore),
		nullableString(rec.Error),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func upsertRecordTx(ctx context.Context, ex execer, rec *Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.SourceID == "" {
		rec.SourceID = SourceID(rec.Dataset, rec.BusinessKey)
	}
	rec.UpdatedAt = time.Now().UTC()
	if _, err := ex.ExecContext(ctx, upsertRecordSQL, recordArgs(rec)...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.SourceID, err)
	}
	return nil
}

// UpsertRecord inserts or updates a single processed record.
func (s *Store) UpsertRecord(ctx context.Context, rec *Record) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return upsertRecordTx(ctx, s.db, rec)
	})
}

// ReplaceDatasetRecords swaps a dataset's rows for an exact new snapshot in
// one transaction. Checkpoints are untouched; AI columns start empty and are
// refilled by the next run's write-through.
func (s *Store) ReplaceDatasetRecords(ctx context.Context, dataset string, records []*Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE dataset = ?`, dataset); err != nil {
			return fmt.Errorf("clear dataset records: %w", err)
		}
		for _, rec := range records {
			if err := upsertRecordTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRecord fetches a processed record by source id. Returns nil when absent.
func (s *Store) GetRecord(ctx context.Context, sourceID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE source_id = ?`, sourceID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// PageRecords returns a deterministic page of a dataset's records ordered by
// row index then business key. Batch boundaries stay reproducible across runs.
func (s *Store) PageRecords(ctx context.Context, dataset string, offset, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE dataset = ? ORDER BY row_index, business_key LIMIT ? OFFSET ?`,
		dataset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("page records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords returns the number of processed records in a dataset.
func (s *Store) CountRecords(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE dataset = ?`, dataset).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// CountEnriched returns how many of a dataset's records carry AI labels.
func (s *Store) CountEnriched(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM records WHERE dataset = ? AND ai_category IS NOT NULL`, dataset).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count enriched: %w", err)
	}
	return count, nil
}

// RecordKeys returns every business key in a dataset.
func (s *Store) RecordKeys(ctx context.Context, dataset string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT business_key FROM records WHERE dataset = ? ORDER BY row_index, business_key`, dataset)
	if err != nil {
		return nil, fmt.Errorf("record keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ClearAIForDataset blanks the denormalized AI columns for a dataset without
// touching checkpoints or raw fields.
func (s *Store) ClearAIForDataset(ctx context.Context, dataset string) error {
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE records SET
            ai_category = NULL, ai_subtopic = NULL, ai_confidence = NULL,
            ai_issue_type = NULL, ai_entities_json = NULL, ai_urgency = NULL,
            ai_sentiment = NULL, ai_resolution_quality = NULL, ai_reopen_risk = NULL,
            ai_feedback_driver = NULL, ai_closure_theme = NULL, ai_summary = NULL,
            ai_model = NULL, actionable_score = NULL, ai_error = NULL,
            updated_at = ?
         WHERE dataset = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), dataset); err != nil {
		return fmt.Errorf("clear dataset ai fields: %w", err)
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		sourceID       string
		dataset        string
		businessKey    string
		rowIndex       int
		department     sql.NullString
		status         sql.NullString
		subject        sql.NullString
		description    sql.NullString
		closingRemark  sql.NullString
		rating         sql.NullFloat64
		resolutionDays sql.NullInt64
		forwardCount   int
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
		score          sql.NullInt64
		errMessage     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&sourceID,
		&dataset,
		&businessKey,
		&rowIndex,
		&department,
		&status,
		&subject,
		&description,
		&closingRemark,
		&rating,
		&resolutionDays,
		&forwardCount,
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
		&score,
		&errMessage,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		SourceID:      sourceID,
		Dataset:       dataset,
		BusinessKey:   businessKey,
		RowIndex:      rowIndex,
		Department:    department.String,
		Status:        status.String,
		Subject:       subject.String,
		Description:   description.String,
		ClosingRemark: closingRemark.String,
		ForwardCount:  forwardCount,
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
	if rating.Valid {
		v := rating.Float64
		rec.Rating = &v
	}
	if resolutionDays.Valid {
		v := int(resolutionDays.Int64)
		rec.ResolutionDays = &v
	}
	if score.Valid {
		v := int(score.Int64)
		rec.ActionableScore = &v
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}
