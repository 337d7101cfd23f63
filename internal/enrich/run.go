package enrich

import (
	"context"
	"errors"
	"time"

	"casemill/internal/classify"
	"casemill/internal/logging"
	"casemill/internal/score"
	"casemill/internal/store"
)

// maxErrorChars bounds the error text persisted on checkpoints and records.
const maxErrorChars = 500

// pendingRecord is a record that needs classification this run, with its
// freshly computed hash and any prior known-good checkpoint.
type pendingRecord struct {
	rec   *store.Record
	hash  string
	prior *store.Checkpoint
}

// runState carries mutable state across a run's pages and batches.
type runState struct {
	run  *store.Run
	opts RunOptions
	// fatal, once set, short-circuits every remaining batch: the classifier
	// is not called again and records fail with this error.
	fatal error
	batch int
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeBatchFailure
	outcomeFatalFailure
)

// classifyOutcome folds a classification error into the batch loop decision.
// Credential problems poison every later batch; anything else is scoped to
// the batch that hit it.
func classifyOutcome(err error) outcomeKind {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, classify.ErrAuth), errors.Is(err, classify.ErrMissingAPIKey):
		return outcomeFatalFailure
	default:
		return outcomeBatchFailure
	}
}

func (s *Service) executeRun(ctx context.Context, run *store.Run, opts RunOptions) error {
	ds, err := s.store.GetDataset(ctx, run.Dataset)
	if err != nil {
		return err
	}
	if ds == nil {
		return errors.New("dataset not found: " + run.Dataset)
	}

	total, err := s.store.CountRecords(ctx, run.Dataset)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && opts.Limit < total {
		total = opts.Limit
	}
	run.TotalRows = total
	if err := s.store.UpdateRunProgress(ctx, run); err != nil {
		return err
	}

	pageSize := s.cfg.Pipeline.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	batchSize := s.cfg.Pipeline.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	state := &runState{run: run, opts: opts}
	for offset, remaining := 0, total; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := pageSize
		if limit > remaining {
			limit = remaining
		}
		page, err := s.store.PageRecords(ctx, run.Dataset, offset, limit)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)
		remaining -= len(page)

		if err := s.processPage(ctx, state, page, batchSize); err != nil {
			return err
		}
		if err := s.store.UpdateRunProgress(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// processPage splits a page into current records (written through from their
// checkpoints) and pending ones, then classifies the pending set in strictly
// sequential batches.
func (s *Service) processPage(ctx context.Context, state *runState, page []*store.Record, batchSize int) error {
	keys := make([]string, 0, len(page))
	for _, rec := range page {
		keys = append(keys, rec.BusinessKey)
	}
	checkpoints, err := s.store.BulkLoadCheckpoints(ctx, keys)
	if err != nil {
		return err
	}

	var skipped []*store.Record
	var pending []*pendingRecord
	for _, rec := range page {
		hash := InputHash(rec)
		cp := checkpoints[rec.BusinessKey]
		if cp != nil && cp.Error == "" && cp.InputHash == hash && !state.opts.Force {
			writeThrough(rec, cp)
			skipped = append(skipped, rec)
			state.run.Skipped++
			continue
		}
		pending = append(pending, &pendingRecord{rec: rec, hash: hash, prior: goodPrior(cp)})
	}

	if len(skipped) > 0 {
		if err := s.store.ApplyBatch(ctx, nil, skipped); err != nil {
			return err
		}
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := s.processBatch(ctx, state, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processBatch(ctx context.Context, state *runState, batch []*pendingRecord) error {
	state.batch++

	var result classify.BatchResult
	classifyErr := state.fatal
	if classifyErr == nil {
		inputs := make([]classify.Input, len(batch))
		for i, p := range batch {
			inputs[i] = classify.Input{Text: BuildInputText(p.rec)}
		}
		result, classifyErr = s.classifier.ClassifyBatch(ctx, inputs)
		state.run.Usage.Add(store.TokenUsage{
			PromptTokens: result.Usage.PromptTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.TotalTokens,
		})
		if classifyErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	now := time.Now().UTC()
	var checkpoints []*store.Checkpoint
	records := make([]*store.Record, 0, len(batch))

	switch classifyOutcome(classifyErr) {
	case outcomeSuccess:
		for i, p := range batch {
			labels := toStoreLabels(result.Labels[i])
			checkpoints = append(checkpoints, &store.Checkpoint{
				BusinessKey: p.rec.BusinessKey,
				InputHash:   p.hash,
				Labels:      labels,
				ModelUsed:   result.ModelUsed,
				LastRunAt:   now,
			})
			applyLabels(p.rec, labels, result.ModelUsed, "")
			records = append(records, p.rec)
			state.run.Processed++
		}
	case outcomeFatalFailure:
		state.fatal = classifyErr
		fallthrough
	case outcomeBatchFailure:
		message := truncateError(classifyErr)
		for _, p := range batch {
			if p.prior != nil {
				// A prior known-good checkpoint always wins over a failed
				// reclassification; it is never overwritten or errored.
				applyLabels(p.rec, p.prior.Labels, p.prior.ModelUsed, "")
				if state.opts.Force {
					state.run.Skipped++
				} else {
					p.rec.Error = message
					state.run.Failed++
				}
				records = append(records, p.rec)
				continue
			}
			labels := toStoreLabels(classify.DefaultLabels())
			checkpoints = append(checkpoints, &store.Checkpoint{
				BusinessKey: p.rec.BusinessKey,
				InputHash:   p.hash,
				Labels:      labels,
				LastRunAt:   now,
				Error:       message,
			})
			applyLabels(p.rec, labels, "", message)
			records = append(records, p.rec)
			state.run.Failed++
		}
		s.logger.Warn("batch classification failed",
			logging.String(logging.FieldRunID, state.run.RunID),
			logging.Int(logging.FieldBatch, state.batch),
			logging.Int("records", len(batch)),
			logging.Error(classifyErr))
	}

	// One atomic flush per batch: a crash loses at most this batch.
	return s.store.ApplyBatch(ctx, checkpoints, records)
}

// writeThrough copies a current checkpoint onto its record and recomputes the
// actionable score from the stored labels plus the record's raw signals.
func writeThrough(rec *store.Record, cp *store.Checkpoint) {
	applyLabels(rec, cp.Labels, cp.ModelUsed, "")
}

func applyLabels(rec *store.Record, labels store.Labels, model, errMessage string) {
	rec.Labels = labels
	rec.ModelUsed = model
	rec.Error = errMessage
	actionable := score.Compute(score.Inputs{
		Urgency:        labels.Urgency,
		ReopenRisk:     labels.ReopenRisk,
		Confidence:     labels.Confidence,
		Rating:         rec.Rating,
		ResolutionDays: rec.ResolutionDays,
		ForwardCount:   rec.ForwardCount,
	})
	rec.ActionableScore = &actionable
}

// goodPrior returns the checkpoint only when it holds usable labels.
func goodPrior(cp *store.Checkpoint) *store.Checkpoint {
	if cp == nil || cp.Error != "" {
		return nil
	}
	return cp
}

func toStoreLabels(labels classify.Labels) store.Labels {
	return store.Labels{
		Category:          labels.Category,
		Subtopic:          labels.Subtopic,
		Confidence:        labels.Confidence,
		IssueType:         labels.IssueType,
		EntitiesJSON:      labels.EntitiesJSON,
		Urgency:           labels.Urgency,
		Sentiment:         labels.Sentiment,
		ResolutionQuality: labels.ResolutionQuality,
		ReopenRisk:        labels.ReopenRisk,
		FeedbackDriver:    labels.FeedbackDriver,
		ClosureTheme:      labels.ClosureTheme,
		Summary:           labels.Summary,
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	message := err.Error()
	if runes := []rune(message); len(runes) > maxErrorChars {
		message = string(runes[:maxErrorChars])
	}
	return message
}
