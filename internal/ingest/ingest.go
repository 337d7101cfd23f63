package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"casemill/internal/logging"
	"casemill/internal/score"
	"casemill/internal/store"
)

const defaultMaxTextChars = 2500

// Options controls one ingestion.
type Options struct {
	// Dataset names the snapshot; defaults to a slug of the file name.
	Dataset string
	// Mode picks the business-key strategy. Defaults to KeyModeTicket.
	Mode store.KeyMode
	// Limit caps how many raw rows are read (0 = all).
	Limit int
	// MaxTextChars caps each text field after whitespace cleanup.
	MaxTextChars int
}

// Summary reports what one ingestion produced.
type Summary struct {
	Dataset     string
	KeyMode     store.KeyMode
	SourceFile  string
	RowCount    int
	DroppedDups int
	// Prefilled counts records whose AI fields were carried over from an
	// existing non-errored checkpoint for the same business key.
	Prefilled int
}

// Ingestor loads raw grievance exports into dataset snapshots.
type Ingestor struct {
	store  *store.Store
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  st,
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
}

// sourceRow is one parsed raw row before dedupe.
type sourceRow struct {
	index      int
	recordKey  string
	ticketKey  string
	department string
	status     string
	subject    string
	desc       string
	closing    string
	rating     *float64

	created     time.Time
	haveCreated bool
	closed      time.Time
	haveClosed  bool
	hasForward  bool
}

// IngestFile reads a CSV/XLSX export and replaces the dataset's records with
// an exact snapshot of the file. Checkpoints and the raw file are never
// modified; AI fields are pre-filled from existing checkpoints where the
// business key already has known-good labels.
func (ing *Ingestor) IngestFile(ctx context.Context, path string, opts Options) (*Summary, error) {
	if opts.Dataset == "" {
		opts.Dataset = DatasetNameFromPath(path)
	}
	if opts.Mode == "" {
		opts.Mode = store.KeyModeTicket
	}
	if opts.Mode != store.KeyModeTicket && opts.Mode != store.KeyModeRow {
		return nil, fmt.Errorf("unknown dedupe mode %q", opts.Mode)
	}
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = defaultMaxTextChars
	}

	tbl, err := readTable(path)
	if err != nil {
		return nil, err
	}
	cols, err := mapColumns(tbl.headers)
	if err != nil {
		return nil, err
	}

	rows := tbl.rows
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	parsed, forwardCounts := ing.parseRows(tbl, cols, rows, opts)
	kept, dropped := dedupeRows(parsed, opts.Mode)

	records := make([]*store.Record, 0, len(kept))
	keys := make([]string, 0, len(kept))
	for _, row := range kept {
		records = append(records, &store.Record{
			SourceID:       store.SourceID(opts.Dataset, row.recordKey),
			Dataset:        opts.Dataset,
			BusinessKey:    row.recordKey,
			RowIndex:       row.index,
			Department:     row.department,
			Status:         row.status,
			Subject:        row.subject,
			Description:    row.desc,
			ClosingRemark:  row.closing,
			Rating:         row.rating,
			ResolutionDays: resolutionDays(row.created, row.closed, row.haveCreated, row.haveClosed),
			ForwardCount:   forwardCounts[row.ticketKey],
		})
		keys = append(keys, row.recordKey)
	}
	if len(records) == 0 {
		return nil, errors.New("no usable rows in input file")
	}

	prefilled, err := ing.prefillFromCheckpoints(ctx, records, keys)
	if err != nil {
		return nil, err
	}

	dataset := &store.Dataset{
		Name:       opts.Dataset,
		KeyMode:    opts.Mode,
		SourceFile: filepath.Base(path),
		RowCount:   len(records),
		CreatedAt:  time.Now().UTC(),
	}
	if err := ing.store.UpsertDataset(ctx, dataset); err != nil {
		return nil, err
	}
	if err := ing.store.ReplaceDatasetRecords(ctx, opts.Dataset, records); err != nil {
		return nil, err
	}

	ing.logger.Info("dataset ingested",
		logging.String(logging.FieldDataset, opts.Dataset),
		logging.String("source_file", dataset.SourceFile),
		logging.String("key_mode", string(opts.Mode)),
		logging.Int("rows", len(records)),
		logging.Int("dropped_duplicates", dropped),
		logging.Int("prefilled", prefilled))

	return &Summary{
		Dataset:     opts.Dataset,
		KeyMode:     opts.Mode,
		SourceFile:  dataset.SourceFile,
		RowCount:    len(records),
		DroppedDups: dropped,
		Prefilled:   prefilled,
	}, nil
}

func (ing *Ingestor) parseRows(tbl *table, cols *columnMap, rows [][]string, opts Options) ([]*sourceRow, map[string]int) {
	idIdx := cols.requiredIndex("Grievance Id")
	subjectIdx := cols.requiredIndex("Complaint Subject")
	descIdx := cols.requiredIndex("Complaint Description")
	statusIdx := cols.requiredIndex("Current Status")
	deptIdx := cols.requiredIndex("Current Department Name")
	closingIdx := cols.requiredIndex("Closing Remark")

	codeIdx := cols.optionalIndex("Grievance Code")
	createdIdx := cols.optionalIndex("Created Date", "Grievance Date", "Created At")
	closedIdx := cols.optionalIndex("Close Date", "Closed Date", "Closedate")
	ratingIdx := cols.optionalIndex("Rating", "Feedback Star", "Feedback", "Star Rating")
	forwardIdx := cols.optionalIndex("Forwarddate", "Forward Date", "Forwarded At")

	parsed := make([]*sourceRow, 0, len(rows))
	forwardCounts := make(map[string]int)
	for i, raw := range rows {
		id := strings.TrimSpace(tbl.cell(raw, idIdx))
		code := strings.TrimSpace(tbl.cell(raw, codeIdx))
		ticketKey := code
		if ticketKey == "" {
			ticketKey = id
		}
		recordKey := ticketKey
		if opts.Mode == store.KeyModeRow {
			recordKey = id
		}
		if recordKey == "" {
			continue
		}

		row := &sourceRow{
			index:      i,
			recordKey:  recordKey,
			ticketKey:  ticketKey,
			department: cleanText(tbl.cell(raw, deptIdx), opts.MaxTextChars),
			status:     cleanText(tbl.cell(raw, statusIdx), opts.MaxTextChars),
			subject:    cleanText(tbl.cell(raw, subjectIdx), opts.MaxTextChars),
			desc:       cleanText(tbl.cell(raw, descIdx), opts.MaxTextChars),
			closing:    cleanText(tbl.cell(raw, closingIdx), opts.MaxTextChars),
			rating:     parseRating(tbl.cell(raw, ratingIdx)),
		}
		row.created, row.haveCreated = parseDate(tbl.cell(raw, createdIdx))
		row.closed, row.haveClosed = parseDate(tbl.cell(raw, closedIdx))
		row.hasForward = strings.TrimSpace(tbl.cell(raw, forwardIdx)) != ""
		if row.hasForward {
			forwardCounts[ticketKey]++
		}
		parsed = append(parsed, row)
	}
	return parsed, forwardCounts
}

// dedupeRows picks one representative row per record key. Ticket mode keeps
// the most final row (latest close date, then latest file position); row mode
// keeps the first occurrence in file order.
func dedupeRows(rows []*sourceRow, mode store.KeyMode) ([]*sourceRow, int) {
	best := make(map[string]*sourceRow, len(rows))
	dropped := 0
	for _, row := range rows {
		current, exists := best[row.recordKey]
		if !exists {
			best[row.recordKey] = row
			continue
		}
		dropped++
		if mode == store.KeyModeRow {
			continue
		}
		if moreFinal(row, current) {
			best[row.recordKey] = row
		}
	}

	kept := make([]*sourceRow, 0, len(best))
	for _, row := range best {
		kept = append(kept, row)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].index < kept[j].index })
	return kept, dropped
}

func moreFinal(candidate, current *sourceRow) bool {
	if candidate.haveClosed != current.haveClosed {
		return candidate.haveClosed
	}
	if candidate.haveClosed && !candidate.closed.Equal(current.closed) {
		return candidate.closed.After(current.closed)
	}
	return candidate.index > current.index
}

// prefillFromCheckpoints carries known-good labels onto freshly ingested
// records that share a business key with an existing checkpoint, so a
// re-ingested snapshot keeps its AI coverage without waiting for a run.
func (ing *Ingestor) prefillFromCheckpoints(ctx context.Context, records []*store.Record, keys []string) (int, error) {
	checkpoints, err := ing.store.BulkLoadCheckpoints(ctx, keys)
	if err != nil {
		return 0, err
	}
	prefilled := 0
	for _, rec := range records {
		cp := checkpoints[rec.BusinessKey]
		if cp == nil || cp.Error != "" {
			continue
		}
		rec.Labels = cp.Labels
		rec.ModelUsed = cp.ModelUsed
		actionable := score.Compute(score.Inputs{
			Urgency:        cp.Labels.Urgency,
			ReopenRisk:     cp.Labels.ReopenRisk,
			Confidence:     cp.Labels.Confidence,
			Rating:         rec.Rating,
			ResolutionDays: rec.ResolutionDays,
			ForwardCount:   rec.ForwardCount,
		})
		rec.ActionableScore = &actionable
		prefilled++
	}
	return prefilled, nil
}

// DatasetNameFromPath derives a dataset slug from the input file name.
func DatasetNameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(base) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		return "dataset"
	}
	return name
}
