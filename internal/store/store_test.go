package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"casemill/internal/store"
	"casemill/internal/testsupport"
)

func TestCheckpointUpsertIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cp := &store.Checkpoint{
		BusinessKey: "TKT-1",
		InputHash:   "abc123",
		Labels: store.Labels{
			Category:   "Water Supply",
			Subtopic:   "Pipeline Leak",
			Confidence: "High",
			Urgency:    "High",
			Sentiment:  "Neg",
		},
		ModelUsed: "model-a",
		LastRunAt: time.Now().UTC(),
	}
	if err := st.UpsertCheckpoint(ctx, cp); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.UpsertCheckpoint(ctx, cp); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := st.GetCheckpoint(ctx, "TKT-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if got == nil {
		t.Fatal("expected checkpoint")
	}
	if got.Labels.Category != "Water Supply" || got.InputHash != "abc123" {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}

	loaded, err := st.BulkLoadCheckpoints(ctx, []string{"TKT-1", "TKT-2"})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected one checkpoint, got %d", len(loaded))
	}
}

func TestCheckpointConflictUpdatesInPlace(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := st.UpsertCheckpoint(ctx, &store.Checkpoint{BusinessKey: "TKT-1", InputHash: "old"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertCheckpoint(ctx, &store.Checkpoint{
		BusinessKey: "TKT-1",
		InputHash:   "new",
		Labels:      store.Labels{Category: "Roads & Footpaths"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.GetCheckpoint(ctx, "TKT-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.InputHash != "new" || got.Labels.Category != "Roads & Footpaths" {
		t.Fatalf("expected update in place, got %+v", got)
	}
}

func TestReplaceDatasetRecordsLeavesCheckpointsAlone(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.SeedDataset(t, st, "cityA", 3)
	if err := st.UpsertCheckpoint(ctx, &store.Checkpoint{BusinessKey: "key-0", InputHash: "h0"}); err != nil {
		t.Fatalf("upsert checkpoint: %v", err)
	}

	// Re-ingest the same dataset snapshot.
	testsupport.SeedDataset(t, st, "cityA", 2)

	count, err := st.CountRecords(ctx, "cityA")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected snapshot of 2 records, got %d", count)
	}
	cp, err := st.GetCheckpoint(ctx, "key-0")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint should survive re-ingestion")
	}
}

func TestPageRecordsDeterministicOrder(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.SeedDataset(t, st, "cityA", 5)

	first, err := st.PageRecords(ctx, "cityA", 0, 3)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	second, err := st.PageRecords(ctx, "cityA", 3, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Fatalf("unexpected page sizes: %d, %d", len(first), len(second))
	}
	if first[0].BusinessKey != "key-0" || second[0].BusinessKey != "key-3" {
		t.Fatalf("unexpected ordering: %s, %s", first[0].BusinessKey, second[0].BusinessKey)
	}
}

func TestDeleteCheckpointsScopedToKeys(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := st.UpsertCheckpoint(ctx, &store.Checkpoint{BusinessKey: key, InputHash: "h"}); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}
	deleted, err := st.DeleteCheckpointsForKeys(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	remaining, err := st.GetCheckpoint(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if remaining == nil {
		t.Fatal("unrelated checkpoint should remain")
	}
}

func TestClearAIForDatasetKeepsRawFields(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	records := testsupport.SeedDataset(t, st, "cityA", 1)
	rec := records[0]
	rec.Labels = store.Labels{Category: "Sanitation & Waste", Urgency: "High"}
	score := 55
	rec.ActionableScore = &score
	if err := st.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}

	if err := st.ClearAIForDataset(ctx, "cityA"); err != nil {
		t.Fatalf("clear ai: %v", err)
	}

	got, err := st.GetRecord(ctx, store.SourceID("cityA", "key-0"))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Labels.Category != "" || got.ActionableScore != nil {
		t.Fatalf("AI fields should be cleared: %+v", got)
	}
	if got.Subject == "" {
		t.Fatal("raw fields should survive")
	}
}

func TestRunLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run := &store.Run{RunID: "run_1", Dataset: "cityA"}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	got, err := st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}

	if err := st.MarkRunRunning(ctx, "run_1"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	run.TotalRows = 10
	run.Processed = 7
	run.Skipped = 2
	run.Failed = 1
	run.Usage = store.TokenUsage{PromptTokens: 100, OutputTokens: 50, TotalTokens: 150}
	if err := st.MarkRunCompleted(ctx, run); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	got, err = st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Processed != 7 || got.Skipped != 2 || got.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if got.Usage.TotalTokens != 150 {
		t.Fatalf("unexpected token usage: %+v", got.Usage)
	}
	if got.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}

	// Terminal states are never re-entered.
	if err := st.MarkRunFailed(ctx, run, "late failure"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err = st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunCompleted {
		t.Fatalf("terminal state was re-entered: %s", got.Status)
	}
}

func TestListRunsFiltersByDataset(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, id := range []string{"run_a", "run_b"} {
		if err := st.CreateRun(ctx, &store.Run{RunID: id, Dataset: "cityA"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := st.CreateRun(ctx, &store.Run{RunID: "run_c", Dataset: "cityB"}); err != nil {
		t.Fatalf("create run_c: %v", err)
	}

	runs, err := st.ListRuns(ctx, "cityA", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	all, err := st.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
}

func TestDatasetKeyModePersists(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := st.UpsertDataset(ctx, &store.Dataset{
		Name:       "cityA",
		KeyMode:    store.KeyModeRow,
		SourceFile: "cityA.xlsx",
		RowCount:   120,
	}); err != nil {
		t.Fatalf("upsert dataset: %v", err)
	}
	ds, err := st.GetDataset(ctx, "cityA")
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if ds == nil || ds.KeyMode != store.KeyModeRow || ds.RowCount != 120 {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
}

func TestMarkRunRunningRefusesReentry(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run := &store.Run{RunID: "run_once", Dataset: "cityA"}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := st.MarkRunRunning(ctx, "run_once"); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	if err := st.MarkRunRunning(ctx, "run_once"); !errors.Is(err, store.ErrRunNotQueued) {
		t.Fatalf("expected ErrRunNotQueued for running run, got %v", err)
	}

	if err := st.MarkRunCompleted(ctx, run); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := st.MarkRunRunning(ctx, "run_once"); !errors.Is(err, store.ErrRunNotQueued) {
		t.Fatalf("expected ErrRunNotQueued for completed run, got %v", err)
	}

	got, err := st.GetRun(ctx, "run_once")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunCompleted {
		t.Fatalf("terminal state was re-entered: %s", got.Status)
	}
}
