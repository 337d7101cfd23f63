package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"casemill/internal/store"
	"casemill/internal/testsupport"
)

const fixtureHeader = "Grievance Id,Grievance Code,Created Date,Complaint Subject,Complaint Description,Current Status,Current Department Name,Closing Remark,Close Date,Rating,Forwarddate\n"

func ingestFixture(t *testing.T, content string, opts Options) (*store.Store, *Summary) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.WriteCSV(t, filepath.Join(t.TempDir(), "export.csv"), content)

	summary, err := New(st, nil).IngestFile(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	return st, summary
}

func TestIngestCSVRoundTrip(t *testing.T) {
	content := fixtureHeader +
		"101,TKT-1,2024-01-01,Garbage not lifted,\"Garbage  pile near\nmarket\",Closed,SWM,Resolved by team,2024-01-11,2,2024-01-05\n" +
		"102,TKT-2,2024-02-01,No water,Low pressure since Monday,Open,Water Supply,,,,\n"

	st, summary := ingestFixture(t, content, Options{Dataset: "jan"})
	if summary.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", summary.RowCount)
	}
	if summary.KeyMode != store.KeyModeTicket {
		t.Errorf("KeyMode = %q", summary.KeyMode)
	}

	ctx := context.Background()
	ds, err := st.GetDataset(ctx, "jan")
	if err != nil || ds == nil {
		t.Fatalf("GetDataset: %v %v", ds, err)
	}
	if ds.RowCount != 2 || ds.KeyMode != store.KeyModeTicket || ds.SourceFile != "export.csv" {
		t.Errorf("dataset = %+v", ds)
	}

	rec, err := st.GetRecord(ctx, store.SourceID("jan", "TKT-1"))
	if err != nil || rec == nil {
		t.Fatalf("GetRecord: %v %v", rec, err)
	}
	if rec.Description != "Garbage pile near market" {
		t.Errorf("Description = %q, want embedded newline collapsed", rec.Description)
	}
	if rec.Department != "SWM" || rec.Status != "Closed" {
		t.Errorf("raw fields = %q/%q", rec.Department, rec.Status)
	}
	if rec.Rating == nil || *rec.Rating != 2 {
		t.Errorf("Rating = %v, want 2", rec.Rating)
	}
	if rec.ResolutionDays == nil || *rec.ResolutionDays != 10 {
		t.Errorf("ResolutionDays = %v, want 10", rec.ResolutionDays)
	}
	if rec.ForwardCount != 1 {
		t.Errorf("ForwardCount = %d, want 1", rec.ForwardCount)
	}

	open, err := st.GetRecord(ctx, store.SourceID("jan", "TKT-2"))
	if err != nil || open == nil {
		t.Fatalf("GetRecord open ticket: %v %v", open, err)
	}
	if open.Rating != nil || open.ResolutionDays != nil || open.ForwardCount != 0 {
		t.Errorf("optional fields should be absent: %+v", open)
	}
}

func TestIngestHeaderBelowTitleRow(t *testing.T) {
	content := "Grievance Report\n" +
		"Generated on 2024-03-01,,\n" +
		fixtureHeader +
		"201,TKT-5,2024-01-01,Streetlight dead,Pole 14 dark,Closed,Electrical,Replaced,2024-01-03,,\n"

	st, summary := ingestFixture(t, content, Options{Dataset: "titled"})
	if summary.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", summary.RowCount)
	}
	rec, err := st.GetRecord(context.Background(), store.SourceID("titled", "TKT-5"))
	if err != nil || rec == nil {
		t.Fatalf("GetRecord: %v %v", rec, err)
	}
	if rec.Subject != "Streetlight dead" {
		t.Errorf("Subject = %q", rec.Subject)
	}
}

func TestIngestTicketModeKeepsMostFinalRow(t *testing.T) {
	content := fixtureHeader +
		"301,TKT-9,2024-01-01,Pothole,First report,Open,Roads,,2024-01-05,,2024-01-02\n" +
		"302,TKT-9,2024-01-01,Pothole,Second report,Closed,Roads,Filled,2024-01-20,,2024-01-10\n"

	st, summary := ingestFixture(t, content, Options{Dataset: "dups"})
	if summary.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", summary.RowCount)
	}
	if summary.DroppedDups != 1 {
		t.Errorf("DroppedDups = %d, want 1", summary.DroppedDups)
	}

	rec, err := st.GetRecord(context.Background(), store.SourceID("dups", "TKT-9"))
	if err != nil || rec == nil {
		t.Fatalf("GetRecord: %v %v", rec, err)
	}
	if rec.Description != "Second report" {
		t.Errorf("kept row = %q, want the later-closed one", rec.Description)
	}
	// Forward signals aggregate across every raw row of the ticket.
	if rec.ForwardCount != 2 {
		t.Errorf("ForwardCount = %d, want 2", rec.ForwardCount)
	}
}

func TestIngestRowModeKeepsEveryRow(t *testing.T) {
	content := fixtureHeader +
		"401,TKT-9,2024-01-01,Pothole,First report,Open,Roads,,,,\n" +
		"402,TKT-9,2024-01-01,Pothole,Second report,Closed,Roads,Filled,2024-01-20,,\n"

	st, summary := ingestFixture(t, content, Options{Dataset: "rows", Mode: store.KeyModeRow})
	if summary.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", summary.RowCount)
	}

	ctx := context.Background()
	ds, err := st.GetDataset(ctx, "rows")
	if err != nil || ds == nil {
		t.Fatalf("GetDataset: %v %v", ds, err)
	}
	if ds.KeyMode != store.KeyModeRow {
		t.Errorf("KeyMode = %q, want row", ds.KeyMode)
	}
	for _, key := range []string{"401", "402"} {
		rec, err := st.GetRecord(ctx, store.SourceID("rows", key))
		if err != nil || rec == nil {
			t.Errorf("record %s missing: %v", key, err)
		}
	}
}

func TestIngestSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	path := testsupport.WriteCSV(t, filepath.Join(t.TempDir(), "bad.csv"),
		"Grievance Id,Complaint Subject,Complaint Description\n1,whatever,text\n")

	_, err := New(st, nil).IngestFile(context.Background(), path, Options{Dataset: "bad"})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want *SchemaError", err)
	}
	if len(schemaErr.Missing) != 3 {
		t.Errorf("Missing = %v, want the three absent required columns", schemaErr.Missing)
	}
}

func TestIngestRowLimit(t *testing.T) {
	content := fixtureHeader +
		"501,TKT-1,2024-01-01,A,a,Open,Roads,,,,\n" +
		"502,TKT-2,2024-01-01,B,b,Open,Roads,,,,\n" +
		"503,TKT-3,2024-01-01,C,c,Open,Roads,,,,\n"

	_, summary := ingestFixture(t, content, Options{Dataset: "limited", Limit: 2})
	if summary.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", summary.RowCount)
	}
}

func TestIngestPrefillsFromCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cp := &store.Checkpoint{
		BusinessKey: "TKT-1",
		InputHash:   "hash-1",
		Labels: store.Labels{
			Category:   "Solid Waste Management",
			Subtopic:   "Garbage Pickup",
			Confidence: "High",
			Urgency:    "High",
			ReopenRisk: "Low",
		},
		ModelUsed: "primary/model",
		LastRunAt: time.Now().UTC(),
	}
	if err := st.UpsertCheckpoint(ctx, cp); err != nil {
		t.Fatalf("UpsertCheckpoint: %v", err)
	}

	content := fixtureHeader +
		"601,TKT-1,2024-01-01,Garbage,pile,Closed,SWM,Done,2024-01-05,4,\n" +
		"602,TKT-2,2024-01-01,Water,leak,Open,Water Supply,,,,\n"
	path := testsupport.WriteCSV(t, filepath.Join(t.TempDir(), "export.csv"), content)

	summary, err := New(st, nil).IngestFile(ctx, path, Options{Dataset: "refill"})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if summary.Prefilled != 1 {
		t.Errorf("Prefilled = %d, want 1", summary.Prefilled)
	}

	rec, err := st.GetRecord(ctx, store.SourceID("refill", "TKT-1"))
	if err != nil || rec == nil {
		t.Fatalf("GetRecord: %v %v", rec, err)
	}
	if rec.Labels.Category != "Solid Waste Management" || rec.ModelUsed != "primary/model" {
		t.Errorf("labels not carried over: %+v", rec.Labels)
	}
	if rec.ActionableScore == nil || *rec.ActionableScore <= 0 {
		t.Errorf("ActionableScore = %v, want recomputed positive score", rec.ActionableScore)
	}

	fresh, err := st.GetRecord(ctx, store.SourceID("refill", "TKT-2"))
	if err != nil || fresh == nil {
		t.Fatalf("GetRecord fresh: %v %v", fresh, err)
	}
	if fresh.Labels.Category != "" || fresh.ActionableScore != nil {
		t.Errorf("unseen key should stay unlabeled: %+v", fresh.Labels)
	}
}

func TestDatasetNameFromPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/raw/NMMC Export (Jan 2024).xlsx", "nmmc-export-jan-2024"},
		{"simple.csv", "simple"},
		{"__.csv", "dataset"},
	}
	for _, tt := range tests {
		if got := DatasetNameFromPath(tt.in); got != tt.want {
			t.Errorf("DatasetNameFromPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormColumn(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mobile No.", "mobile no"},
		{"  Current Department Name ", "current department name"},
		{"CLOSE-DATE", "close date"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normColumn(tt.in); got != tt.want {
			t.Errorf("normColumn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	if got := cleanText("  a\r\n b\t\tc ", 0); got != "a b c" {
		t.Errorf("cleanText = %q", got)
	}
	if got := cleanText("abcdef", 4); got != "abcd" {
		t.Errorf("cleanText cap = %q", got)
	}
}
