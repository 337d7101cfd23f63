package testsupport

import (
	"context"
	"fmt"
	"testing"

	"casemill/internal/config"
	"casemill/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedDataset registers a dataset and inserts n raw records with predictable
// business keys (key-0, key-1, ...) and subject/description text.
func SeedDataset(t testing.TB, st *store.Store, dataset string, n int) []*store.Record {
	t.Helper()

	ctx := context.Background()
	records := make([]*store.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, &store.Record{
			Dataset:     dataset,
			BusinessKey: fmt.Sprintf("key-%d", i),
			RowIndex:    i,
			Department:  "PHED",
			Status:      "Closed",
			Subject:     fmt.Sprintf("subject %d", i),
			Description: fmt.Sprintf("description for record %d", i),
		})
	}
	if err := st.ReplaceDatasetRecords(ctx, dataset, records); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	if err := st.UpsertDataset(ctx, &store.Dataset{
		Name:     dataset,
		KeyMode:  store.KeyModeTicket,
		RowCount: n,
	}); err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	return records
}
