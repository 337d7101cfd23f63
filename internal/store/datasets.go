package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertDataset registers a dataset snapshot, replacing any prior metadata
// under the same name. The key mode is fixed at ingestion and travels with
// the dataset row so later runs never re-derive it.
func (s *Store) UpsertDataset(ctx context.Context, ds *Dataset) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO datasets (name, key_mode, source_file, row_count, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
             key_mode = excluded.key_mode,
             source_file = excluded.source_file,
             row_count = excluded.row_count,
             created_at = excluded.created_at`,
		ds.Name,
		string(ds.KeyMode),
		nullableString(ds.SourceFile),
		ds.RowCount,
		ds.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}

// GetDataset fetches dataset metadata by name. Returns nil when absent.
func (s *Store) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, key_mode, source_file, row_count, created_at FROM datasets WHERE name = ?`, name)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

// ListDatasets returns all registered datasets ordered by name.
func (s *Store) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, key_mode, source_file, row_count, created_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

func scanDataset(scanner interface{ Scan(dest ...any) error }) (*Dataset, error) {
	var (
		name       string
		keyMode    string
		sourceFile sql.NullString
		rowCount   int
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&name, &keyMode, &sourceFile, &rowCount, &createdRaw); err != nil {
		return nil, err
	}
	ds := &Dataset{
		Name:       name,
		KeyMode:    KeyMode(keyMode),
		SourceFile: sourceFile.String,
		RowCount:   rowCount,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		ds.CreatedAt = created
	}
	return ds, nil
}
