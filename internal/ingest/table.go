package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// headerScanRows bounds how deep the smart header scan looks. Exports often
// carry a title row or two above the real header, never dozens.
const headerScanRows = 40

// table is a fully materialized rectangular view of an input file. Rows may
// be ragged; cell access must go through the cell helper.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// readTable loads a CSV or XLSX file and locates the header row by scanning
// for the row that matches the most required columns.
func readTable(path string) (*table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSVTable(path)
	case ".xlsx", ".xlsm":
		return readXLSXTable(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func readCSVTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return tableFromRows(rows)
}

func readXLSXTable(path string) (*table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	// Pick the sheet and header row with the most required-column matches.
	var (
		bestRows   [][]string
		bestHeader = -1
		bestHits   = 0
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		headerIdx, hits := scanHeaderRow(rows)
		if headerIdx >= 0 && hits > bestHits {
			bestRows, bestHeader, bestHits = rows, headerIdx, hits
		}
	}
	if bestHeader < 0 {
		return nil, errors.New("no header row found in workbook")
	}
	return &table{headers: bestRows[bestHeader], rows: bestRows[bestHeader+1:]}, nil
}

func tableFromRows(rows [][]string) (*table, error) {
	headerIdx, _ := scanHeaderRow(rows)
	if headerIdx < 0 {
		return nil, errors.New("no header row found")
	}
	return &table{headers: rows[headerIdx], rows: rows[headerIdx+1:]}, nil
}

// scanHeaderRow returns the index and hit count of the best candidate header
// row within the scan window, or -1 when nothing clears the threshold.
func scanHeaderRow(rows [][]string) (int, int) {
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	bestIdx, bestHits := -1, 0
	for i := 0; i < limit; i++ {
		if hits := countHeaderHits(rows[i]); hits >= minHeaderHits && hits > bestHits {
			bestIdx, bestHits = i, hits
		}
	}
	return bestIdx, bestHits
}
