package ingest

import (
	"fmt"
	"strings"
)

// requiredColumns must all be present (after normalization) for a file to be
// ingestable. Optional columns degrade gracefully when absent.
var requiredColumns = []string{
	"Grievance Id",
	"Complaint Subject",
	"Complaint Description",
	"Current Status",
	"Current Department Name",
	"Closing Remark",
}

// minHeaderHits is how many required columns a row must contain before it is
// considered the header row during the smart scan.
const minHeaderHits = 3

// SchemaError reports a file whose columns cannot satisfy the required set.
type SchemaError struct {
	Missing []string
	Found   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("input file schema mismatch: missing required columns %v (found: %v)",
		e.Missing, e.Found)
}

// normColumn normalizes a header cell aggressively so "Mobile No." and
// "mobile no" compare equal: lowercase, punctuation collapsed to single
// spaces.
func normColumn(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// columnMap resolves normalized header names to cell indexes.
type columnMap struct {
	required map[string]int
	byNorm   map[string]int
}

func mapColumns(headers []string) (*columnMap, error) {
	byNorm := make(map[string]int, len(headers))
	for i, header := range headers {
		norm := normColumn(header)
		if norm == "" {
			continue
		}
		if _, exists := byNorm[norm]; !exists {
			byNorm[norm] = i
		}
	}

	required := make(map[string]int, len(requiredColumns))
	var missing []string
	for _, name := range requiredColumns {
		idx, ok := byNorm[normColumn(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		required[name] = idx
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Found: headers}
	}
	return &columnMap{required: required, byNorm: byNorm}, nil
}

// requiredIndex returns the cell index for a required column.
func (m *columnMap) requiredIndex(name string) int {
	return m.required[name]
}

// optionalIndex returns the first matching cell index among candidate names,
// or -1 when none exists. Exports spell optional columns many ways.
func (m *columnMap) optionalIndex(names ...string) int {
	for _, name := range names {
		if idx, ok := m.byNorm[normColumn(name)]; ok {
			return idx
		}
	}
	return -1
}

func countHeaderHits(cells []string) int {
	present := make(map[string]struct{}, len(cells))
	for _, cell := range cells {
		if norm := normColumn(cell); norm != "" {
			present[norm] = struct{}{}
		}
	}
	hits := 0
	for _, name := range requiredColumns {
		if _, ok := present[normColumn(name)]; ok {
			hits++
		}
	}
	return hits
}
