// Package ingest normalizes raw grievance exports (CSV or XLSX) into a
// dataset snapshot in the store. Exports vary wildly: title rows above the
// real header, punctuation drift in column names, duplicated tickets, and
// embedded newlines inside cells. Ingestion absorbs all of that so the
// enrichment pipeline only ever sees clean records.
package ingest
