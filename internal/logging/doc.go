// Package logging assembles structured slog loggers and formatting helpers used
// across casemill components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes typed attribute helpers so pipeline code tags log lines
// with datasets, run IDs, and business keys consistently. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
