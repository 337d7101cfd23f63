// Package store persists casemill state in SQLite: dataset registrations,
// processed records, classification checkpoints, and enrichment runs.
//
// Checkpoints are the durable resume ledger keyed by business key; processed
// records are a denormalized projection that can always be rebuilt from raw
// rows plus checkpoints. The store supports one writer alongside many readers
// via WAL mode and absorbs transient lock contention with bounded retry.
package store
