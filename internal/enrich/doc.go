// Package enrich runs the resumable AI enrichment pipeline over ingested
// datasets. A Service owns a small worker pool; each run pages through a
// dataset deterministically, skips records whose canonical input hash already
// has a clean checkpoint, classifies the rest in fixed-size batches, and
// flushes each batch's checkpoints and records atomically. A crash loses at
// most the batch in flight; rerunning converges on the same final state.
package enrich
