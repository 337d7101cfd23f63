package logging

// Standardized structured logging keys shared across components.
const (
	// FieldComponent identifies the subsystem emitting the log line.
	FieldComponent = "component"
	// FieldDataset names the dataset a pipeline operation targets.
	FieldDataset = "dataset"
	// FieldRunID carries the enrichment run identifier.
	FieldRunID = "run_id"
	// FieldBusinessKey identifies a single record within a dataset.
	FieldBusinessKey = "business_key"
	// FieldModel names the classification model involved.
	FieldModel = "model"
	// FieldBatch carries the batch ordinal within a run.
	FieldBatch = "batch"
)
