package store

import "time"

// KeyMode names the business-key resolution strategy chosen at ingestion.
type KeyMode string

const (
	// KeyModeTicket dedupes rows on the ticket code column.
	KeyModeTicket KeyMode = "ticket"
	// KeyModeRow keeps every row, keyed by its raw row ordinal.
	KeyModeRow KeyMode = "row"
)

// Dataset describes one ingested snapshot of raw rows.
type Dataset struct {
	Name       string
	KeyMode    KeyMode
	SourceFile string
	RowCount   int
	CreatedAt  time.Time
}

// Labels holds the validated AI output for one record.
type Labels struct {
	Category          string
	Subtopic          string
	Confidence        string
	IssueType         string
	EntitiesJSON      string
	Urgency           string
	Sentiment         string
	ResolutionQuality string
	ReopenRisk        string
	FeedbackDriver    string
	ClosureTheme      string
	Summary           string
}

// Checkpoint is the resume ledger row for one business key. At most one live
// checkpoint exists per key; it is updated in place and shared across dataset
// snapshots that contain the same logical ticket.
type Checkpoint struct {
	BusinessKey string
	InputHash   string
	Labels      Labels
	ModelUsed   string
	LastRunAt   time.Time
	Error       string
}

// Record is a denormalized, query-optimized projection of a raw row plus the
// current checkpoint fields and computed actionable score.
type Record struct {
	SourceID    string
	Dataset     string
	BusinessKey string
	RowIndex    int

	Department     string
	Status         string
	Subject        string
	Description    string
	ClosingRemark  string
	Rating         *float64
	ResolutionDays *int
	ForwardCount   int

	Labels          Labels
	ModelUsed       string
	ActionableScore *int
	Error           string

	UpdatedAt time.Time
}

// SourceID derives the dataset-scoped unique record identifier.
func SourceID(dataset, businessKey string) string {
	return dataset + "|" + businessKey
}

// RunStatus is the lifecycle state of an enrichment run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TokenUsage accumulates classification service token counts across a run.
type TokenUsage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Run records one enrichment job instance. A retry over the same dataset
// creates a new run; terminal states are never re-entered.
type Run struct {
	RunID      string
	Dataset    string
	Status     RunStatus
	TotalRows  int
	Processed  int
	Skipped    int
	Failed     int
	Usage      TokenUsage
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
	CreatedAt  time.Time
}
