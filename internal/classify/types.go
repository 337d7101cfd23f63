package classify

import (
	"encoding/json"
	"fmt"
)

// Input is one record payload submitted for classification.
type Input struct {
	Text string `json:"text"`
}

// Labels is the validated, vocabulary-coerced output for one record.
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

// Usage carries token accounting reported by the classification service.
// Counts accumulate across retries and model fallback so cost tracking sees
// every attempt, not just the successful one.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

func (u *Usage) add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// BatchResult is the all-or-nothing outcome of a batch classification call.
// Labels is aligned index-for-index with the submitted inputs.
type BatchResult struct {
	Labels    []Labels
	ModelUsed string
	Usage     Usage
}

// Failure stages reported by StageError.
const (
	StageNetwork = "network"
	StageHTTP    = "http"
	StageJSON    = "json"
	StageSchema  = "schema"
)

// StageError describes which stage of a classification attempt failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// rawLabels mirrors the JSON object shape the model is asked to emit for each
// record. Entities stays raw because models return arrays or plain strings.
type rawLabels struct {
	Category          string          `json:"ai_category"`
	Subtopic          string          `json:"ai_subtopic"`
	Confidence        string          `json:"ai_confidence"`
	IssueType         string          `json:"ai_issue_type"`
	Entities          json.RawMessage `json:"ai_entities"`
	Urgency           string          `json:"ai_urgency"`
	Sentiment         string          `json:"ai_sentiment"`
	ResolutionQuality string          `json:"ai_resolution_quality"`
	ReopenRisk        string          `json:"ai_reopen_risk"`
	FeedbackDriver    string          `json:"ai_feedback_driver"`
	ClosureTheme      string          `json:"ai_closure_theme"`
	Summary           string          `json:"ai_extra_summary"`
}
