package classify

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"casemill/internal/logging"
)

//go:embed batch_prompt.txt
var batchPromptTemplate string

const (
	jsonResponseType        = "json_object"
	defaultHTTPTimeout      = 120 * time.Second
	defaultRetryBaseDelay   = 1 * time.Second
	defaultRetryMaxDelay    = 10 * time.Second
	defaultAttemptsPerModel = 2

	tokensPerRecord    = 200
	minOutputTokens    = 800
	outputTokenCeiling = 4096
)

var (
	// ErrMissingAPIKey indicates the client has no credentials configured.
	ErrMissingAPIKey = errors.New("classify: api key required")
	// ErrAuth indicates the service rejected the credentials. Never retried.
	ErrAuth = errors.New("classify: authorization rejected")
	// ErrBatchShape indicates the decoded payload did not line up with the batch.
	ErrBatchShape = errors.New("classify: batch shape mismatch")
)

// Config captures the runtime settings required to talk to the
// classification service.
type Config struct {
	APIKey           string
	BaseURL          string
	PrimaryModel     string
	FallbackModel    string
	Referer          string
	Title            string
	AttemptsPerModel int
	TimeoutSeconds   int
	MaxOutputTokens  int
}

// Client wraps an OpenRouter-style chat completion endpoint for batch
// classification with retry, model fallback, and output validation.
type Client struct {
	cfg        Config
	httpClient *http.Client
	schema     batchValidator
	logger     *slog.Logger

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleeper        func(time.Duration)
}

type batchValidator func(payload []byte) error

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger for attempt-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "classify")
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a classification client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.AttemptsPerModel <= 0 {
		cfg.AttemptsPerModel = defaultAttemptsPerModel
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.PrimaryModel = strings.TrimSpace(cfg.PrimaryModel)
	cfg.FallbackModel = strings.TrimSpace(cfg.FallbackModel)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.PrimaryModel == "" {
		return nil, errors.New("classify: primary model required")
	}

	schema, err := compileBatchSchema()
	if err != nil {
		return nil, err
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		schema: func(payload []byte) error {
			return validateBatchShape(schema, payload)
		},
		logger:         logging.NewNop(),
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ClassifyBatch submits the inputs as one request and returns exactly one
// validated label set per input, in order, or an error for the whole batch.
// Token usage accumulates across every attempt and both models.
func (c *Client) ClassifyBatch(ctx context.Context, inputs []Input) (BatchResult, error) {
	var result BatchResult
	if len(inputs) == 0 {
		return result, nil
	}
	if c.cfg.APIKey == "" {
		return result, ErrMissingAPIKey
	}

	prompt, err := renderBatchPrompt(inputs)
	if err != nil {
		return result, err
	}

	var lastErr error
	for _, model := range c.models() {
		attempts := c.cfg.AttemptsPerModel
		for attempt := 1; attempt <= attempts; attempt++ {
			labels, usage, attemptErr := c.classifyOnce(ctx, model, prompt, len(inputs))
			result.Usage.add(usage)
			if attemptErr == nil {
				result.Labels = labels
				result.ModelUsed = model
				return result, nil
			}
			lastErr = attemptErr

			if errors.Is(attemptErr, ErrAuth) {
				return result, attemptErr
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			c.logger.Warn("classification attempt failed",
				logging.String(logging.FieldModel, model),
				logging.Int("attempt", attempt),
				logging.Error(attemptErr))

			if !retryableSameModel(attemptErr) {
				break
			}
			if attempt < attempts {
				if err := c.sleep(ctx, c.retryDelay(attemptErr, attempt)); err != nil {
					return result, err
				}
			}
		}
	}

	return result, fmt.Errorf("classify: all models exhausted: %w", lastErr)
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}
	payload := chatCompletionRequest{
		Model: c.cfg.PrimaryModel,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: `Respond with {"ok":true}`},
		},
		Temperature:    0,
		MaxTokens:      minOutputTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	content, _, err := c.sendChatRequestOnce(ctx, payload)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return fmt.Errorf("classify health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("classify health: unexpected response")
	}
	return nil
}

func (c *Client) models() []string {
	models := []string{c.cfg.PrimaryModel}
	if c.cfg.FallbackModel != "" && c.cfg.FallbackModel != c.cfg.PrimaryModel {
		models = append(models, c.cfg.FallbackModel)
	}
	return models
}

func (c *Client) classifyOnce(ctx context.Context, model, prompt string, batchLen int) ([]Labels, Usage, error) {
	payload := chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature:    0,
		MaxTokens:      c.outputTokenBudget(batchLen),
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, usage, err := c.sendChatRequestOnce(ctx, payload)
	if err != nil {
		return nil, usage, err
	}

	var generic any
	if err := DecodeJSON(content, &generic); err != nil {
		return nil, usage, &StageError{Stage: StageJSON, Err: err}
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, usage, &StageError{Stage: StageJSON, Err: err}
	}
	if err := c.schema(normalized); err != nil {
		return nil, usage, &StageError{Stage: StageSchema, Err: err}
	}

	var raw []rawLabels
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, usage, &StageError{Stage: StageSchema, Err: err}
	}
	if len(raw) != batchLen {
		return nil, usage, &StageError{
			Stage: StageSchema,
			Err:   fmt.Errorf("%w: got %d results for %d inputs", ErrBatchShape, len(raw), batchLen),
		}
	}

	labels := make([]Labels, len(raw))
	for i, item := range raw {
		labels[i] = coerceLabels(item)
	}
	return labels, usage, nil
}

func (c *Client) outputTokenBudget(batchLen int) int {
	budget := batchLen * tokensPerRecord
	if budget < minOutputTokens {
		budget = minOutputTokens
	}
	ceiling := outputTokenCeiling
	if c.cfg.MaxOutputTokens > 0 && c.cfg.MaxOutputTokens < ceiling {
		ceiling = c.cfg.MaxOutputTokens
	}
	if budget > ceiling {
		budget = ceiling
	}
	return budget
}

func renderBatchPrompt(inputs []Input) (string, error) {
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("classify: encode inputs: %w", err)
	}
	return strings.ReplaceAll(batchPromptTemplate, "{{INPUT_JSON}}", string(encoded)), nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func (c *Client) sendChatRequestOnce(ctx context.Context, payload chatCompletionRequest) (string, Usage, error) {
	var usage Usage
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", usage, &StageError{Stage: StageNetwork, Err: fmt.Errorf("encode body: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", usage, &StageError{Stage: StageNetwork, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", usage, &StageError{Stage: StageNetwork, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usage, &StageError{Stage: StageNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", usage, fmt.Errorf("%w: http %d: %s", ErrAuth, resp.StatusCode, summarizePayloadSnippet(string(body)))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", usage, &StageError{Stage: StageHTTP, Err: &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       summarizePayloadSnippet(string(body)),
			RetryAfter: retryAfter,
		}}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", usage, &StageError{Stage: StageJSON, Err: fmt.Errorf("decode response: %w", err)}
	}
	if completion.Usage != nil {
		usage = Usage{
			PromptTokens: completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		}
	}
	if completion.Error != nil {
		return "", usage, &StageError{Stage: StageHTTP, Err: fmt.Errorf("api error: %s", strings.TrimSpace(completion.Error.Message))}
	}

	content := extractCompletionContent(completion)
	if content == "" {
		return "", usage, &StageError{Stage: StageJSON, Err: fmt.Errorf("empty content (finish_reason=%q, refusal=%q)",
			firstFinishReason(completion), firstRefusal(completion))}
	}
	return content, usage, nil
}

func extractCompletionContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content
		}
	}
	return ""
}

func firstFinishReason(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if reason := strings.TrimSpace(choice.FinishReason); reason != "" {
			return reason
		}
	}
	return ""
}

func firstRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// retryableSameModel reports whether the same model deserves another attempt.
// Output-shape failures are retried because they are often model flakiness;
// hard 4xx responses are not.
func retryableSameModel(err error) bool {
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		return false
	}
	switch stageErr.Stage {
	case StageNetwork, StageJSON, StageSchema:
		return true
	case StageHTTP:
		var statusErr *httpStatusError
		if errors.As(stageErr.Err, &statusErr) {
			return statusErr.StatusCode == http.StatusRequestTimeout ||
				statusErr.StatusCode == http.StatusTooManyRequests ||
				statusErr.StatusCode >= http.StatusInternalServerError
		}
		return false
	default:
		return false
	}
}

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return c.capDelay(statusErr.RetryAfter)
	}
	return c.backoffDelay(attempt)
}

// backoffDelay doubles per attempt: attempt 1 -> base, 2 -> base*2, 3 -> base*4.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
