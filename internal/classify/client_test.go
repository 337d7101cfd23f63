package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = "primary/model"
	}
	opts = append(opts, WithRetryBackoff(time.Millisecond, 5*time.Millisecond))
	client, err := NewClient(cfg, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func completionBody(content string, promptTokens, outputTokens int) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      promptTokens + outputTokens,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(encoded)
}

func batchContent(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"ai_category":"Water Supply","ai_subtopic":"pipe leak","ai_confidence":"high","ai_issue_type":"leaking supply line","ai_entities":["Ward %d"],"ai_urgency":"medium","ai_sentiment":"negative","ai_resolution_quality":"Low","ai_reopen_risk":"High","ai_feedback_driver":"slow response","ai_closure_theme":"field repair","ai_extra_summary":"Citizen reported a leaking supply line."}`, i+1)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func requestModel(t *testing.T, r *http.Request) string {
	t.Helper()
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body.Model
}

func TestClassifyBatchSuccess(t *testing.T) {
	var captured struct {
		auth    string
		referer string
		title   string
		body    chatCompletionRequest
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.auth = r.Header.Get("Authorization")
		captured.referer = r.Header.Get("HTTP-Referer")
		captured.title = r.Header.Get("X-Title")
		if err := json.NewDecoder(r.Body).Decode(&captured.body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, completionBody(batchContent(2), 120, 60))
	}))
	defer server.Close()

	client := newTestClient(t, Config{
		BaseURL: server.URL,
		Referer: "https://example.test",
		Title:   "casemill",
	})

	inputs := []Input{
		{Text: "Subject: leak | Description: pipe burst near market"},
		{Text: "Subject: leak | Description: no water since morning"},
	}
	result, err := client.ClassifyBatch(context.Background(), inputs)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}

	if captured.auth != "Bearer test-key" {
		t.Errorf("authorization header = %q", captured.auth)
	}
	if captured.referer != "https://example.test" {
		t.Errorf("referer header = %q", captured.referer)
	}
	if captured.title != "casemill" {
		t.Errorf("title header = %q", captured.title)
	}
	if captured.body.Model != "primary/model" {
		t.Errorf("model = %q", captured.body.Model)
	}
	if captured.body.Temperature != 0 {
		t.Errorf("temperature = %v", captured.body.Temperature)
	}
	if captured.body.ResponseFormat["type"] != jsonResponseType {
		t.Errorf("response_format = %v", captured.body.ResponseFormat)
	}
	if captured.body.MaxTokens != minOutputTokens {
		t.Errorf("max_tokens = %d, want %d", captured.body.MaxTokens, minOutputTokens)
	}
	if len(captured.body.Messages) != 1 || !strings.Contains(captured.body.Messages[0].Content, "pipe burst near market") {
		t.Errorf("prompt missing input text: %+v", captured.body.Messages)
	}

	if result.ModelUsed != "primary/model" {
		t.Errorf("ModelUsed = %q", result.ModelUsed)
	}
	if len(result.Labels) != 2 {
		t.Fatalf("got %d label sets, want 2", len(result.Labels))
	}
	first := result.Labels[0]
	if first.Category != "Water Supply" {
		t.Errorf("Category = %q", first.Category)
	}
	if first.Subtopic != "Pipe Leak" {
		t.Errorf("Subtopic = %q", first.Subtopic)
	}
	if first.Confidence != "High" {
		t.Errorf("Confidence = %q", first.Confidence)
	}
	if first.Urgency != "Med" {
		t.Errorf("Urgency = %q", first.Urgency)
	}
	if first.Sentiment != "Neg" {
		t.Errorf("Sentiment = %q", first.Sentiment)
	}
	if first.EntitiesJSON != `["Ward 1"]` {
		t.Errorf("EntitiesJSON = %q", first.EntitiesJSON)
	}
	if result.Usage.PromptTokens != 120 || result.Usage.OutputTokens != 60 || result.Usage.TotalTokens != 180 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestClassifyBatchRetriesThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, completionBody(batchContent(1), 50, 25))
		}
	}))
	defer server.Close()

	var delays []time.Duration
	client := newTestClient(t,
		Config{BaseURL: server.URL, AttemptsPerModel: 3},
		WithSleeper(func(d time.Duration) { delays = append(delays, d) }))

	result, err := client.ClassifyBatch(context.Background(), []Input{{Text: "garbage pile"}})
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(result.Labels) != 1 {
		t.Errorf("got %d label sets, want 1", len(result.Labels))
	}
	// Retry-After of 2s is capped at the configured max delay; the second
	// retry falls back to doubled backoff.
	want := []time.Duration{5 * time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestClassifyBatchFallsBackAfterPrimaryExhausted(t *testing.T) {
	var primaryCalls, fallbackCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestModel(t, r) == "primary/model" {
			primaryCalls++
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fallbackCalls++
		fmt.Fprint(w, completionBody(batchContent(1), 40, 20))
	}))
	defer server.Close()

	client := newTestClient(t,
		Config{BaseURL: server.URL, FallbackModel: "fallback/model", AttemptsPerModel: 2},
		WithSleeper(func(time.Duration) {}))

	result, err := client.ClassifyBatch(context.Background(), []Input{{Text: "street light out"}})
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2", primaryCalls)
	}
	if fallbackCalls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls)
	}
	if result.ModelUsed != "fallback/model" {
		t.Errorf("ModelUsed = %q", result.ModelUsed)
	}
}

func TestClassifyBatchHardClientErrorSkipsToFallback(t *testing.T) {
	var primaryCalls, fallbackCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestModel(t, r) == "primary/model" {
			primaryCalls++
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fallbackCalls++
		fmt.Fprint(w, completionBody(batchContent(1), 40, 20))
	}))
	defer server.Close()

	client := newTestClient(t,
		Config{BaseURL: server.URL, FallbackModel: "fallback/model", AttemptsPerModel: 3},
		WithSleeper(func(time.Duration) {}))

	result, err := client.ClassifyBatch(context.Background(), []Input{{Text: "pothole"}})
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if primaryCalls != 1 {
		t.Errorf("primary calls = %d, want 1 (no retry on hard 4xx)", primaryCalls)
	}
	if fallbackCalls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls)
	}
	if result.ModelUsed != "fallback/model" {
		t.Errorf("ModelUsed = %q", result.ModelUsed)
	}
}

func TestClassifyBatchAuthErrorNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer server.Close()

	client := newTestClient(t,
		Config{BaseURL: server.URL, FallbackModel: "fallback/model", AttemptsPerModel: 3},
		WithSleeper(func(time.Duration) {}))

	_, err := client.ClassifyBatch(context.Background(), []Input{{Text: "anything"}})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClassifyBatchMissingAPIKey(t *testing.T) {
	client := newTestClient(t, Config{APIKey: " ", BaseURL: "http://127.0.0.1:0"})

	_, err := client.ClassifyBatch(context.Background(), []Input{{Text: "anything"}})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestClassifyBatchLengthMismatchFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(batchContent(1), 10, 5))
	}))
	defer server.Close()

	client := newTestClient(t,
		Config{BaseURL: server.URL, AttemptsPerModel: 1},
		WithSleeper(func(time.Duration) {}))

	_, err := client.ClassifyBatch(context.Background(), []Input{{Text: "a"}, {Text: "b"}})
	if !errors.Is(err, ErrBatchShape) {
		t.Fatalf("err = %v, want ErrBatchShape", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSchema {
		t.Errorf("err = %v, want schema stage error", err)
	}
}

func TestClassifyBatchDecodesFencedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fenced := "```json\n" + batchContent(1) + "\n```"
		fmt.Fprint(w, completionBody(fenced, 30, 15))
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL})

	result, err := client.ClassifyBatch(context.Background(), []Input{{Text: "open drain"}})
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if len(result.Labels) != 1 || result.Labels[0].Category != "Water Supply" {
		t.Errorf("labels = %+v", result.Labels)
	}
}

func TestClassifyBatchAccumulatesUsageAcrossAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, completionBody("", 10, 5))
			return
		}
		fmt.Fprint(w, completionBody(batchContent(1), 20, 10))
	}))
	defer server.Close()

	client := newTestClient(t,
		Config{BaseURL: server.URL, AttemptsPerModel: 2},
		WithSleeper(func(time.Duration) {}))

	result, err := client.ClassifyBatch(context.Background(), []Input{{Text: "stray dogs"}})
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if result.Usage.PromptTokens != 30 || result.Usage.OutputTokens != 15 || result.Usage.TotalTokens != 45 {
		t.Errorf("usage = %+v, want tokens from both attempts", result.Usage)
	}
}

func TestClassifyBatchEmptyInputsNoCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL})

	result, err := client.ClassifyBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if len(result.Labels) != 0 {
		t.Errorf("labels = %+v, want none", result.Labels)
	}
}

func TestOutputTokenBudget(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		batchLen  int
		want      int
	}{
		{"small batch uses floor", 4096, 2, 800},
		{"large batch scales", 4096, 10, 2000},
		{"huge batch hits ceiling", 4096, 50, 4096},
		{"configured ceiling wins", 1000, 50, 1000},
		{"zero config falls back to ceiling", 0, 50, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, Config{BaseURL: "http://127.0.0.1:0", MaxOutputTokens: tt.maxTokens})
			if got := client.outputTokenBudget(tt.batchLen); got != tt.want {
				t.Errorf("outputTokenBudget(%d) = %d, want %d", tt.batchLen, got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, completionBody(`{"ok":true}`, 5, 2))
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHealthCheckAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestHealthCheckRejectsUnexpectedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"ok":false}`, 5, 2))
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for unexpected payload")
	}
}

func TestHealthCheckMissingAPIKey(t *testing.T) {
	client := newTestClient(t, Config{APIKey: " ", BaseURL: "http://unused.invalid"})
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
