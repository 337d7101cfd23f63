package testsupport

import (
	"path/filepath"
	"testing"

	"casemill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.RawDir = filepath.Join(base, "raw")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.LLM.APIKey = "test-key"
	cfg.Pipeline.Workers = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithBatchSize overrides the pipeline batch size on the test config.
func WithBatchSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.BatchSize = size
	}
}

// WithPageSize overrides the pipeline page size on the test config.
func WithPageSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.PageSize = size
	}
}

// WithAPIKey overrides the classification service API key on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.LLM.APIKey = key
	}
}
