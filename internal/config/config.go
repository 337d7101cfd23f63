package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	RawDir  string `toml:"raw_dir"`
	LogDir  string `toml:"log_dir"`
}

// LLM contains connection settings for the classification service.
type LLM struct {
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	PrimaryModel     string `toml:"primary_model"`
	FallbackModel    string `toml:"fallback_model"`
	Referer          string `toml:"referer"`
	Title            string `toml:"title"`
	AttemptsPerModel int    `toml:"attempts_per_model"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxOutputTokens  int    `toml:"max_output_tokens"`
}

// Pipeline contains enrichment pipeline tuning knobs.
type Pipeline struct {
	PageSize  int `toml:"page_size"`
	BatchSize int `toml:"batch_size"`
	Workers   int `toml:"workers"`
}

// Ingest contains settings for raw file ingestion.
type Ingest struct {
	MaxTextChars int `toml:"max_text_chars"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for casemill.
//
// Configuration sections by subsystem:
//   - Paths: data, raw-input, and log directories
//   - LLM: classification service connection, models, and retry budget
//   - Pipeline: paging, batching, and worker pool sizing
//   - Ingest: raw file ingestion limits
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	LLM      LLM      `toml:"llm"`
	Pipeline Pipeline `toml:"pipeline"`
	Ingest   Ingest   `toml:"ingest"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/casemill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("casemill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "casemill.db")
}

// LockPath returns the pipeline lock file location under the data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "casemill.lock")
}

// EnsureDirectories creates the configured directories when absent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.RawDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved classification service settings.
type LLMConfig struct {
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

// GetLLM returns the classification service connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:           strings.TrimSpace(c.LLM.APIKey),
		BaseURL:          strings.TrimSpace(c.LLM.BaseURL),
		PrimaryModel:     strings.TrimSpace(c.LLM.PrimaryModel),
		FallbackModel:    strings.TrimSpace(c.LLM.FallbackModel),
		Referer:          strings.TrimSpace(c.LLM.Referer),
		Title:            strings.TrimSpace(c.LLM.Title),
		AttemptsPerModel: c.LLM.AttemptsPerModel,
		TimeoutSeconds:   c.LLM.TimeoutSeconds,
		MaxOutputTokens:  c.LLM.MaxOutputTokens,
	}
}
