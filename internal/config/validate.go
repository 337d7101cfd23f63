package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("llm.base_url must be set")
	}
	if strings.TrimSpace(c.LLM.PrimaryModel) == "" {
		return errors.New("llm.primary_model must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"llm.attempts_per_model": c.LLM.AttemptsPerModel,
		"llm.timeout_seconds":    c.LLM.TimeoutSeconds,
		"llm.max_output_tokens":  c.LLM.MaxOutputTokens,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.page_size":  c.Pipeline.PageSize,
		"pipeline.batch_size": c.Pipeline.BatchSize,
		"pipeline.workers":    c.Pipeline.Workers,
	}); err != nil {
		return err
	}
	if c.Pipeline.BatchSize > c.Pipeline.PageSize {
		return errors.New("pipeline.batch_size must not exceed pipeline.page_size")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.MaxTextChars <= 0 {
		return errors.New("ingest.max_text_chars must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
