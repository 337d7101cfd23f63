package main

import (
	"log/slog"
	"strings"
	"sync"

	"casemill/internal/classify"
	"casemill/internal/config"
	"casemill/internal/logging"
	"casemill/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (*config.Config, *store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func (c *commandContext) newLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func newClassifierClient(cfg *config.Config, logger *slog.Logger) (*classify.Client, error) {
	llm := cfg.GetLLM()
	return classify.NewClient(classify.Config{
		APIKey:           llm.APIKey,
		BaseURL:          llm.BaseURL,
		PrimaryModel:     llm.PrimaryModel,
		FallbackModel:    llm.FallbackModel,
		Referer:          llm.Referer,
		Title:            llm.Title,
		AttemptsPerModel: llm.AttemptsPerModel,
		TimeoutSeconds:   llm.TimeoutSeconds,
		MaxOutputTokens:  llm.MaxOutputTokens,
	}, classify.WithLogger(logger))
}
