package config

const (
	defaultDataDir = "~/.local/share/casemill/data"
	defaultRawDir  = "~/.local/share/casemill/raw"
	defaultLogDir  = "~/.local/share/casemill/logs"

	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMPrimaryModel     = "google/gemini-2.5-flash"
	defaultLLMFallbackModel    = "google/gemini-2.5-flash-lite"
	defaultLLMReferer          = "https://github.com/casemill/casemill"
	defaultLLMTitle            = "Casemill Ticket Classifier"
	defaultLLMAttemptsPerModel = 2
	defaultLLMTimeoutSeconds   = 120
	defaultLLMMaxOutputTokens  = 4096

	defaultPipelinePageSize  = 200
	defaultPipelineBatchSize = 10
	defaultPipelineWorkers   = 1

	defaultIngestMaxTextChars = 2500

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			RawDir:  defaultRawDir,
			LogDir:  defaultLogDir,
		},
		LLM: LLM{
			BaseURL:          defaultLLMBaseURL,
			PrimaryModel:     defaultLLMPrimaryModel,
			FallbackModel:    defaultLLMFallbackModel,
			Referer:          defaultLLMReferer,
			Title:            defaultLLMTitle,
			AttemptsPerModel: defaultLLMAttemptsPerModel,
			TimeoutSeconds:   defaultLLMTimeoutSeconds,
			MaxOutputTokens:  defaultLLMMaxOutputTokens,
		},
		Pipeline: Pipeline{
			PageSize:  defaultPipelinePageSize,
			BatchSize: defaultPipelineBatchSize,
			Workers:   defaultPipelineWorkers,
		},
		Ingest: Ingest{
			MaxTextChars: defaultIngestMaxTextChars,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
