package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Driver selects the storage backend: "postgres" for shared
	// deployments, "sqlite" for single-user local mode.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`

	// URL is the postgres connection string, or the sqlite file path.
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the background job queue settings.
type QueueConfig struct {
	MaxConcurrency     int           `mapstructure:"max_concurrency" validate:"required,gt=0"`
	MaxRetryAttempts   int           `mapstructure:"max_retry_attempts" validate:"required,gt=0"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay" validate:"required"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	RetryCheckInterval time.Duration `mapstructure:"retry_check_interval"`
}

// PipelineConfig contains the workflow executor settings.
type PipelineConfig struct {
	// DefinitionsDir, when set, is scanned at startup for YAML pipeline
	// definitions to load into the store.
	DefinitionsDir string `mapstructure:"definitions_dir"`
}

// LLMConfig contains all model integration related settings.
type LLMConfig struct {
	GeminiAPIKey string        `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string        `mapstructure:"model_name" validate:"required"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}
