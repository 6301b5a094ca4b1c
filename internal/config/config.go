package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Artifact ArtifactConfig `mapstructure:"artifact" validate:"required"`
	Email    EmailConfig    `mapstructure:"email"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains bearer-token verification settings. Verification is
// optional: when Issuer is empty the API runs unauthenticated.
type AuthConfig struct {
	// Issuer is the base URL of the token issuer; its JWKS endpoint is
	// derived as {issuer}/.well-known/jwks.json.
	Issuer string `mapstructure:"issuer" validate:"omitempty,url"`

	// Audience, when set, must match the token's aud claim.
	Audience string `mapstructure:"audience"`

	// KeyCacheTTLMinutes bounds how long fetched verification keys are
	// reused before a refetch.
	KeyCacheTTLMinutes int `mapstructure:"key_cache_ttl_minutes" validate:"gte=0"`
}

// TaskConfig contains background task runner settings.
type TaskConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize   int `mapstructure:"queue_size"   validate:"required,gt=0"`

	// StaleTaskAgeMinutes is how long a task may sit in in_progress
	// before the reconciliation sweep marks it failed.
	StaleTaskAgeMinutes int `mapstructure:"stale_task_age_minutes" validate:"required,gt=0"`

	// StaleCheckIntervalMinutes is how often the sweep runs.
	StaleCheckIntervalMinutes int `mapstructure:"stale_check_interval_minutes" validate:"required,gt=0"`
}

// PipelineConfig contains settings for the due-diligence analysis pipeline.
type PipelineConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName         string `mapstructure:"model_name"     validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"        validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`

	// OutputsDir is where pipeline tools write their transient artifact
	// files before persistence.
	OutputsDir string `mapstructure:"outputs_dir" validate:"required"`
}

// ArtifactConfig contains durable artifact storage settings.
type ArtifactConfig struct {
	StoragePath string `mapstructure:"storage_path" validate:"required"`
}

// EmailConfig contains report notification settings. Email is optional:
// an empty SMTPHost disables the transport entirely.
type EmailConfig struct {
	SMTPHost         string `mapstructure:"smtp_host"`
	SMTPPort         int    `mapstructure:"smtp_port"         validate:"gte=0,lt=65536"`
	SMTPUsername     string `mapstructure:"smtp_username"`
	SMTPPassword     string `mapstructure:"smtp_password"`
	FromAddress      string `mapstructure:"from_address"      validate:"omitempty,email"`
	DefaultRecipient string `mapstructure:"default_recipient" validate:"omitempty,email"`
}
