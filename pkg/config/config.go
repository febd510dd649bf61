package config

import (
	"context"
	"time"
)

// Config is the root configuration of the conductor runtime.
type Config struct {
	Engine      EngineConfig      `koanf:"engine"      validate:"required"`
	Expr        ExprConfig        `koanf:"expr"        validate:"required"`
	Store       StoreConfig       `koanf:"store"       validate:"required"`
	Redis       RedisConfig       `koanf:"redis"`
	LLM         LLMConfig         `koanf:"llm"`
	Integration IntegrationConfig `koanf:"integration"`
	Report      ReportConfig      `koanf:"report"`
	Monitoring  MonitoringConfig  `koanf:"monitoring"`
	Log         LogConfig         `koanf:"log"`
}

// EngineConfig holds per-call timeouts and scheduling defaults shared by the
// workflow and crew engines.
type EngineConfig struct {
	OracleTimeout             time.Duration `koanf:"oracle_timeout"               validate:"min=0" env:"CONDUCTOR_ENGINE_ORACLE_TIMEOUT"`
	CompletionTimeout         time.Duration `koanf:"completion_timeout"           validate:"min=0" env:"CONDUCTOR_ENGINE_COMPLETION_TIMEOUT"`
	ToolTimeout               time.Duration `koanf:"tool_timeout"                 validate:"min=0" env:"CONDUCTOR_ENGINE_TOOL_TIMEOUT"`
	IntegrationTimeout        time.Duration `koanf:"integration_timeout"          validate:"min=0" env:"CONDUCTOR_ENGINE_INTEGRATION_TIMEOUT"`
	TaskTimeout               time.Duration `koanf:"task_timeout"                 validate:"min=0" env:"CONDUCTOR_ENGINE_TASK_TIMEOUT"`
	DefaultMaxConcurrentTasks int           `koanf:"default_max_concurrent_tasks" validate:"min=1" env:"CONDUCTOR_ENGINE_DEFAULT_MAX_CONCURRENT_TASKS"`
	InitialPerformanceScore   float64       `koanf:"initial_performance_score"    validate:"gt=0,lte=1" env:"CONDUCTOR_ENGINE_INITIAL_PERFORMANCE_SCORE"`
	OracleRetryAttempts       int           `koanf:"oracle_retry_attempts"        validate:"min=0,max=10" env:"CONDUCTOR_ENGINE_ORACLE_RETRY_ATTEMPTS"`
	OracleRequestsPerSecond   float64       `koanf:"oracle_requests_per_second"   validate:"min=0" env:"CONDUCTOR_ENGINE_ORACLE_REQUESTS_PER_SECOND"`
	ResultCacheSize           int           `koanf:"result_cache_size"            validate:"min=1" env:"CONDUCTOR_ENGINE_RESULT_CACHE_SIZE"`
}

// ExprConfig tunes the sandboxed condition evaluator.
type ExprConfig struct {
	CostLimit uint64 `koanf:"cost_limit" validate:"min=1" env:"CONDUCTOR_EXPR_COST_LIMIT"`
	CacheSize int64  `koanf:"cache_size" validate:"min=1" env:"CONDUCTOR_EXPR_CACHE_SIZE"`
}

// StoreConfig selects where registered graphs and crews live.
type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory redis" env:"CONDUCTOR_STORE_DRIVER"`
	Prefix string `koanf:"prefix" validate:"required,key_prefix" env:"CONDUCTOR_STORE_PREFIX"`
}

// RedisConfig is shared by the redis store and the redis pubsub provider.
type RedisConfig struct {
	Addr     string          `koanf:"addr"     env:"CONDUCTOR_REDIS_ADDR"`
	Password SensitiveString `koanf:"password" env:"CONDUCTOR_REDIS_PASSWORD"`
	DB       int             `koanf:"db"       env:"CONDUCTOR_REDIS_DB" validate:"min=0"`
}

// LLMConfig selects the model behind the default completion oracle.
type LLMConfig struct {
	Provider string          `koanf:"provider" validate:"oneof=mock openai ollama" env:"CONDUCTOR_LLM_PROVIDER"`
	Model    string          `koanf:"model"                                        env:"CONDUCTOR_LLM_MODEL"`
	APIKey   SensitiveString `koanf:"api_key"                                      env:"CONDUCTOR_LLM_API_KEY"`
	BaseURL  string          `koanf:"base_url"                                     env:"CONDUCTOR_LLM_BASE_URL"`
}

// IntegrationConfig configures the HTTP integration invoker and its
// resilience policy.
type IntegrationConfig struct {
	BaseURL                     string        `koanf:"base_url"                        env:"CONDUCTOR_INTEGRATION_BASE_URL"`
	RetryTimes                  int           `koanf:"retry_times"                     env:"CONDUCTOR_INTEGRATION_RETRY_TIMES"   validate:"min=0"`
	RetryWaitBase               time.Duration `koanf:"retry_wait_base"                 env:"CONDUCTOR_INTEGRATION_RETRY_WAIT_BASE"`
	ErrorPercentThresholdToOpen int           `koanf:"error_percent_threshold_to_open" validate:"min=0,max=100"`
	MinimumRequestToOpen        int           `koanf:"minimum_request_to_open"         validate:"min=0"`
	WaitDurationInOpenState     time.Duration `koanf:"wait_duration_in_open_state"`
}

// ReportConfig controls downstream execution event publishing.
type ReportConfig struct {
	Enabled         bool    `koanf:"enabled"            env:"CONDUCTOR_REPORT_ENABLED"`
	Channel         string  `koanf:"channel"            env:"CONDUCTOR_REPORT_CHANNEL"            validate:"key_prefix"`
	CostPer1KTokens float64 `koanf:"cost_per_1k_tokens" env:"CONDUCTOR_REPORT_COST_PER_1K_TOKENS" validate:"min=0"`
}

type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"CONDUCTOR_MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"CONDUCTOR_MONITORING_PATH"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error disabled" env:"CONDUCTOR_LOG_LEVEL"`
	JSON  bool   `koanf:"json"                                                  env:"CONDUCTOR_LOG_JSON"`
}

// SensitiveString hides its value when printed.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the raw secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			OracleTimeout:             10 * time.Second,
			CompletionTimeout:         60 * time.Second,
			ToolTimeout:               30 * time.Second,
			IntegrationTimeout:        60 * time.Second,
			TaskTimeout:               2 * time.Minute,
			DefaultMaxConcurrentTasks: 3,
			InitialPerformanceScore:   0.5,
			OracleRetryAttempts:       2,
			OracleRequestsPerSecond:   0,
			ResultCacheSize:           256,
		},
		Expr: ExprConfig{
			CostLimit: 1000,
			CacheSize: 1000,
		},
		Store: StoreConfig{
			Driver: "memory",
			Prefix: "conductor",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		LLM: LLMConfig{
			Provider: "mock",
			Model:    "mock-model",
		},
		Integration: IntegrationConfig{
			RetryTimes:                  2,
			RetryWaitBase:               100 * time.Millisecond,
			ErrorPercentThresholdToOpen: 50,
			MinimumRequestToOpen:        10,
			WaitDurationInOpenState:     5 * time.Second,
		},
		Report: ReportConfig{
			Enabled: false,
			Channel: "conductor:executions",
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Source provides configuration data to the loader.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
}

// SourceType identifies where a configuration value came from.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Service loads and validates configuration.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	GetSource(key string) SourceType
}

// Load loads configuration from defaults and the environment.
func Load(ctx context.Context) (*Config, error) {
	return NewService().Load(ctx)
}
