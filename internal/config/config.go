package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	WardData     WardDataConfig     `yaml:"ward_data" mapstructure:"ward_data"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Resilience   ResilienceConfig   `yaml:"resilience" mapstructure:"resilience"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the result cache backend.
type CacheConfig struct {
	// Driver selects the backend: sqlite, postgres, or none.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AnthropicConfig holds the deep-reasoning provider settings.
type AnthropicConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	QuickModel    string  `yaml:"quick_model" mapstructure:"quick_model"`
	StandardModel string  `yaml:"standard_model" mapstructure:"standard_model"`
	DeepModel     string  `yaml:"deep_model" mapstructure:"deep_model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// PerplexityConfig holds the web-intelligence provider settings.
type PerplexityConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Model      string  `yaml:"model" mapstructure:"model"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// WardDataConfig points at the data layer that serves ward context.
type WardDataConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OrchestratorConfig controls run-level behavior.
type OrchestratorConfig struct {
	// RequestTimeoutSecs bounds a whole analysis run, independent of
	// per-provider timeouts.
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	// ProviderTimeoutSecs bounds a single provider call.
	ProviderTimeoutSecs int `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	// HeartbeatSecs is the idle interval before a heartbeat event.
	HeartbeatSecs int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	// ConsensusThreshold is the routing confidence below which a
	// secondary provider is consulted.
	ConsensusThreshold float64 `yaml:"consensus_threshold" mapstructure:"consensus_threshold"`
	// EventBuffer is the per-connection progress queue size.
	EventBuffer int `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// ResilienceConfig controls the per-provider circuit breakers.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures metrics retention and alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RetentionMinutes      int     `yaml:"retention_minutes" mapstructure:"retention_minutes"`
	ErrorRateThreshold    float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	AvailabilityThreshold float64 `yaml:"availability_threshold" mapstructure:"availability_threshold"`
	LatencyThresholdMS    float64 `yaml:"latency_threshold_ms" mapstructure:"latency_threshold_ms"`
}

// ServerConfig configures the HTTP/SSE server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RequestTimeout returns the run-level deadline as a duration.
func (c OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// ProviderTimeout returns the per-provider deadline as a duration.
func (c OrchestratorConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSecs) * time.Second
}

// Heartbeat returns the idle heartbeat interval as a duration.
func (c OrchestratorConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSecs) * time.Second
}

// ResetTimeout returns the breaker recovery timeout as a duration.
func (c ResilienceConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STRATEGIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.database_url", "strategist.db")
	v.SetDefault("cache.ttl_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.quick_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.standard_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.deep_model", "claude-opus-4-6")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rate_per_sec", 2.0)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.rate_per_sec", 2.0)
	v.SetDefault("ward_data.timeout_secs", 5)
	v.SetDefault("orchestrator.request_timeout_secs", 120)
	v.SetDefault("orchestrator.provider_timeout_secs", 60)
	v.SetDefault("orchestrator.heartbeat_secs", 15)
	v.SetDefault("orchestrator.consensus_threshold", 0.6)
	v.SetDefault("orchestrator.event_buffer", 32)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.retention_minutes", 60)
	v.SetDefault("monitoring.error_rate_threshold", 0.25)
	v.SetDefault("monitoring.availability_threshold", 0.5)
	v.SetDefault("monitoring.latency_threshold_ms", 30000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
