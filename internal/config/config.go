package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration. Loaded once at
// startup and passed by reference, never mutated at runtime.
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/triage-engine/")
	v.AddConfigPath("$HOME/.triage-engine")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Budget defaults
	v.SetDefault("budget.daily_cap", 10.0)
	v.SetDefault("budget.monthly_cap", 200.0)
	v.SetDefault("budget.high_tier_cost_estimate", 0.02)
	v.SetDefault("budget.low_tier_cost_estimate", 0.002)
	v.SetDefault("budget.high_tier_floor", 1.0)

	// Tier provider selection
	v.SetDefault("tiers.high_provider", "bedrock")
	v.SetDefault("tiers.low_provider", "openai")
	v.SetDefault("tiers.classifier_call_timeout", "2s")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Scheduler defaults
	v.SetDefault("scheduler.num_workers", 6)
	v.SetDefault("scheduler.max_queue_size", 15000)
	v.SetDefault("scheduler.age_weight", 0.001)
	v.SetDefault("scheduler.urgency_weight", 1.0)
	v.SetDefault("scheduler.importance_weight", 1.0)

	// Rules defaults
	v.SetDefault("rules.confidence_adjustment_rate", 0.05)
	v.SetDefault("rules.success_rate_threshold", 0.8)
	v.SetDefault("rules.success_rate_window", 10)
	v.SetDefault("rules.auto_act_threshold", 0.85)

	// Miner defaults
	v.SetDefault("miner.min_pattern_frequency", 5)
	v.SetDefault("miner.min_pattern_confidence", 0.75)
	v.SetDefault("miner.window", "720h")

	// Insights defaults
	v.SetDefault("insights.sender_min_occurrences", 5)
	v.SetDefault("insights.sender_min_ratio", 0.8)
	v.SetDefault("insights.hourly_spike_multiple", 2.0)
	v.SetDefault("insights.volume_anomaly_factor", 2.0)
	v.SetDefault("insights.window", "168h")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_frequency", "1h")
	v.SetDefault("cache.fingerprint_body_bytes", 256)
	v.SetDefault("cache.sqlite_path", "/data/triage_cache.db")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/triage")

	// Storage defaults
	v.SetDefault("storage.sqlite_path", "/data/triage.db")

	// Ingest defaults
	v.SetDefault("ingest.listen_address", "0.0.0.0:10025")
	v.SetDefault("ingest.domain", "localhost")
	v.SetDefault("ingest.max_message_bytes", 31457280)

	// Background job defaults
	v.SetDefault("jobs.insights_schedule", "0 */30 * * * *")
	v.SetDefault("jobs.mining_schedule", "0 0 * * * *")
	v.SetDefault("jobs.requeue_schedule", "0 5 * * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
