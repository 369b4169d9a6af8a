package config

// BudgetConfig represents the budget ledger configuration
type BudgetConfig struct {
	DailyCap             float64
	MonthlyCap           float64
	HighTierCostEstimate float64
	LowTierCostEstimate  float64
	HighTierFloor        float64
}

// TiersConfig maps each cost tier to a provider adapter
type TiersConfig struct {
	HighProvider string
	LowProvider  string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// IngestConfig represents the SMTP ingest configuration
type IngestConfig struct {
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
}

// GetBudget returns the budget configuration
func (c *Config) GetBudget() BudgetConfig {
	return BudgetConfig{
		DailyCap:             c.GetFloat64("budget.daily_cap"),
		MonthlyCap:           c.GetFloat64("budget.monthly_cap"),
		HighTierCostEstimate: c.GetFloat64("budget.high_tier_cost_estimate"),
		LowTierCostEstimate:  c.GetFloat64("budget.low_tier_cost_estimate"),
		HighTierFloor:        c.GetFloat64("budget.high_tier_floor"),
	}
}

// GetTiers returns the tier provider mapping
func (c *Config) GetTiers() TiersConfig {
	return TiersConfig{
		HighProvider: c.GetString("tiers.high_provider"),
		LowProvider:  c.GetString("tiers.low_provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetIngest returns the SMTP ingest configuration
func (c *Config) GetIngest() IngestConfig {
	return IngestConfig{
		ListenAddress:   c.GetString("ingest.listen_address"),
		Domain:          c.GetString("ingest.domain"),
		MaxMessageBytes: int64(c.GetInt("ingest.max_message_bytes")),
	}
}
