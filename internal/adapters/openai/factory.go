package openai

import (
	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/utils"
	"go.uber.org/zap"
)

// Factory creates new instances of OpenAIClient
type Factory struct {
	cfg           *config.Config
	costPerCall   float64
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for OpenAIClient instances
func NewFactory(cfg *config.Config, costPerCall float64, logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		costPerCall:   costPerCall,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateProvider creates a new OpenAIClient
func (f *Factory) CreateProvider() (core.ModelProvider, error) {
	openaiCfg := f.cfg.GetOpenAI()

	return NewOpenAIClient(
		openaiCfg.APIKey,
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		openaiCfg.MaxBodySize,
		f.costPerCall,
		f.logger,
		f.textProcessor,
	), nil
}
