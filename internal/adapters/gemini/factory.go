package gemini

import (
	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/utils"
	"go.uber.org/zap"
)

// Factory creates new instances of GeminiClient
type Factory struct {
	cfg           *config.Config
	costPerCall   float64
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for GeminiClient instances
func NewFactory(cfg *config.Config, costPerCall float64, logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		costPerCall:   costPerCall,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateProvider creates a new GeminiClient
func (f *Factory) CreateProvider() (core.ModelProvider, error) {
	geminiCfg := f.cfg.GetGemini()

	return NewGeminiClient(
		geminiCfg.APIKey,
		geminiCfg.ModelName,
		geminiCfg.MaxTokens,
		geminiCfg.Temperature,
		geminiCfg.TopP,
		geminiCfg.MaxBodySize,
		f.costPerCall,
		f.logger,
		f.textProcessor,
	)
}
