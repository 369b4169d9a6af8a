package factory

import (
	"fmt"

	"github.com/inboxpilot/triage/internal/adapters/bedrock"
	"github.com/inboxpilot/triage/internal/adapters/gemini"
	"github.com/inboxpilot/triage/internal/adapters/openai"
	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/utils"
	"go.uber.org/zap"
)

// ProviderFactory creates the tier model providers
type ProviderFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ProviderFactory {
	return &ProviderFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateProvider creates the model provider for one tier based on the
// tiers configuration.
func (f *ProviderFactory) CreateProvider(tier core.Tier) (core.ModelProvider, error) {
	tiers := f.cfg.GetTiers()
	budget := f.cfg.GetBudget()

	name := tiers.LowProvider
	costPerCall := budget.LowTierCostEstimate
	if tier == core.TierHigh {
		name = tiers.HighProvider
		costPerCall = budget.HighTierCostEstimate
	}

	switch name {
	case "bedrock":
		factory := bedrock.NewFactory(f.cfg, costPerCall, f.logger, f.textProcessor)
		return factory.CreateProvider()
	case "gemini":
		factory := gemini.NewFactory(f.cfg, costPerCall, f.logger, f.textProcessor)
		return factory.CreateProvider()
	case "openai":
		factory := openai.NewFactory(f.cfg, costPerCall, f.logger, f.textProcessor)
		return factory.CreateProvider()
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", name)
	}
}
