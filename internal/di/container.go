package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/inboxpilot/triage/internal/adapters/ingest"
	"github.com/inboxpilot/triage/internal/adapters/storage"
	"github.com/inboxpilot/triage/internal/background"
	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/factory"
	"github.com/inboxpilot/triage/internal/logging"
	"github.com/inboxpilot/triage/internal/utils"
)

// tierProviders carries the two configured model providers as one
// value so dig can tell them apart.
type tierProviders struct {
	high core.ModelProvider
	low  core.ModelProvider
}

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewProviderFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}

	// Register tier providers
	if err := container.Provide(func(f *factory.ProviderFactory) (tierProviders, error) {
		high, err := f.CreateProvider(core.TierHigh)
		if err != nil {
			return tierProviders{}, err
		}
		low, err := f.CreateProvider(core.TierLow)
		if err != nil {
			return tierProviders{}, err
		}
		return tierProviders{high: high, low: low}, nil
	}); err != nil {
		return nil, err
	}

	// Register cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return nil, err
	}

	// Register storage
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*storage.SQLiteStore, error) {
		return storage.New(cfg.GetString("storage.sqlite_path"), logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *storage.SQLiteStore) core.Store { return s }); err != nil {
		return nil, err
	}

	// Register budget ledger
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.BudgetLedger {
		budget := cfg.GetBudget()
		return core.NewBudgetLedger(budget.DailyCap, budget.MonthlyCap, logger)
	}); err != nil {
		return nil, err
	}

	// Register dispatcher
	if err := container.Provide(func(
		providers tierProviders,
		ledger *core.BudgetLedger,
		cache core.CacheRepository,
		store core.Store,
		cfg *config.Config,
		cacheFactory *factory.CacheFactory,
		logger *zap.Logger,
	) (*core.Dispatcher, error) {
		callTimeout, err := cfg.GetDuration("tiers.classifier_call_timeout")
		if err != nil {
			return nil, err
		}
		cacheTTL, err := cacheFactory.GetCacheTTL()
		if err != nil {
			return nil, err
		}
		dispatcherCfg := core.DispatcherConfig{
			HighTierFloor:        cfg.GetBudget().HighTierFloor,
			CallTimeout:          callTimeout,
			CacheTTL:             cacheTTL,
			FingerprintBodyBytes: cfg.GetInt("cache.fingerprint_body_bytes"),
		}
		return core.NewDispatcher(providers.high, providers.low, ledger, cache, store, dispatcherCfg, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register rule engine
	if err := container.Provide(func(cfg *config.Config, store core.Store, logger *zap.Logger) *core.RuleEngine {
		rulesCfg := core.RulesConfig{
			AdjustmentRate:       cfg.GetFloat64("rules.confidence_adjustment_rate"),
			SuccessRateThreshold: cfg.GetFloat64("rules.success_rate_threshold"),
			SuccessRateWindow:    cfg.GetInt("rules.success_rate_window"),
			AutoActThreshold:     cfg.GetFloat64("rules.auto_act_threshold"),
		}
		return core.NewRuleEngine(rulesCfg, store, store, logger)
	}); err != nil {
		return nil, err
	}

	// Register learning components
	if err := container.Provide(core.NewOptimizer); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.InsightsEngine {
		insightsCfg := core.InsightsConfig{
			SenderMinOccurrences: cfg.GetInt("insights.sender_min_occurrences"),
			SenderMinRatio:       cfg.GetFloat64("insights.sender_min_ratio"),
			HourlySpikeMultiple:  cfg.GetFloat64("insights.hourly_spike_multiple"),
			VolumeAnomalyFactor:  cfg.GetFloat64("insights.volume_anomaly_factor"),
		}
		return core.NewInsightsEngine(insightsCfg, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.RuleMiner {
		minerCfg := core.MinerConfig{
			MinPatternFrequency:  cfg.GetInt("miner.min_pattern_frequency"),
			MinPatternConfidence: cfg.GetFloat64("miner.min_pattern_confidence"),
		}
		return core.NewRuleMiner(minerCfg, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewSenderImportance); err != nil {
		return nil, err
	}

	// Register engine
	if err := container.Provide(func(
		ledger *core.BudgetLedger,
		cache core.CacheRepository,
		dispatcher *core.Dispatcher,
		rules *core.RuleEngine,
		optimizer *core.Optimizer,
		insights *core.InsightsEngine,
		miner *core.RuleMiner,
		store core.Store,
		importance *core.SenderImportance,
		cfg *config.Config,
		logger *zap.Logger,
	) *core.Engine {
		schedulerCfg := core.SchedulerConfig{
			MaxQueueSize:     cfg.GetInt("scheduler.max_queue_size"),
			NumWorkers:       cfg.GetInt("scheduler.num_workers"),
			AgeWeight:        cfg.GetFloat64("scheduler.age_weight"),
			UrgencyWeight:    cfg.GetFloat64("scheduler.urgency_weight"),
			ImportanceWeight: cfg.GetFloat64("scheduler.importance_weight"),
		}
		return core.NewEngine(ledger, cache, dispatcher, rules, optimizer, insights, miner, store, importance, schedulerCfg, logger)
	}); err != nil {
		return nil, err
	}

	// Register SMTP ingest
	if err := container.Provide(func(
		engine *core.Engine,
		store *storage.SQLiteStore,
		cfg *config.Config,
		logger *zap.Logger,
	) *ingest.SMTPIngest {
		return ingest.NewSMTPIngest(engine, store, logger, cfg.GetIngest().ListenAddress)
	}); err != nil {
		return nil, err
	}

	// Register background jobs
	if err := container.Provide(background.NewJobs); err != nil {
		return nil, err
	}

	return container, nil
}
