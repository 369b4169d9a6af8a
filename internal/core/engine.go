package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Engine is the explicit aggregate owning the ledger, cache,
// dispatcher, scheduler, and rule engine. Constructed once and passed
// explicitly; no global state.
type Engine struct {
	ledger     *BudgetLedger
	cache      CacheRepository
	dispatcher *Dispatcher
	scheduler  *Scheduler
	rules      *RuleEngine
	optimizer  *Optimizer
	insights   *InsightsEngine
	miner      *RuleMiner
	store      Store
	importance *SenderImportance
	actions    ActionSink
	logger     *zap.Logger
}

// NewEngine wires the engine pipeline. The scheduler's workers run
// processEmail to completion per item; the ledger's daily rollover
// drains emails deferred by budget exhaustion back into the queue.
func NewEngine(
	ledger *BudgetLedger,
	cache CacheRepository,
	dispatcher *Dispatcher,
	rules *RuleEngine,
	optimizer *Optimizer,
	insights *InsightsEngine,
	miner *RuleMiner,
	store Store,
	importance *SenderImportance,
	schedulerCfg SchedulerConfig,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		ledger:     ledger,
		cache:      cache,
		dispatcher: dispatcher,
		rules:      rules,
		optimizer:  optimizer,
		insights:   insights,
		miner:      miner,
		store:      store,
		importance: importance,
		logger:     logger,
	}
	e.scheduler = NewScheduler(schedulerCfg, importance, e.processEmail, logger)
	ledger.OnRollover(func() {
		e.scheduler.DrainDeferred()
	})
	return e
}

// Start loads persisted rules and launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.rules.Load(ctx); err != nil {
		return err
	}
	e.scheduler.Start(ctx)
	e.logger.Info("triage engine started")
	return nil
}

// Stop waits for in-flight work after the Start context is cancelled.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.logger.Info("triage engine stopped")
}

// SetActionSink registers the receiver for matched rule actions.
// Call before Start; matches are logged either way.
func (e *Engine) SetActionSink(sink ActionSink) {
	e.actions = sink
}

// Enqueue admits an email into the pipeline, failing fast with
// ErrBackpressure when the queue is at capacity.
func (e *Engine) Enqueue(email *EmailRecord) (*Handle, error) {
	return e.scheduler.Enqueue(email)
}

// Scheduler exposes the scheduler for stats and deferred draining.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Rules exposes the rule engine for promotion, disabling, feedback.
func (e *Engine) Rules() *RuleEngine { return e.rules }

// Dispatcher exposes the dispatcher for stats.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// processEmail is the full per-email pipeline a worker runs: rule
// short-circuit, budget-gated classification, rule evaluation. Budget
// or provider failures defer the email for the next cycle instead of
// dropping it.
func (e *Engine) processEmail(ctx context.Context, email *EmailRecord) error {
	if err := ValidateEmail(email); err != nil {
		e.logger.Warn("skipping malformed email", zap.String("email_id", email.ID), zap.Error(err))
		return err
	}

	// A confident active rule over email-only conditions can act
	// before, and instead of, a model call.
	if match, err := e.rules.ShortCircuit(ctx, email); err == nil && match != nil {
		e.logger.Info("rule short-circuited classification",
			zap.String("email_id", email.ID),
			zap.String("rule_id", match.RuleID))
		e.emitActions(email, match)
		return nil
	}

	result, err := e.dispatcher.Classify(ctx, email)
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) || errors.Is(err, ErrProviderUnavailable) {
			e.scheduler.Defer(email)
			return err
		}
		return err
	}

	match, err := e.rules.Evaluate(ctx, email, result)
	if err != nil {
		e.logger.Error("rule evaluation failed",
			zap.String("email_id", email.ID), zap.Error(err))
	} else if match != nil {
		e.emitActions(email, match)
	}

	return nil
}

// emitActions surfaces a matched rule's actions to the operator log
// and to the registered sink.
func (e *Engine) emitActions(email *EmailRecord, match *MatchResult) {
	types := make([]string, len(match.Actions))
	for i, a := range match.Actions {
		types[i] = a.Type
	}
	e.logger.Info("rule actions matched",
		zap.String("email_id", email.ID),
		zap.String("rule_id", match.RuleID),
		zap.String("execution_id", match.ExecutionID),
		zap.Strings("actions", types),
		zap.Bool("requires_confirmation", match.RequiresConfirmation))
	if e.actions != nil {
		e.actions.RuleMatched(email, match)
	}
}

// Feedback resolves a rule execution and feeds the learning loop.
func (e *Engine) Feedback(ctx context.Context, executionID string, success bool, note string) error {
	return e.rules.Feedback(ctx, executionID, success, note)
}

// ConfirmClassification records ground truth for a prediction, feeding
// the optimizer and the sender-importance table.
func (e *Engine) ConfirmClassification(prediction *ClassificationResult, sender, actualCategory string) {
	e.optimizer.Record(prediction, actualCategory)
	e.importance.Observe(sender, actualCategory == CategoryNeedsReply)
}

// RunInsightsPass analyzes the trailing window of committed history
// and appends the resulting insights.
func (e *Engine) RunInsightsPass(ctx context.Context, window time.Duration) error {
	to := time.Now()
	history, err := e.store.HistoryByTimeRange(ctx, to.Add(-window), to)
	if err != nil {
		return err
	}
	for _, insight := range e.insights.Analyze(history) {
		if err := e.store.AppendInsight(ctx, insight); err != nil {
			e.logger.Error("failed to append insight", zap.Error(err))
		}
	}
	return nil
}

// RunMiningPass mines the trailing window of committed history and
// registers surviving candidates as proposed rules.
func (e *Engine) RunMiningPass(ctx context.Context, window time.Duration) error {
	to := time.Now()
	history, err := e.store.HistoryByTimeRange(ctx, to.Add(-window), to)
	if err != nil {
		return err
	}
	for _, candidate := range e.miner.Mine(history) {
		if err := e.rules.AddRule(ctx, candidate); err != nil {
			e.logger.Error("failed to register mined rule", zap.Error(err))
		}
	}
	return nil
}
