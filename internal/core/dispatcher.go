package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DispatcherConfig holds the dispatcher tuning knobs.
type DispatcherConfig struct {
	// HighTierFloor preserves daily allowance: once the remaining
	// daily budget drops below it, calls route to the low tier even
	// if budget technically remains.
	HighTierFloor float64

	// CallTimeout bounds a single external classifier call.
	CallTimeout time.Duration

	// CacheTTL is the freshness window for cached results.
	CacheTTL time.Duration

	// FingerprintBodyBytes is how much normalized body feeds the
	// fingerprint.
	FingerprintBodyBytes int
}

// DispatcherStats is a point-in-time snapshot of dispatcher counters.
type DispatcherStats struct {
	Calls      int64
	CacheHits  int64
	HighCalls  int64
	LowCalls   int64
	Failures   int64
	TotalSpend float64
}

// Dispatcher selects a model tier under budget constraints, calls the
// external classifier, records cost, and populates the cache.
type Dispatcher struct {
	providers map[Tier]ModelProvider
	breakers  map[Tier]*gobreaker.CircuitBreaker
	ledger    *BudgetLedger
	cache     CacheRepository
	store     ClassificationStore
	cfg       DispatcherConfig
	logger    *zap.Logger

	calls     atomic.Int64
	cacheHits atomic.Int64
	highCalls atomic.Int64
	lowCalls  atomic.Int64
	failures  atomic.Int64
}

// NewDispatcher creates a dispatcher over the two provider tiers.
// store may be nil when persistence is handled by the caller.
func NewDispatcher(
	high ModelProvider,
	low ModelProvider,
	ledger *BudgetLedger,
	cache CacheRepository,
	store ClassificationStore,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	breakers := make(map[Tier]*gobreaker.CircuitBreaker, 2)
	for _, tier := range []Tier{TierHigh, TierLow} {
		tier := tier
		breakers[tier] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "classifier-" + string(tier),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("classifier circuit state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}

	return &Dispatcher{
		providers: map[Tier]ModelProvider{TierHigh: high, TierLow: low},
		breakers:  breakers,
		ledger:    ledger,
		cache:     cache,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Classify returns a classification for the email, consulting the
// cache first and spending budget only on a miss. Tier selection is a
// budget-driven fallback: high tier unless its remaining daily
// allowance is below the configured floor, low tier otherwise, with
// one cross-tier retry on provider failure.
func (d *Dispatcher) Classify(ctx context.Context, email *EmailRecord) (*ClassificationResult, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	fp := Fingerprint(email, d.cfg.FingerprintBodyBytes)

	if cached, err := d.cache.Get(ctx, fp); err == nil {
		d.cacheHits.Add(1)
		d.logger.Debug("classification cache hit",
			zap.String("email_id", email.ID),
			zap.String("fingerprint", fp[:12]))
		return cached, nil
	}

	tier := d.pickTier()
	result, err := d.classifyTier(ctx, tier, email)
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) || errors.Is(err, ErrProviderUnavailable) {
			// One retry against the alternate tier before failing.
			result, err = d.classifyTier(ctx, tier.Other(), email)
		}
		if err != nil {
			d.failures.Add(1)
			return nil, err
		}
	}

	if cacheErr := d.cache.Set(ctx, fp, result, d.cfg.CacheTTL); cacheErr != nil {
		d.logger.Error("failed to update classification cache", zap.Error(cacheErr))
	}
	if d.store != nil {
		if storeErr := d.store.UpsertClassification(ctx, result); storeErr != nil {
			d.logger.Error("failed to persist classification", zap.Error(storeErr))
		}
	}

	return result, nil
}

// pickTier routes to the low tier once the remaining daily allowance
// drops below the floor, preserving high-tier budget for the rest of
// the day.
func (d *Dispatcher) pickTier() Tier {
	high := d.providers[TierHigh]
	remaining := d.ledger.DailyRemaining()
	if remaining-high.CostPerCall() < d.cfg.HighTierFloor {
		return TierLow
	}
	return TierHigh
}

// classifyTier reserves budget for one tier, calls it, and commits the
// actual cost on success. The reservation is released on any failure.
func (d *Dispatcher) classifyTier(ctx context.Context, tier Tier, email *EmailRecord) (*ClassificationResult, error) {
	provider := d.providers[tier]

	reservation, err := d.ledger.Reserve(provider.CostPerCall())
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	resp, err := d.breakers[tier].Execute(func() (interface{}, error) {
		return provider.Classify(callCtx, email)
	})
	if err != nil {
		reservation.Release()
		d.logger.Warn("classifier call failed",
			zap.String("tier", string(tier)),
			zap.String("email_id", email.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s tier: %v", ErrProviderUnavailable, tier, err)
	}

	tierResp := resp.(*TierResponse)
	cost := provider.CostPerCall()
	reservation.Commit(cost)

	d.calls.Add(1)
	if tier == TierHigh {
		d.highCalls.Add(1)
	} else {
		d.lowCalls.Add(1)
	}

	return &ClassificationResult{
		EmailID:    email.ID,
		Category:   tierResp.Category,
		Urgency:    ParseUrgency(tierResp.Urgency),
		Confidence: tierResp.Confidence,
		Tier:       tier,
		Cost:       cost,
		CreatedAt:  time.Now(),
	}, nil
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Calls:      d.calls.Load(),
		CacheHits:  d.cacheHits.Load(),
		HighCalls:  d.highCalls.Load(),
		LowCalls:   d.lowCalls.Load(),
		Failures:   d.failures.Load(),
		TotalSpend: d.ledger.MonthlyUsage(),
	}
}
