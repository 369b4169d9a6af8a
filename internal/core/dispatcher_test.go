package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	cost     float64
	response *TierResponse
	err      error
}

func (p *fakeProvider) Classify(ctx context.Context, email *EmailRecord) (*TierResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

func (p *fakeProvider) CostPerCall() float64 { return p.cost }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*ClassificationResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*ClassificationResult)}
}

func (c *fakeCache) Get(ctx context.Context, fp string) (*ClassificationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.entries[fp]; ok {
		return r, nil
	}
	return nil, ErrCacheMiss
}

func (c *fakeCache) Set(ctx context.Context, fp string, r *ClassificationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = r
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, fp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
	return nil
}

func (c *fakeCache) Cleanup(ctx context.Context) error { return nil }

func newTestDispatcher(high, low ModelProvider, ledger *BudgetLedger, cache CacheRepository) *Dispatcher {
	return NewDispatcher(high, low, ledger, cache, nil, DispatcherConfig{
		HighTierFloor:        1.0,
		CallTimeout:          time.Second,
		CacheTTL:             time.Hour,
		FingerprintBodyBytes: 256,
	}, zap.NewNop())
}

func needsReply(confidence float64) *TierResponse {
	return &TierResponse{Category: CategoryNeedsReply, Urgency: "HIGH", Confidence: confidence}
}

func TestDispatcherCacheHitSpendsNothing(t *testing.T) {
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	ledger := NewBudgetLedger(10.0, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	email := testEmail("boss@corp.com", "Q3 numbers", "Please review before Friday.")

	first, err := d.Classify(context.Background(), email)
	if err != nil {
		t.Fatalf("first classify: %v", err)
	}
	spentAfterFirst := ledger.DailyUsage()

	second, err := d.Classify(context.Background(), email)
	if err != nil {
		t.Fatalf("second classify: %v", err)
	}

	if high.callCount()+low.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", high.callCount()+low.callCount())
	}
	if ledger.DailyUsage() != spentAfterFirst {
		t.Fatal("cache hit changed budget usage")
	}
	if first.Category != second.Category || first.Tier != second.Tier {
		t.Fatal("cache hit returned a different result")
	}
	if stats := d.Stats(); stats.CacheHits != 1 {
		t.Fatalf("cache hits = %d, want 1", stats.CacheHits)
	}
}

func TestDispatcherPrefersHighTier(t *testing.T) {
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	ledger := NewBudgetLedger(10.0, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	result, err := d.Classify(context.Background(), testEmail("a@b.com", "hi", "body"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Tier != TierHigh {
		t.Fatalf("tier = %s, want high", result.Tier)
	}
	if low.callCount() != 0 {
		t.Fatal("low tier called while budget was plentiful")
	}
}

func TestDispatcherFallsBackBelowFloor(t *testing.T) {
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	// Remaining allowance minus the high cost sits below the floor.
	ledger := NewBudgetLedger(1.0, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	result, err := d.Classify(context.Background(), testEmail("a@b.com", "hi", "body"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Tier != TierLow {
		t.Fatalf("tier = %s, want low", result.Tier)
	}
	if high.callCount() != 0 {
		t.Fatal("high tier called below the floor")
	}
	if result.Cost != 0.002 {
		t.Fatalf("recorded cost = %v, want low-tier cost", result.Cost)
	}
}

func TestDispatcherCrossTierRetryOnProviderFailure(t *testing.T) {
	high := &fakeProvider{cost: 0.02, err: errors.New("throttled")}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	ledger := NewBudgetLedger(10.0, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	result, err := d.Classify(context.Background(), testEmail("a@b.com", "hi", "body"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Tier != TierLow {
		t.Fatalf("tier = %s, want low after high-tier failure", result.Tier)
	}
	// The failed high-tier reservation must have been refunded.
	if usage := ledger.DailyUsage(); usage < 0.0019 || usage > 0.0021 {
		t.Fatalf("daily usage = %v, want only the low-tier cost", usage)
	}
}

func TestDispatcherBothTiersUnavailable(t *testing.T) {
	high := &fakeProvider{cost: 0.02, err: errors.New("down")}
	low := &fakeProvider{cost: 0.002, err: errors.New("down")}
	ledger := NewBudgetLedger(10.0, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	_, err := d.Classify(context.Background(), testEmail("a@b.com", "hi", "body"))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("got %v, want ErrProviderUnavailable", err)
	}
	if usage := ledger.DailyUsage(); usage != 0 {
		t.Fatalf("daily usage = %v, want 0 after refunds", usage)
	}
}

func TestDispatcherBudgetExhaustedBothTiers(t *testing.T) {
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	ledger := NewBudgetLedger(0.001, 200.0, zap.NewNop())
	d := newTestDispatcher(high, low, ledger, newFakeCache())

	_, err := d.Classify(context.Background(), testEmail("a@b.com", "hi", "body"))
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("got %v, want ErrBudgetExhausted", err)
	}
	if high.callCount()+low.callCount() != 0 {
		t.Fatal("provider called with no budget")
	}
}

func TestDispatcherRejectsInvalidEmail(t *testing.T) {
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	d := newTestDispatcher(high, low, NewBudgetLedger(10, 200, zap.NewNop()), newFakeCache())

	_, err := d.Classify(context.Background(), &EmailRecord{ID: "x"})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("got %v, want ErrInvalidEmail", err)
	}
}
