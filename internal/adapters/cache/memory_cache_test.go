package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inboxpilot/triage/internal/core"
	"go.uber.org/zap"
)

func sampleResult(emailID string) *core.ClassificationResult {
	return &core.ClassificationResult{
		EmailID:    emailID,
		Category:   core.CategoryNewsletter,
		Urgency:    core.UrgencyLow,
		Confidence: 0.92,
		Tier:       core.TierLow,
		Cost:       0.002,
		CreatedAt:  time.Now(),
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), time.Hour)
	defer c.Stop()
	ctx := context.Background()

	if _, err := c.Get(ctx, "fp-1"); !errors.Is(err, core.ErrCacheMiss) {
		t.Fatalf("empty cache get: got %v, want ErrCacheMiss", err)
	}

	want := sampleResult("msg-1")
	if err := c.Set(ctx, "fp-1", want, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := c.Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EmailID != want.EmailID || got.Category != want.Category || got.Tier != want.Tier {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), time.Hour)
	defer c.Stop()
	ctx := context.Background()

	if err := c.Set(ctx, "fp-1", sampleResult("msg-1"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := c.Get(ctx, "fp-1"); !errors.Is(err, core.ErrCacheMiss) {
		t.Fatalf("expired get: got %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), time.Hour)
	defer c.Stop()
	ctx := context.Background()

	if err := c.Set(ctx, "fp-1", sampleResult("msg-1"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "fp-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "fp-1"); !errors.Is(err, core.ErrCacheMiss) {
		t.Fatalf("deleted get: got %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheCleanupDropsExpired(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), time.Hour)
	defer c.Stop()
	ctx := context.Background()

	if err := c.Set(ctx, "stale", sampleResult("msg-1"), time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "fresh", sampleResult("msg-2"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := c.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := c.Get(ctx, "stale"); !errors.Is(err, core.ErrCacheMiss) {
		t.Fatal("stale entry survived cleanup")
	}
	if _, err := c.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh entry lost by cleanup: %v", err)
	}
}
