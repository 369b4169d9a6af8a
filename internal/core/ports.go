package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced across the engine.
var (
	// ErrBudgetExhausted means both tiers were denied a reservation.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrProviderUnavailable means the external classifier failed on
	// both tiers (network error, timeout, or open circuit).
	ErrProviderUnavailable = errors.New("model provider unavailable")
	// ErrBackpressure is returned by Enqueue when the queue is full.
	ErrBackpressure = errors.New("queue at capacity")
	// ErrInvalidEmail is returned for malformed or empty email content.
	ErrInvalidEmail = errors.New("invalid email content")
	// ErrCacheMiss is returned by cache lookups with no fresh entry.
	ErrCacheMiss = errors.New("cache miss")
	// ErrNotFound is returned for unknown rule or execution ids.
	ErrNotFound = errors.New("not found")
)

// TierResponse is the raw classifier output for one call.
type TierResponse struct {
	Category   string
	Urgency    string
	Confidence float64
}

// ModelProvider is the external classifier consumed by the dispatcher.
// Implementations carry a deterministic per-call cost used by the
// budget ledger.
type ModelProvider interface {
	// Classify classifies the email content and returns the label triple.
	Classify(ctx context.Context, email *EmailRecord) (*TierResponse, error)

	// CostPerCall returns the deterministic cost of one call.
	CostPerCall() float64
}

// CacheRepository stores classification results keyed by content
// fingerprint. Lookups never return an expired entry.
type CacheRepository interface {
	Get(ctx context.Context, fingerprint string) (*ClassificationResult, error)
	Set(ctx context.Context, fingerprint string, result *ClassificationResult, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string) error

	// Cleanup removes expired entries.
	Cleanup(ctx context.Context) error
}

// ActionSink receives the actions of a matched rule so the hosting
// process can carry them out, or queue them for confirmation when the
// match requires one.
type ActionSink interface {
	RuleMatched(email *EmailRecord, match *MatchResult)
}

// ClassificationStore persists classification results.
type ClassificationStore interface {
	UpsertClassification(ctx context.Context, result *ClassificationResult) error
	ClassificationsByTimeRange(ctx context.Context, from, to time.Time) ([]*ClassificationResult, error)
	ClassificationsBySender(ctx context.Context, sender string) ([]*ClassificationResult, error)
}

// RuleStore persists automation rules.
type RuleStore interface {
	UpsertRule(ctx context.Context, rule *Rule) error
	Rules(ctx context.Context) ([]*Rule, error)
}

// ExecutionStore persists rule executions.
type ExecutionStore interface {
	UpsertExecution(ctx context.Context, exec *Execution) error
	ExecutionsByTimeRange(ctx context.Context, from, to time.Time) ([]*Execution, error)

	// PendingExecutions returns executions still awaiting feedback.
	PendingExecutions(ctx context.Context) ([]*Execution, error)
}

// InsightStore persists generated insights, append-only.
type InsightStore interface {
	AppendInsight(ctx context.Context, insight *Insight) error
	InsightsByTimeRange(ctx context.Context, from, to time.Time) ([]*Insight, error)
}

// HistoryStore supplies classified-and-actioned history to the miner
// and the insights engine.
type HistoryStore interface {
	HistoryByTimeRange(ctx context.Context, from, to time.Time) ([]*HistoryRecord, error)
}

// Store aggregates the persistence obligations of the storage
// collaborator.
type Store interface {
	ClassificationStore
	RuleStore
	ExecutionStore
	InsightStore
	HistoryStore
}
