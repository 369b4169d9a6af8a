package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// memStore is an in-memory Store for engine-level tests.
type memStore struct {
	mu              sync.Mutex
	classifications map[string]*ClassificationResult
	rules           map[string]*Rule
	executions      map[string]*Execution
	insights        []*Insight
	history         []*HistoryRecord
}

func newMemStore() *memStore {
	return &memStore{
		classifications: make(map[string]*ClassificationResult),
		rules:           make(map[string]*Rule),
		executions:      make(map[string]*Execution),
	}
}

func (s *memStore) UpsertClassification(ctx context.Context, r *ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications[r.EmailID] = r
	return nil
}

func (s *memStore) ClassificationsByTimeRange(ctx context.Context, from, to time.Time) ([]*ClassificationResult, error) {
	return nil, nil
}

func (s *memStore) ClassificationsBySender(ctx context.Context, sender string) ([]*ClassificationResult, error) {
	return nil, nil
}

func (s *memStore) UpsertRule(ctx context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *memStore) Rules(ctx context.Context) ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) UpsertExecution(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = e
	return nil
}

func (s *memStore) ExecutionsByTimeRange(ctx context.Context, from, to time.Time) ([]*Execution, error) {
	return nil, nil
}

func (s *memStore) PendingExecutions(ctx context.Context) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*Execution
	for _, e := range s.executions {
		if e.Outcome == OutcomePending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (s *memStore) AppendInsight(ctx context.Context, in *Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, in)
	return nil
}

func (s *memStore) InsightsByTimeRange(ctx context.Context, from, to time.Time) ([]*Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insights, nil
}

func (s *memStore) HistoryByTimeRange(ctx context.Context, from, to time.Time) ([]*HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *memStore) insightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.insights)
}

func newTestEngine(high, low ModelProvider, store *memStore) *Engine {
	logger := zap.NewNop()
	ledger := NewBudgetLedger(10.0, 200.0, logger)
	cache := newFakeCache()
	dispatcher := NewDispatcher(high, low, ledger, cache, store, DispatcherConfig{
		HighTierFloor:        1.0,
		CallTimeout:          time.Second,
		CacheTTL:             time.Hour,
		FingerprintBodyBytes: 256,
	}, logger)
	rules := NewRuleEngine(DefaultRulesConfig(), store, store, logger)
	cfg := DefaultSchedulerConfig()
	cfg.NumWorkers = 2
	return NewEngine(ledger, cache, dispatcher, rules,
		NewOptimizer(logger),
		NewInsightsEngine(DefaultInsightsConfig(), logger),
		NewRuleMiner(DefaultMinerConfig(), logger),
		store, NewSenderImportance(), cfg, logger)
}

func TestEngineClassifiesAndPersists(t *testing.T) {
	store := newMemStore()
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	e := newTestEngine(high, low, store)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := e.Enqueue(testEmail("boss@corp.com", "Q3 numbers", "review please")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.classifications)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("classification never persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	e.Stop()

	if high.callCount() != 1 {
		t.Fatalf("high-tier calls = %d, want 1", high.callCount())
	}
}

func TestEngineShortCircuitSkipsModel(t *testing.T) {
	store := newMemStore()
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	e := newTestEngine(high, low, store)
	ctx := context.Background()

	rule := senderRule("auto", "list@blast.com", 0.9, ActionArchive)
	if err := e.Rules().AddRule(ctx, rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	if err := e.processEmail(ctx, testEmail("list@blast.com", "sale", "body")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if high.callCount()+low.callCount() != 0 {
		t.Fatal("model called despite a confident email-only rule")
	}
	got, err := e.Rules().Rule("auto")
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	if got.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", got.UsageCount)
	}
}

// captureSink records every match handed to the engine's action sink.
type captureSink struct {
	mu      sync.Mutex
	matches []*MatchResult
}

func (s *captureSink) RuleMatched(email *EmailRecord, match *MatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, match)
}

func TestEngineSurfacesMatchedActions(t *testing.T) {
	store := newMemStore()
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	e := newTestEngine(high, low, store)
	sink := &captureSink{}
	e.SetActionSink(sink)
	ctx := context.Background()

	// Classification-dependent conditions force the model call; the
	// evaluation match must still reach the sink.
	rule := activeRule("label", 0.7,
		[]Condition{{Field: FieldCategory, Op: OpEquals, Value: CategoryNeedsReply}},
		[]Action{{Type: ActionLabel, Arg: "reply"}})
	if err := e.Rules().AddRule(ctx, rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	if err := e.processEmail(ctx, testEmail("boss@corp.com", "numbers", "review please")); err != nil {
		t.Fatalf("process: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.matches) != 1 {
		t.Fatalf("sink received %d matches, want 1", len(sink.matches))
	}
	got := sink.matches[0]
	if got.RuleID != "label" {
		t.Fatalf("sink match rule = %s, want label", got.RuleID)
	}
	if len(got.Actions) != 1 || got.Actions[0].Type != ActionLabel {
		t.Fatalf("sink actions = %+v, want the label action", got.Actions)
	}
	if !got.RequiresConfirmation {
		t.Fatal("match at 0.7 confidence should surface as requiring confirmation")
	}
}

func TestEngineDefersOnBudgetExhaustion(t *testing.T) {
	store := newMemStore()
	high := &fakeProvider{cost: 0.02, response: needsReply(0.95)}
	low := &fakeProvider{cost: 0.002, response: needsReply(0.7)}
	e := newTestEngine(high, low, store)

	// Drain the whole daily budget.
	r, err := e.ledger.Reserve(10.0)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Commit(10.0)

	err = e.processEmail(context.Background(), testEmail("a@b.com", "hi", "body"))
	if err == nil {
		t.Fatal("expected a budget error")
	}
	if stats := e.Scheduler().Stats(); stats.Deferred != 1 {
		t.Fatalf("deferred = %d, want 1", stats.Deferred)
	}
}

func TestEngineRunInsightsPass(t *testing.T) {
	store := newMemStore()
	at := time.Now()
	for i := 0; i < 6; i++ {
		store.history = append(store.history, historyRecord("digest@news.com", CategoryNewsletter, "", at))
	}
	e := newTestEngine(
		&fakeProvider{cost: 0.02, response: needsReply(0.9)},
		&fakeProvider{cost: 0.002, response: needsReply(0.7)},
		store)

	if err := e.RunInsightsPass(context.Background(), time.Hour); err != nil {
		t.Fatalf("insights pass: %v", err)
	}
	if store.insightCount() == 0 {
		t.Fatal("no insights persisted from a patterned window")
	}
}

func TestEngineRunMiningPassProposesRules(t *testing.T) {
	store := newMemStore()
	at := time.Now()
	for i := 0; i < 8; i++ {
		store.history = append(store.history, historyRecord("news@letter.com", CategoryNewsletter, ActionArchive, at))
	}
	e := newTestEngine(
		&fakeProvider{cost: 0.02, response: needsReply(0.9)},
		&fakeProvider{cost: 0.002, response: needsReply(0.7)},
		store)

	if err := e.RunMiningPass(context.Background(), time.Hour); err != nil {
		t.Fatalf("mining pass: %v", err)
	}

	rules, _ := store.Rules(context.Background())
	if len(rules) != 1 {
		t.Fatalf("persisted rules = %d, want 1", len(rules))
	}
	if rules[0].Status != RuleProposed {
		t.Fatalf("status = %s, want proposed", rules[0].Status)
	}

	// A second pass over the same history must not duplicate the rule.
	if err := e.RunMiningPass(context.Background(), time.Hour); err != nil {
		t.Fatalf("second mining pass: %v", err)
	}
	rules, _ = store.Rules(context.Background())
	if len(rules) != 1 {
		t.Fatalf("after re-mining: %d rules, want 1", len(rules))
	}
}
