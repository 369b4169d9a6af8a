package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RulesConfig holds the learning-loop tuning knobs.
type RulesConfig struct {
	// AdjustmentRate is the step size of the confidence update.
	AdjustmentRate float64

	// SuccessRateThreshold flags a rule for review when its rolling
	// success rate drops below it.
	SuccessRateThreshold float64

	// SuccessRateWindow is how many recent executions the rolling
	// success rate spans.
	SuccessRateWindow int

	// AutoActThreshold gates whether a matched rule's actions run
	// without confirmation. Below it the execution is still recorded
	// but the actions are returned as suggestions.
	AutoActThreshold float64
}

// DefaultRulesConfig mirrors the documented defaults.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		AdjustmentRate:       0.05,
		SuccessRateThreshold: 0.8,
		SuccessRateWindow:    10,
		AutoActThreshold:     0.85,
	}
}

// RuleEngine evaluates active rules against classified emails and
// adjusts each rule's confidence from execution outcomes.
type RuleEngine struct {
	cfg    RulesConfig
	logger *zap.Logger

	ruleStore RuleStore
	execStore ExecutionStore

	mu         sync.RWMutex
	rules      map[string]*Rule
	executions map[string]*Execution
}

// NewRuleEngine creates a rule engine. Stores may be nil in tests.
func NewRuleEngine(cfg RulesConfig, ruleStore RuleStore, execStore ExecutionStore, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		cfg:        cfg,
		logger:     logger,
		ruleStore:  ruleStore,
		execStore:  execStore,
		rules:      make(map[string]*Rule),
		executions: make(map[string]*Execution),
	}
}

// Load restores persisted rules and still-pending executions into
// memory, so feedback on an execution recorded before a restart keeps
// feeding the learning loop.
func (e *RuleEngine) Load(ctx context.Context) error {
	if e.ruleStore == nil {
		return nil
	}
	rules, err := e.ruleStore.Rules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	var pending []*Execution
	if e.execStore != nil {
		pending, err = e.execStore.PendingExecutions(ctx)
		if err != nil {
			return fmt.Errorf("load pending executions: %w", err)
		}
	}

	e.mu.Lock()
	for _, r := range rules {
		e.rules[r.ID] = r
	}
	for _, exec := range pending {
		e.executions[exec.ID] = exec
	}
	e.mu.Unlock()

	e.logger.Info("loaded automation rules",
		zap.Int("count", len(rules)),
		zap.Int("pending_executions", len(pending)))
	return nil
}

// AddRule registers a rule (typically a mined candidate). A missing id
// or status gets defaults. Re-mining the same pattern is a no-op: a
// rule with identical conditions and actions is not added twice.
func (e *RuleEngine) AddRule(ctx context.Context, rule *Rule) error {
	e.mu.RLock()
	for _, existing := range e.rules {
		if equivalentRules(existing, rule) {
			e.mu.RUnlock()
			return nil
		}
	}
	e.mu.RUnlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Status == "" {
		rule.Status = RuleProposed
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	e.mu.Lock()
	e.rules[rule.ID] = rule
	snapshot := *rule
	e.mu.Unlock()

	return e.persistRule(ctx, snapshot)
}

// PromoteRule activates a proposed rule. Activation is always an
// explicit external decision, never part of mining or learning.
func (e *RuleEngine) PromoteRule(ctx context.Context, id string) error {
	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if rule.Status == RuleDisabled {
		e.mu.Unlock()
		return fmt.Errorf("rule %s is disabled: %w", id, ErrNotFound)
	}
	rule.Status = RuleActive
	snapshot := *rule
	e.mu.Unlock()

	e.logger.Info("rule promoted to active", zap.String("rule_id", id))
	return e.persistRule(ctx, snapshot)
}

// DisableRule deactivates a rule. Terminal for the learning loop;
// rules are never deleted so their history stays auditable.
func (e *RuleEngine) DisableRule(ctx context.Context, id string) error {
	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	rule.Status = RuleDisabled
	snapshot := *rule
	e.mu.Unlock()

	e.logger.Info("rule disabled", zap.String("rule_id", id))
	return e.persistRule(ctx, snapshot)
}

// Evaluate walks active rules in descending confidence order and fires
// the first full match, recording a pending Execution. Only one rule
// fires per email so matched actions never conflict; ordering by
// confidence makes multi-match resolution deterministic.
func (e *RuleEngine) Evaluate(ctx context.Context, email *EmailRecord, result *ClassificationResult) (*MatchResult, error) {
	// Snapshot the active rules under the lock; evaluation and the
	// store calls below run against the copies.
	e.mu.RLock()
	active := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Status == RuleActive {
			active = append(active, *r)
		}
	}
	e.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].Confidence != active[j].Confidence {
			return active[i].Confidence > active[j].Confidence
		}
		return active[i].ID < active[j].ID
	})

	for i := range active {
		rule := &active[i]
		if !matchesAll(rule.Conditions, email, result) {
			continue
		}

		exec := &Execution{
			ID:        uuid.NewString(),
			RuleID:    rule.ID,
			EmailID:   email.ID,
			MatchedAt: time.Now(),
			Outcome:   OutcomePending,
		}
		pending := *exec

		e.mu.Lock()
		e.executions[exec.ID] = exec
		if live, ok := e.rules[rule.ID]; ok {
			live.UsageCount++
		}
		e.mu.Unlock()

		if e.execStore != nil {
			if err := e.execStore.UpsertExecution(ctx, &pending); err != nil {
				e.logger.Error("failed to persist execution", zap.Error(err))
			}
		}

		e.logger.Debug("rule matched",
			zap.String("rule_id", rule.ID),
			zap.String("email_id", email.ID),
			zap.Float64("confidence", rule.Confidence))

		return &MatchResult{
			RuleID:               rule.ID,
			ExecutionID:          exec.ID,
			Actions:              rule.Actions,
			RequiresConfirmation: rule.Confidence < e.cfg.AutoActThreshold,
		}, nil
	}

	return nil, nil
}

// ShortCircuit fires the most confident active rule whose conditions
// reference email attributes alone and whose confidence clears the
// auto-act threshold, letting automation skip the model call entirely.
func (e *RuleEngine) ShortCircuit(ctx context.Context, email *EmailRecord) (*MatchResult, error) {
	e.mu.RLock()
	candidates := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Status == RuleActive && r.Confidence >= e.cfg.AutoActThreshold && EmailOnly(r.Conditions) {
			candidates = append(candidates, *r)
		}
	}
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].ID < candidates[j].ID
	})

	for i := range candidates {
		rule := &candidates[i]
		if !matchesAll(rule.Conditions, email, nil) {
			continue
		}

		exec := &Execution{
			ID:        uuid.NewString(),
			RuleID:    rule.ID,
			EmailID:   email.ID,
			MatchedAt: time.Now(),
			Outcome:   OutcomePending,
		}
		pending := *exec

		e.mu.Lock()
		e.executions[exec.ID] = exec
		if live, ok := e.rules[rule.ID]; ok {
			live.UsageCount++
		}
		e.mu.Unlock()

		if e.execStore != nil {
			if err := e.execStore.UpsertExecution(ctx, &pending); err != nil {
				e.logger.Error("failed to persist execution", zap.Error(err))
			}
		}

		return &MatchResult{
			RuleID:      rule.ID,
			ExecutionID: exec.ID,
			Actions:     rule.Actions,
		}, nil
	}
	return nil, nil
}

func equivalentRules(a, b *Rule) bool {
	if len(a.Conditions) != len(b.Conditions) || len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Conditions {
		if a.Conditions[i] != b.Conditions[i] {
			return false
		}
	}
	for i := range a.Actions {
		if a.Actions[i] != b.Actions[i] {
			return false
		}
	}
	return true
}

// Feedback closes an execution exactly once and adjusts the owning
// rule's confidence:
//
//	confidence += rate * (1 - confidence)  on success
//	confidence -= rate * confidence        on failure
//
// clamped to [0,1]. A rolling success rate below the threshold flags
// the rule for review; disabling remains an explicit action so one bad
// streak cannot silently deactivate automation.
func (e *RuleEngine) Feedback(ctx context.Context, executionID string, success bool, note string) error {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if exec.Outcome != OutcomePending {
		e.mu.Unlock()
		return fmt.Errorf("execution %s already resolved: %w", executionID, ErrNotFound)
	}

	if success {
		exec.Outcome = OutcomeSuccess
	} else {
		exec.Outcome = OutcomeFailure
	}
	exec.Feedback = note

	rule := e.rules[exec.RuleID]
	if rule != nil {
		if success {
			rule.Confidence += e.cfg.AdjustmentRate * (1 - rule.Confidence)
			rule.SuccessCount++
		} else {
			rule.Confidence -= e.cfg.AdjustmentRate * rule.Confidence
		}
		rule.Confidence = clamp01(rule.Confidence)

		rule.recentOutcomes = append(rule.recentOutcomes, success)
		if len(rule.recentOutcomes) > e.cfg.SuccessRateWindow {
			rule.recentOutcomes = rule.recentOutcomes[len(rule.recentOutcomes)-e.cfg.SuccessRateWindow:]
		}
		if len(rule.recentOutcomes) >= e.cfg.SuccessRateWindow &&
			successRate(rule.recentOutcomes) < e.cfg.SuccessRateThreshold {
			if !rule.FlaggedForReview {
				rule.FlaggedForReview = true
				e.logger.Warn("rule flagged for review",
					zap.String("rule_id", rule.ID),
					zap.Float64("rolling_success_rate", successRate(rule.recentOutcomes)))
			}
		}
	}
	execSnapshot := *exec
	var ruleSnapshot Rule
	if rule != nil {
		ruleSnapshot = *rule
	}
	e.mu.Unlock()

	if e.execStore != nil {
		if err := e.execStore.UpsertExecution(ctx, &execSnapshot); err != nil {
			e.logger.Error("failed to persist execution outcome", zap.Error(err))
		}
	}
	if rule != nil {
		return e.persistRule(ctx, ruleSnapshot)
	}
	return nil
}

// Rule returns a copy of the rule with the given id.
func (e *RuleEngine) Rule(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return *rule, nil
}

// Execution returns a copy of the execution with the given id.
func (e *RuleEngine) Execution(id string) (Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return *exec, nil
}

// persistRule writes a snapshot taken under e.mu. The live rule keeps
// mutating on the worker path while the store call runs, so the store
// must never see the shared pointer.
func (e *RuleEngine) persistRule(ctx context.Context, snapshot Rule) error {
	if e.ruleStore == nil {
		return nil
	}
	if err := e.ruleStore.UpsertRule(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist rule %s: %w", snapshot.ID, err)
	}
	return nil
}

// matchesAll evaluates the AND-combined conditions. Conditions over
// classification fields fail when no classification is available.
func matchesAll(conditions []Condition, email *EmailRecord, result *ClassificationResult) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !matches(c, email, result) {
			return false
		}
	}
	return true
}

func matches(c Condition, email *EmailRecord, result *ClassificationResult) bool {
	var field string
	switch c.Field {
	case FieldSender:
		field = email.From
	case FieldSenderDomain:
		field = senderDomain(email.From)
	case FieldSubject:
		field = email.Subject
	case FieldBody:
		field = email.Body
	case FieldTag:
		for _, tag := range email.Tags {
			if strings.EqualFold(tag, c.Value) {
				return true
			}
		}
		return false
	case FieldCategory:
		if result == nil {
			return false
		}
		field = result.Category
	case FieldUrgency:
		if result == nil {
			return false
		}
		if c.Op == OpGte {
			return result.Urgency >= ParseUrgency(c.Value)
		}
		field = result.Urgency.String()
	default:
		return false
	}

	switch c.Op {
	case OpEquals:
		return strings.EqualFold(field, c.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(c.Value))
	case OpPrefix:
		return strings.HasPrefix(strings.ToLower(field), strings.ToLower(c.Value))
	default:
		return false
	}
}

// EmailOnly reports whether every condition of the rule references
// email attributes alone, so the rule can short-circuit a model call.
func EmailOnly(conditions []Condition) bool {
	for _, c := range conditions {
		if c.Field == FieldCategory || c.Field == FieldUrgency {
			return false
		}
	}
	return len(conditions) > 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func successRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 1
	}
	ok := 0
	for _, s := range outcomes {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes))
}
