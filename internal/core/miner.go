package core

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinerConfig holds the pattern mining thresholds.
type MinerConfig struct {
	// MinPatternFrequency is the minimum number of occurrences of the
	// dominant outcome a sender group needs before it can become a rule.
	MinPatternFrequency int

	// MinPatternConfidence is the minimum internal consistency (share
	// of the group with the same outcome).
	MinPatternConfidence float64
}

// DefaultMinerConfig mirrors the documented defaults.
func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		MinPatternFrequency:  5,
		MinPatternConfidence: 0.75,
	}
}

// RuleMiner mines historical classified-and-actioned records for
// recurring (condition, outcome) pairs and proposes candidate rules.
// Mining never activates anything; promotion stays an explicit
// external decision.
type RuleMiner struct {
	cfg    MinerConfig
	logger *zap.Logger
}

// NewRuleMiner creates a miner.
func NewRuleMiner(cfg MinerConfig, logger *zap.Logger) *RuleMiner {
	return &RuleMiner{cfg: cfg, logger: logger}
}

// outcomeKey is the action a history record settled on. Records with
// no explicit action fall back to labeling with their category, so a
// consistently classified sender still yields a pattern.
type outcomeKey struct {
	actionType string
	actionArg  string
}

func recordOutcome(rec *HistoryRecord) (outcomeKey, bool) {
	if rec.ActionTaken != "" {
		return outcomeKey{actionType: rec.ActionTaken}, true
	}
	if rec.Category != "" {
		return outcomeKey{actionType: ActionLabel, actionArg: rec.Category}, true
	}
	return outcomeKey{}, false
}

// Mine groups history by sender, finds each group's dominant outcome,
// and keeps groups whose dominant outcome occurred at least
// MinPatternFrequency times with consistency (dominant / total) of at
// least MinPatternConfidence. One proposed rule is emitted per
// surviving group with confidence equal to the consistency ratio.
func (m *RuleMiner) Mine(history []*HistoryRecord) []*Rule {
	outcomes := make(map[string]map[outcomeKey]int)
	totals := make(map[string]int)

	for _, rec := range history {
		sender := strings.ToLower(strings.TrimSpace(rec.Sender))
		if sender == "" {
			continue
		}
		outcome, ok := recordOutcome(rec)
		if !ok {
			continue
		}
		if outcomes[sender] == nil {
			outcomes[sender] = make(map[outcomeKey]int)
		}
		outcomes[sender][outcome]++
		totals[sender]++
	}

	// Deterministic output order for stable proposals across runs.
	senders := make([]string, 0, len(outcomes))
	for sender := range outcomes {
		senders = append(senders, sender)
	}
	sort.Strings(senders)

	var candidates []*Rule
	for _, sender := range senders {
		outcome, count := dominantOutcome(outcomes[sender])
		if count < m.cfg.MinPatternFrequency {
			continue
		}
		consistency := float64(count) / float64(totals[sender])
		if consistency < m.cfg.MinPatternConfidence {
			continue
		}

		rule := &Rule{
			ID: uuid.NewString(),
			Conditions: []Condition{
				{Field: FieldSender, Op: OpEquals, Value: sender},
			},
			Actions:    []Action{{Type: outcome.actionType, Arg: outcome.actionArg}},
			Confidence: consistency,
			Status:     RuleProposed,
			CreatedAt:  time.Now(),
		}
		candidates = append(candidates, rule)

		m.logger.Info("mined candidate rule",
			zap.String("sender", sender),
			zap.String("action", outcome.actionType),
			zap.String("action_arg", outcome.actionArg),
			zap.Int("frequency", count),
			zap.Float64("consistency", consistency))
	}

	return candidates
}

// dominantOutcome returns the most frequent outcome and its count,
// tie-broken lexicographically for determinism.
func dominantOutcome(counts map[outcomeKey]int) (outcomeKey, int) {
	var best outcomeKey
	bestCount := 0
	for outcome, count := range counts {
		if count > bestCount {
			best = outcome
			bestCount = count
			continue
		}
		if count == bestCount {
			if outcome.actionType < best.actionType ||
				(outcome.actionType == best.actionType && outcome.actionArg < best.actionArg) {
				best = outcome
			}
		}
	}
	return best, bestCount
}
