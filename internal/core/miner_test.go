package core

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func historyRecord(sender, category, action string, at time.Time) *HistoryRecord {
	return &HistoryRecord{
		EmailID:     fmt.Sprintf("%s-%d", sender, at.UnixNano()),
		Sender:      sender,
		Subject:     "subject",
		Category:    category,
		Urgency:     UrgencyMedium,
		Confidence:  0.9,
		ActionTaken: action,
		OccurredAt:  at,
	}
}

func TestMinerProposesDominantPattern(t *testing.T) {
	m := NewRuleMiner(DefaultMinerConfig(), zap.NewNop())

	// 9 of 10 emails from one sender classified NEEDS_REPLY.
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var history []*HistoryRecord
	for i := 0; i < 9; i++ {
		history = append(history, historyRecord("boss@corp.com", CategoryNeedsReply, "", at.Add(time.Duration(i)*time.Hour)))
	}
	history = append(history, historyRecord("boss@corp.com", CategoryFYI, "", at.Add(10*time.Hour)))

	rules := m.Mine(history)
	if len(rules) != 1 {
		t.Fatalf("mined %d rules, want 1", len(rules))
	}

	rule := rules[0]
	if rule.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9 (9 of 10)", rule.Confidence)
	}
	if rule.Status != RuleProposed {
		t.Fatalf("status = %s; mining must never activate", rule.Status)
	}
	if len(rule.Conditions) != 1 || rule.Conditions[0].Value != "boss@corp.com" {
		t.Fatalf("conditions = %+v, want sender equals boss@corp.com", rule.Conditions)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Type != ActionLabel || rule.Actions[0].Arg != CategoryNeedsReply {
		t.Fatalf("actions = %+v, want label NEEDS_REPLY", rule.Actions)
	}
}

func TestMinerPrefersExplicitActions(t *testing.T) {
	m := NewRuleMiner(DefaultMinerConfig(), zap.NewNop())

	at := time.Now()
	var history []*HistoryRecord
	for i := 0; i < 6; i++ {
		history = append(history, historyRecord("news@letter.com", CategoryNewsletter, ActionArchive, at))
	}

	rules := m.Mine(history)
	if len(rules) != 1 {
		t.Fatalf("mined %d rules, want 1", len(rules))
	}
	if rules[0].Actions[0].Type != ActionArchive {
		t.Fatalf("action = %s, want the taken action over the label fallback", rules[0].Actions[0].Type)
	}
	if rules[0].Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", rules[0].Confidence)
	}
}

func TestMinerThresholds(t *testing.T) {
	m := NewRuleMiner(DefaultMinerConfig(), zap.NewNop())
	at := time.Now()

	t.Run("below frequency", func(t *testing.T) {
		var history []*HistoryRecord
		for i := 0; i < 4; i++ {
			history = append(history, historyRecord("rare@x.com", CategorySpam, "", at))
		}
		if rules := m.Mine(history); len(rules) != 0 {
			t.Fatalf("mined %d rules from 4 occurrences, want 0", len(rules))
		}
	})

	t.Run("below consistency", func(t *testing.T) {
		// 5 of 10: frequency is met but consistency 0.5 < 0.75.
		var history []*HistoryRecord
		for i := 0; i < 5; i++ {
			history = append(history, historyRecord("mixed@x.com", CategorySpam, "", at))
			history = append(history, historyRecord("mixed@x.com", CategoryNeedsReply, "", at))
		}
		if rules := m.Mine(history); len(rules) != 0 {
			t.Fatalf("mined %d rules from an inconsistent sender, want 0", len(rules))
		}
	})

	t.Run("skips blank senders", func(t *testing.T) {
		var history []*HistoryRecord
		for i := 0; i < 6; i++ {
			history = append(history, historyRecord("", CategorySpam, "", at))
		}
		if rules := m.Mine(history); len(rules) != 0 {
			t.Fatalf("mined %d rules from blank senders, want 0", len(rules))
		}
	})
}

func TestMinerDeterministicOrder(t *testing.T) {
	m := NewRuleMiner(DefaultMinerConfig(), zap.NewNop())
	at := time.Now()

	var history []*HistoryRecord
	for _, sender := range []string{"z@z.com", "a@a.com", "m@m.com"} {
		for i := 0; i < 5; i++ {
			history = append(history, historyRecord(sender, CategoryNewsletter, "", at))
		}
	}

	rules := m.Mine(history)
	if len(rules) != 3 {
		t.Fatalf("mined %d rules, want 3", len(rules))
	}
	want := []string{"a@a.com", "m@m.com", "z@z.com"}
	for i, rule := range rules {
		if rule.Conditions[0].Value != want[i] {
			t.Fatalf("rule %d for %s, want %s", i, rule.Conditions[0].Value, want[i])
		}
	}
}
