package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inboxpilot/triage/internal/core"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "triage.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClassificationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	store.NoteEmail(&core.EmailRecord{ID: "msg-1", From: "boss@corp.com", Subject: "numbers"})

	result := &core.ClassificationResult{
		EmailID:    "msg-1",
		Category:   core.CategoryNeedsReply,
		Urgency:    core.UrgencyHigh,
		Confidence: 0.93,
		Tier:       core.TierHigh,
		Cost:       0.02,
		CreatedAt:  at,
	}
	if err := store.UpsertClassification(ctx, result); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.ClassificationsByTimeRange(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Category != core.CategoryNeedsReply || got[0].Urgency != core.UrgencyHigh || got[0].Tier != core.TierHigh {
		t.Fatalf("roundtrip mismatch: %+v", got[0])
	}

	// Upsert by email id replaces, never duplicates.
	result.Category = core.CategoryFYI
	if err := store.UpsertClassification(ctx, result); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = store.ClassificationsByTimeRange(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	if len(got) != 1 || got[0].Category != core.CategoryFYI {
		t.Fatalf("after re-upsert: %d rows, category %s", len(got), got[0].Category)
	}
}

func TestClassificationsBySender(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	for i, id := range []string{"m1", "m2"} {
		store.NoteEmail(&core.EmailRecord{ID: id, From: "Boss@Corp.com", Subject: "s"})
		if err := store.UpsertClassification(ctx, &core.ClassificationResult{
			EmailID: id, Category: core.CategoryNeedsReply, Tier: core.TierLow,
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	store.NoteEmail(&core.EmailRecord{ID: "m3", From: "other@x.com", Subject: "s"})
	if err := store.UpsertClassification(ctx, &core.ClassificationResult{
		EmailID: "m3", Category: core.CategorySpam, Tier: core.TierLow, CreatedAt: at,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.ClassificationsBySender(ctx, "boss@corp.com")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows for sender, want 2", len(got))
	}
}

func TestRuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := &core.Rule{
		ID: "rule-1",
		Conditions: []core.Condition{
			{Field: core.FieldSender, Op: core.OpEquals, Value: "news@letter.com"},
			{Field: core.FieldSubject, Op: core.OpContains, Value: "digest"},
		},
		Actions:    []core.Action{{Type: core.ActionLabel, Arg: core.CategoryNewsletter}},
		Confidence: 0.8,
		Status:     core.RuleProposed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rule.Status = core.RuleActive
	rule.UsageCount = 3
	rule.SuccessCount = 2
	rule.FlaggedForReview = true
	if err := store.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("update: %v", err)
	}

	rules, err := store.Rules(ctx)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	got := rules[0]
	if got.Status != core.RuleActive || got.UsageCount != 3 || !got.FlaggedForReview {
		t.Fatalf("update lost: %+v", got)
	}
	if len(got.Conditions) != 2 || got.Conditions[1].Op != core.OpContains {
		t.Fatalf("conditions mismatch: %+v", got.Conditions)
	}
	if len(got.Actions) != 1 || got.Actions[0].Arg != core.CategoryNewsletter {
		t.Fatalf("actions mismatch: %+v", got.Actions)
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	exec := &core.Execution{
		ID: "exec-1", RuleID: "rule-1", EmailID: "msg-1",
		MatchedAt: at, Outcome: core.OutcomePending,
	}
	if err := store.UpsertExecution(ctx, exec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	exec.Outcome = core.OutcomeSuccess
	exec.Feedback = "archived as expected"
	if err := store.UpsertExecution(ctx, exec); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	execs, err := store.ExecutionsByTimeRange(ctx, at.Add(-time.Minute), at.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d executions, want 1", len(execs))
	}
	if execs[0].Outcome != core.OutcomeSuccess || execs[0].Feedback != "archived as expected" {
		t.Fatalf("resolution lost: %+v", execs[0])
	}
}

func TestPendingExecutionsSurviveReopen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	pending := &core.Execution{
		ID: "exec-open", RuleID: "rule-1", EmailID: "msg-1",
		MatchedAt: at, Outcome: core.OutcomePending,
	}
	resolved := &core.Execution{
		ID: "exec-done", RuleID: "rule-1", EmailID: "msg-2",
		MatchedAt: at.Add(time.Minute), Outcome: core.OutcomeSuccess,
	}
	for _, exec := range []*core.Execution{pending, resolved} {
		if err := store.UpsertExecution(ctx, exec); err != nil {
			t.Fatalf("upsert %s: %v", exec.ID, err)
		}
	}

	got, err := store.PendingExecutions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 1 || got[0].ID != "exec-open" {
		t.Fatalf("pending executions = %+v, want only the unresolved one", got)
	}
	if got[0].Outcome != core.OutcomePending {
		t.Fatalf("outcome = %s, want pending", got[0].Outcome)
	}
}

func TestInsightAppendAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)

	insight := &core.Insight{
		Type:            core.InsightSenderPattern,
		Description:     "sender x always newsletter",
		Confidence:      0.95,
		Impact:          0.2,
		Recommendations: []string{"propose an archive rule"},
		GeneratedAt:     at,
	}
	if err := store.AppendInsight(ctx, insight); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.InsightsByTimeRange(ctx, at.Add(-time.Minute), at.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d insights, want 1", len(got))
	}
	if got[0].Type != core.InsightSenderPattern || len(got[0].Recommendations) != 1 {
		t.Fatalf("roundtrip mismatch: %+v", got[0])
	}
}

func TestHistoryJoinsActions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	store.NoteEmail(&core.EmailRecord{ID: "m1", From: "news@letter.com", Subject: "digest"})
	if err := store.UpsertClassification(ctx, &core.ClassificationResult{
		EmailID: "m1", Category: core.CategoryNewsletter, Tier: core.TierLow, CreatedAt: at,
	}); err != nil {
		t.Fatalf("upsert classification: %v", err)
	}
	store.NoteEmail(&core.EmailRecord{ID: "m2", From: "boss@corp.com", Subject: "numbers"})
	if err := store.UpsertClassification(ctx, &core.ClassificationResult{
		EmailID: "m2", Category: core.CategoryNeedsReply, Tier: core.TierHigh, CreatedAt: at.Add(time.Minute),
	}); err != nil {
		t.Fatalf("upsert classification: %v", err)
	}

	if err := store.UpsertRule(ctx, &core.Rule{
		ID:         "rule-1",
		Conditions: []core.Condition{{Field: core.FieldSender, Op: core.OpEquals, Value: "news@letter.com"}},
		Actions:    []core.Action{{Type: core.ActionArchive}},
		Status:     core.RuleActive,
		CreatedAt:  at,
	}); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}
	if err := store.UpsertExecution(ctx, &core.Execution{
		ID: "e1", RuleID: "rule-1", EmailID: "m1", MatchedAt: at, Outcome: core.OutcomeSuccess,
	}); err != nil {
		t.Fatalf("upsert execution: %v", err)
	}

	history, err := store.HistoryByTimeRange(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history records, want 2", len(history))
	}

	byID := make(map[string]*core.HistoryRecord, len(history))
	for _, rec := range history {
		byID[rec.EmailID] = rec
	}
	if byID["m1"].ActionTaken != core.ActionArchive {
		t.Fatalf("m1 action = %q, want archive", byID["m1"].ActionTaken)
	}
	if byID["m1"].Sender != "news@letter.com" {
		t.Fatalf("m1 sender = %q", byID["m1"].Sender)
	}
	if byID["m2"].ActionTaken != "" {
		t.Fatalf("m2 action = %q, want none", byID["m2"].ActionTaken)
	}
}
