package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS classifications (
	email_id TEXT PRIMARY KEY,
	sender TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	urgency INTEGER NOT NULL,
	confidence REAL NOT NULL,
	model_tier TEXT NOT NULL,
	cost REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_classifications_created_at ON classifications(created_at);
CREATE INDEX IF NOT EXISTS idx_classifications_sender ON classifications(sender);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	conditions TEXT NOT NULL,
	actions TEXT NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	email_id TEXT NOT NULL,
	matched_at TIMESTAMP NOT NULL,
	outcome TEXT NOT NULL,
	feedback TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_executions_matched_at ON executions(matched_at);
CREATE INDEX IF NOT EXISTS idx_executions_rule_id ON executions(rule_id);

CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	confidence REAL NOT NULL,
	impact REAL NOT NULL,
	recommendations TEXT NOT NULL,
	generated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_generated_at ON insights(generated_at);
`

// SQLiteStore is the sqlx-backed storage collaborator persisting
// classifications, rules, executions, and insights.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	// senders caches email_id -> (sender, subject) so classification
	// upserts coming from the dispatcher can be enriched.
	senders senderIndex
}

// New opens (creating if needed) the engine database at path.
func New(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL mode keeps background passes from blocking worker writes.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	store.senders.init()
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NoteEmail remembers the sender and subject for an email id so its
// later classification row carries them. Called by the ingest path.
func (s *SQLiteStore) NoteEmail(email *core.EmailRecord) {
	s.senders.put(email.ID, email.From, email.Subject)
}

type classificationRow struct {
	EmailID    string    `db:"email_id"`
	Sender     string    `db:"sender"`
	Subject    string    `db:"subject"`
	Category   string    `db:"category"`
	Urgency    int       `db:"urgency"`
	Confidence float64   `db:"confidence"`
	ModelTier  string    `db:"model_tier"`
	Cost       float64   `db:"cost"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r classificationRow) toResult() *core.ClassificationResult {
	return &core.ClassificationResult{
		EmailID:    r.EmailID,
		Category:   r.Category,
		Urgency:    core.Urgency(r.Urgency),
		Confidence: r.Confidence,
		Tier:       core.Tier(r.ModelTier),
		Cost:       r.Cost,
		CreatedAt:  r.CreatedAt,
	}
}

// UpsertClassification persists a classification result by email id.
func (s *SQLiteStore) UpsertClassification(ctx context.Context, result *core.ClassificationResult) error {
	sender, subject := s.senders.get(result.EmailID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classifications (email_id, sender, subject, category, urgency, confidence, model_tier, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			category = excluded.category,
			urgency = excluded.urgency,
			confidence = excluded.confidence,
			model_tier = excluded.model_tier,
			cost = excluded.cost,
			created_at = excluded.created_at
	`,
		result.EmailID, sender, subject, result.Category, int(result.Urgency),
		result.Confidence, string(result.Tier), result.Cost, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

// ClassificationsByTimeRange returns classifications created in [from, to).
func (s *SQLiteStore) ClassificationsByTimeRange(ctx context.Context, from, to time.Time) ([]*core.ClassificationResult, error) {
	var rows []classificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT email_id, sender, subject, category, urgency, confidence, model_tier, cost, created_at
		FROM classifications
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications: %w", err)
	}

	results := make([]*core.ClassificationResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.toResult())
	}
	return results, nil
}

// ClassificationsBySender returns all classifications for one sender.
func (s *SQLiteStore) ClassificationsBySender(ctx context.Context, sender string) ([]*core.ClassificationResult, error) {
	var rows []classificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT email_id, sender, subject, category, urgency, confidence, model_tier, cost, created_at
		FROM classifications
		WHERE sender = ? COLLATE NOCASE
		ORDER BY created_at
	`, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications by sender: %w", err)
	}

	results := make([]*core.ClassificationResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.toResult())
	}
	return results, nil
}

type ruleRow struct {
	ID               string    `db:"id"`
	Conditions       string    `db:"conditions"`
	Actions          string    `db:"actions"`
	Confidence       float64   `db:"confidence"`
	Status           string    `db:"status"`
	UsageCount       int       `db:"usage_count"`
	SuccessCount     int       `db:"success_count"`
	FlaggedForReview bool      `db:"flagged_for_review"`
	CreatedAt        time.Time `db:"created_at"`
}

// UpsertRule persists a rule by id. Conditions and actions are stored
// as JSON.
func (s *SQLiteStore) UpsertRule(ctx context.Context, rule *core.Rule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, conditions, actions, confidence, status, usage_count, success_count, flagged_for_review, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conditions = excluded.conditions,
			actions = excluded.actions,
			confidence = excluded.confidence,
			status = excluded.status,
			usage_count = excluded.usage_count,
			success_count = excluded.success_count,
			flagged_for_review = excluded.flagged_for_review
	`,
		rule.ID, string(conditions), string(actions), rule.Confidence,
		string(rule.Status), rule.UsageCount, rule.SuccessCount,
		rule.FlaggedForReview, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// Rules returns every persisted rule, disabled ones included.
func (s *SQLiteStore) Rules(ctx context.Context) ([]*core.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conditions, actions, confidence, status, usage_count, success_count, flagged_for_review, created_at
		FROM rules
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]*core.Rule, 0, len(rows))
	for _, r := range rows {
		rule := &core.Rule{
			ID:               r.ID,
			Confidence:       r.Confidence,
			Status:           core.RuleStatus(r.Status),
			UsageCount:       r.UsageCount,
			SuccessCount:     r.SuccessCount,
			FlaggedForReview: r.FlaggedForReview,
			CreatedAt:        r.CreatedAt,
		}
		if err := json.Unmarshal([]byte(r.Conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions for rule %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions for rule %s: %w", r.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type executionRow struct {
	ID        string    `db:"id"`
	RuleID    string    `db:"rule_id"`
	EmailID   string    `db:"email_id"`
	MatchedAt time.Time `db:"matched_at"`
	Outcome   string    `db:"outcome"`
	Feedback  string    `db:"feedback"`
}

func toExecutions(rows []executionRow) []*core.Execution {
	execs := make([]*core.Execution, 0, len(rows))
	for _, r := range rows {
		execs = append(execs, &core.Execution{
			ID:        r.ID,
			RuleID:    r.RuleID,
			EmailID:   r.EmailID,
			MatchedAt: r.MatchedAt,
			Outcome:   core.ExecutionOutcome(r.Outcome),
			Feedback:  r.Feedback,
		})
	}
	return execs
}

// UpsertExecution persists an execution by id.
func (s *SQLiteStore) UpsertExecution(ctx context.Context, exec *core.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, rule_id, email_id, matched_at, outcome, feedback)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			feedback = excluded.feedback
	`,
		exec.ID, exec.RuleID, exec.EmailID, exec.MatchedAt,
		string(exec.Outcome), exec.Feedback,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}
	return nil
}

// ExecutionsByTimeRange returns executions matched in [from, to).
func (s *SQLiteStore) ExecutionsByTimeRange(ctx context.Context, from, to time.Time) ([]*core.Execution, error) {
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, rule_id, email_id, matched_at, outcome, feedback
		FROM executions
		WHERE matched_at >= ? AND matched_at < ?
		ORDER BY matched_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	return toExecutions(rows), nil
}

// PendingExecutions returns executions still awaiting feedback, so the
// rule engine can resume their learning loop after a restart.
func (s *SQLiteStore) PendingExecutions(ctx context.Context) ([]*core.Execution, error) {
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, rule_id, email_id, matched_at, outcome, feedback
		FROM executions
		WHERE outcome = ?
		ORDER BY matched_at
	`, string(core.OutcomePending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending executions: %w", err)
	}
	return toExecutions(rows), nil
}

// AppendInsight persists a generated insight. Insights are append-only.
func (s *SQLiteStore) AppendInsight(ctx context.Context, insight *core.Insight) error {
	recommendations, err := json.Marshal(insight.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (id, type, description, confidence, impact, recommendations, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), string(insight.Type), insight.Description,
		insight.Confidence, insight.Impact, string(recommendations),
		insight.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append insight: %w", err)
	}
	return nil
}

// InsightsByTimeRange returns insights generated in [from, to).
func (s *SQLiteStore) InsightsByTimeRange(ctx context.Context, from, to time.Time) ([]*core.Insight, error) {
	type insightRow struct {
		Type            string    `db:"type"`
		Description     string    `db:"description"`
		Confidence      float64   `db:"confidence"`
		Impact          float64   `db:"impact"`
		Recommendations string    `db:"recommendations"`
		GeneratedAt     time.Time `db:"generated_at"`
	}

	var rows []insightRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT type, description, confidence, impact, recommendations, generated_at
		FROM insights
		WHERE generated_at >= ? AND generated_at < ?
		ORDER BY generated_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}

	insights := make([]*core.Insight, 0, len(rows))
	for _, r := range rows {
		insight := &core.Insight{
			Type:        core.InsightType(r.Type),
			Description: r.Description,
			Confidence:  r.Confidence,
			Impact:      r.Impact,
			GeneratedAt: r.GeneratedAt,
		}
		if err := json.Unmarshal([]byte(r.Recommendations), &insight.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
		}
		insights = append(insights, insight)
	}
	return insights, nil
}

// HistoryByTimeRange assembles the classified-and-actioned view the
// miner and the insights engine consume: classifications joined in Go
// with the rule action that fired for the same email, if any.
func (s *SQLiteStore) HistoryByTimeRange(ctx context.Context, from, to time.Time) ([]*core.HistoryRecord, error) {
	var rows []classificationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT email_id, sender, subject, category, urgency, confidence, model_tier, cost, created_at
		FROM classifications
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at
	`, from, to); err != nil {
		return nil, fmt.Errorf("failed to query classification rows: %w", err)
	}

	executions, err := s.ExecutionsByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	ruleByEmail := make(map[string]string, len(executions))
	for _, exec := range executions {
		ruleByEmail[exec.EmailID] = exec.RuleID
	}

	actionByRule := make(map[string]string)
	if len(ruleByEmail) > 0 {
		rules, err := s.Rules(ctx)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			if len(rule.Actions) > 0 {
				actionByRule[rule.ID] = rule.Actions[0].Type
			}
		}
	}

	history := make([]*core.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		rec := &core.HistoryRecord{
			EmailID:    r.EmailID,
			Sender:     r.Sender,
			Subject:    r.Subject,
			Category:   r.Category,
			Urgency:    core.Urgency(r.Urgency),
			Confidence: r.Confidence,
			OccurredAt: r.CreatedAt,
		}
		if ruleID, ok := ruleByEmail[r.EmailID]; ok {
			rec.ActionTaken = actionByRule[ruleID]
		}
		history = append(history, rec)
	}
	return history, nil
}
