package core

import (
	"time"
)

// EmailRecord represents an email delivered by the mail-sync collaborator.
// The engine treats it as read-only.
type EmailRecord struct {
	ID         string
	From       string
	To         []string
	Subject    string
	Body       string
	ReceivedAt time.Time
	Tags       []string
	Headers    map[string][]string
}

// Urgency is an ordered urgency level attached to a classification.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "LOW"
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseUrgency maps a provider label to an Urgency, defaulting to LOW.
func ParseUrgency(s string) Urgency {
	switch s {
	case "CRITICAL":
		return UrgencyCritical
	case "HIGH":
		return UrgencyHigh
	case "MEDIUM":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Category labels produced by the classifier.
const (
	CategoryNeedsReply   = "NEEDS_REPLY"
	CategoryNotification = "NOTIFICATION"
	CategoryNewsletter   = "NEWSLETTER"
	CategoryMarketing    = "MARKETING"
	CategoryFYI          = "FYI"
	CategorySpam         = "SPAM"
)

// Tier identifies one of the two external model cost/quality levels.
type Tier string

const (
	TierHigh Tier = "high"
	TierLow  Tier = "low"
)

// Other returns the alternate tier, used for the cross-tier retry path.
func (t Tier) Other() Tier {
	if t == TierHigh {
		return TierLow
	}
	return TierHigh
}

// ClassificationResult is the immutable outcome of classifying one email.
// A fresher result may supersede it after the cache entry expires.
type ClassificationResult struct {
	EmailID    string
	Category   string
	Urgency    Urgency
	Confidence float64
	Tier       Tier
	Cost       float64
	CreatedAt  time.Time
}

// CacheEntry associates a content fingerprint with a prior result.
type CacheEntry struct {
	Fingerprint string
	Result      ClassificationResult
	ExpiresAt   time.Time
}

// InsightType enumerates the advisory insight categories.
type InsightType string

const (
	InsightSenderPattern InsightType = "sender-pattern"
	InsightTimePattern   InsightType = "time-pattern"
	InsightVolumeAnomaly InsightType = "volume-anomaly"
	InsightPriorityTrend InsightType = "priority-trend"
)

// Insight is an advisory finding mined from the classified stream.
// Append-only; never mutated after creation.
type Insight struct {
	Type            InsightType
	Description     string
	Confidence      float64
	Impact          float64
	Recommendations []string
	GeneratedAt     time.Time
}

// Condition is a single AND-combined predicate inside a rule.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Condition fields recognized by the rule engine.
const (
	FieldSender       = "sender"
	FieldSenderDomain = "sender_domain"
	FieldSubject      = "subject"
	FieldBody         = "body"
	FieldCategory     = "category"
	FieldUrgency      = "urgency"
	FieldTag          = "tag"
)

// Condition operators.
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpPrefix   = "prefix"
	OpGte      = "gte"
)

// Action is an automated step a rule applies to a matched email.
type Action struct {
	Type string `json:"type"`
	Arg  string `json:"arg,omitempty"`
}

// Action types recognized by downstream collaborators.
const (
	ActionArchive = "archive"
	ActionLabel   = "label"
	ActionForward = "forward"
	ActionFlag    = "flag"
	ActionSnooze  = "snooze"
)

// RuleStatus is the lifecycle state of an automation rule.
type RuleStatus string

const (
	RuleProposed RuleStatus = "proposed"
	RuleActive   RuleStatus = "active"
	RuleDisabled RuleStatus = "disabled"
)

// Rule is an automation rule. Confidence is mutated only by the
// learning loop; rules are never deleted, only disabled.
type Rule struct {
	ID               string
	Conditions       []Condition
	Actions          []Action
	Confidence       float64
	Status           RuleStatus
	UsageCount       int
	SuccessCount     int
	FlaggedForReview bool
	CreatedAt        time.Time

	// recentOutcomes is a ring of the last N execution outcomes used
	// for the disablement flag. Not persisted.
	recentOutcomes []bool
}

// ExecutionOutcome is the resolution state of a rule execution.
type ExecutionOutcome string

const (
	OutcomePending ExecutionOutcome = "pending"
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeFailure ExecutionOutcome = "failure"
)

// Execution records one rule firing against one email. Outcome is set
// exactly once via feedback and is immutable afterwards.
type Execution struct {
	ID        string
	RuleID    string
	EmailID   string
	MatchedAt time.Time
	Outcome   ExecutionOutcome
	Feedback  string
}

// MatchResult is what Evaluate returns when a rule fires.
type MatchResult struct {
	RuleID               string
	ExecutionID          string
	Actions              []Action
	RequiresConfirmation bool
}

// HistoryRecord is a classified-and-actioned email used by the pattern
// miner and the insights engine.
type HistoryRecord struct {
	EmailID     string
	Sender      string
	Subject     string
	Category    string
	Urgency     Urgency
	Confidence  float64
	ActionTaken string
	OccurredAt  time.Time
}

// Recommendation is an advisory tuning hint from the optimizer.
type Recommendation struct {
	Area        string
	Description string
	Severity    string
}
