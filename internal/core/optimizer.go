package core

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrendDirection summarizes how a metric moved across a window.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Trend is the optimizer's view of accuracy and confidence movement
// over a window. Direction compares the mean of the most recent third
// against the mean of the earliest third, which is robust to noise on
// sparse data.
type Trend struct {
	AccuracyTrend   float64
	ConfidenceTrend float64
	Direction       TrendDirection
	SampleSize      int
}

// Grade maps the accuracy trend onto an advisory letter grade.
func (t Trend) Grade() string {
	recent := t.AccuracyTrend
	switch {
	case recent >= 0.9:
		return "A"
	case recent >= 0.8:
		return "B"
	case recent >= 0.7:
		return "C"
	case recent >= 0.6:
		return "D"
	default:
		return "F"
	}
}

type observation struct {
	correct    bool
	confidence float64
	at         time.Time
}

// Optimizer consumes (prediction, ground-truth) pairs and computes
// accuracy and confidence trends. Purely observational: it never
// mutates the dispatcher or the rule engine; recommendations are
// advisory hints for an operator.
type Optimizer struct {
	mu           sync.RWMutex
	observations []observation
	logger       *zap.Logger
	now          func() time.Time
}

// NewOptimizer creates an optimizer.
func NewOptimizer(logger *zap.Logger) *Optimizer {
	return &Optimizer{logger: logger, now: time.Now}
}

// Record stores one prediction against its ground truth.
func (o *Optimizer) Record(prediction *ClassificationResult, actualCategory string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, observation{
		correct:    prediction.Category == actualCategory,
		confidence: prediction.Confidence,
		at:         o.now(),
	})
}

// Trend computes the accuracy and confidence movement over the trailing
// window of days.
func (o *Optimizer) Trend(windowDays int) Trend {
	cutoff := o.now().AddDate(0, 0, -windowDays)

	o.mu.RLock()
	var window []observation
	for _, obs := range o.observations {
		if obs.at.After(cutoff) {
			window = append(window, obs)
		}
	}
	o.mu.RUnlock()

	if len(window) < 3 {
		return Trend{Direction: TrendStable, SampleSize: len(window)}
	}

	third := len(window) / 3
	oldest := window[:third]
	newest := window[len(window)-third:]

	oldAcc, oldConf := means(oldest)
	newAcc, newConf := means(newest)

	direction := TrendStable
	switch {
	case newAcc > oldAcc+0.02:
		direction = TrendImproving
	case newAcc < oldAcc-0.02:
		direction = TrendDeclining
	}

	return Trend{
		AccuracyTrend:   newAcc,
		ConfidenceTrend: newConf - oldConf,
		Direction:       direction,
		SampleSize:      len(window),
	}
}

// Recommend surfaces advisory tuning hints based on the current trend.
// Nothing here is auto-applied.
func (o *Optimizer) Recommend() []Recommendation {
	trend := o.Trend(30)
	var recs []Recommendation

	if trend.SampleSize < 10 {
		recs = append(recs, Recommendation{
			Area:        "feedback",
			Description: "too few ground-truth labels to assess accuracy; collect more feedback",
			Severity:    "info",
		})
		return recs
	}

	if trend.Direction == TrendDeclining {
		recs = append(recs, Recommendation{
			Area: "model",
			Description: fmt.Sprintf("accuracy declining (recent mean %.2f, grade %s); review high-tier floor and prompt wording",
				trend.AccuracyTrend, trend.Grade()),
			Severity: "warning",
		})
	}
	if trend.AccuracyTrend < 0.7 {
		recs = append(recs, Recommendation{
			Area:        "tiering",
			Description: "recent accuracy below 0.7; consider routing more traffic to the high-quality tier",
			Severity:    "warning",
		})
	}
	if trend.ConfidenceTrend < -0.1 {
		recs = append(recs, Recommendation{
			Area:        "model",
			Description: "model confidence dropping across the window; inspect provider or content drift",
			Severity:    "info",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Area:        "none",
			Description: fmt.Sprintf("accuracy %s (grade %s); no tuning needed", trend.Direction, trend.Grade()),
			Severity:    "info",
		})
	}

	return recs
}

func means(obs []observation) (accuracy, confidence float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	correct := 0
	confSum := 0.0
	for _, o := range obs {
		if o.correct {
			correct++
		}
		confSum += o.confidence
	}
	return float64(correct) / float64(len(obs)), confSum / float64(len(obs))
}
