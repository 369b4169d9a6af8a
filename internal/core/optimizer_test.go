package core

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func prediction(category string, confidence float64) *ClassificationResult {
	return &ClassificationResult{Category: category, Confidence: confidence}
}

func TestOptimizerTrendImproving(t *testing.T) {
	o := NewOptimizer(zap.NewNop())
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := base
	o.now = func() time.Time { return current }

	// Oldest third wrong, rest correct: accuracy climbs.
	for i := 0; i < 12; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		actual := CategoryNeedsReply
		if i < 4 {
			actual = CategorySpam
		}
		o.Record(prediction(CategoryNeedsReply, 0.8), actual)
	}

	trend := o.Trend(30)
	if trend.Direction != TrendImproving {
		t.Fatalf("direction = %s, want improving", trend.Direction)
	}
	if trend.AccuracyTrend != 1.0 {
		t.Fatalf("recent accuracy = %v, want 1.0", trend.AccuracyTrend)
	}
	if trend.SampleSize != 12 {
		t.Fatalf("sample size = %d, want 12", trend.SampleSize)
	}
	if trend.Grade() != "A" {
		t.Fatalf("grade = %s, want A", trend.Grade())
	}
}

func TestOptimizerTrendDeclining(t *testing.T) {
	o := NewOptimizer(zap.NewNop())
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := base
	o.now = func() time.Time { return current }

	for i := 0; i < 12; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		actual := CategoryNeedsReply
		if i >= 8 {
			actual = CategorySpam
		}
		o.Record(prediction(CategoryNeedsReply, 0.8), actual)
	}

	trend := o.Trend(30)
	if trend.Direction != TrendDeclining {
		t.Fatalf("direction = %s, want declining", trend.Direction)
	}
	if trend.Grade() != "F" {
		t.Fatalf("grade = %s, want F at zero recent accuracy", trend.Grade())
	}
}

func TestOptimizerTrendIgnoresOldObservations(t *testing.T) {
	o := NewOptimizer(zap.NewNop())
	now := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }

	// All observations sit outside a 7-day window.
	older := now.AddDate(0, 0, -10)
	for i := 0; i < 6; i++ {
		o.observations = append(o.observations, observation{correct: true, confidence: 0.9, at: older})
	}

	trend := o.Trend(7)
	if trend.SampleSize != 0 {
		t.Fatalf("sample size = %d, want 0", trend.SampleSize)
	}
	if trend.Direction != TrendStable {
		t.Fatalf("direction = %s, want stable with no data", trend.Direction)
	}
}

func TestOptimizerGradeBands(t *testing.T) {
	tests := []struct {
		accuracy float64
		want     string
	}{
		{0.95, "A"}, {0.9, "A"}, {0.85, "B"}, {0.75, "C"}, {0.65, "D"}, {0.5, "F"},
	}
	for _, tt := range tests {
		got := Trend{AccuracyTrend: tt.accuracy}.Grade()
		if got != tt.want {
			t.Fatalf("Grade(%v) = %s, want %s", tt.accuracy, got, tt.want)
		}
	}
}

func TestOptimizerRecommendSparseData(t *testing.T) {
	o := NewOptimizer(zap.NewNop())

	recs := o.Recommend()
	if len(recs) != 1 || recs[0].Area != "feedback" {
		t.Fatalf("recs = %+v, want a single collect-more-feedback hint", recs)
	}
}

func TestOptimizerRecommendFlagsDecline(t *testing.T) {
	o := NewOptimizer(zap.NewNop())
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := base
	o.now = func() time.Time { return current }

	for i := 0; i < 15; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		actual := CategoryNeedsReply
		if i >= 8 {
			actual = CategorySpam
		}
		o.Record(prediction(CategoryNeedsReply, 0.8), actual)
	}

	warned := false
	for _, rec := range o.Recommend() {
		if rec.Severity == "warning" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("declining accuracy produced no warning recommendation")
	}
}
