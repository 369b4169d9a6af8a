package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// InsightsConfig holds the detection thresholds. All of them are
// configuration so behavior is tunable per deployment.
type InsightsConfig struct {
	// SenderMinOccurrences is how many times a sender must appear
	// before a sender-pattern insight can be emitted.
	SenderMinOccurrences int

	// SenderMinRatio is the share of occurrences with the same label
	// needed for a sender-pattern insight.
	SenderMinRatio float64

	// HourlySpikeMultiple flags an hour bucket whose volume exceeds
	// the mean hourly volume by this multiple.
	HourlySpikeMultiple float64

	// VolumeAnomalyFactor flags a day whose volume exceeds the rolling
	// daily baseline by this factor.
	VolumeAnomalyFactor float64
}

// DefaultInsightsConfig mirrors the documented defaults.
func DefaultInsightsConfig() InsightsConfig {
	return InsightsConfig{
		SenderMinOccurrences: 5,
		SenderMinRatio:       0.8,
		HourlySpikeMultiple:  2.0,
		VolumeAnomalyFactor:  2.0,
	}
}

// InsightsEngine mines the classified stream for sender patterns,
// temporal peaks, and volume anomalies. Purely advisory; it runs as a
// periodic background pass over committed history and never touches
// the hot classification path.
type InsightsEngine struct {
	cfg    InsightsConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewInsightsEngine creates an insights engine.
func NewInsightsEngine(cfg InsightsConfig, logger *zap.Logger) *InsightsEngine {
	return &InsightsEngine{cfg: cfg, logger: logger, now: time.Now}
}

// Analyze evaluates every detection rule independently over the window
// and returns the emitted insights, time-ordered.
func (e *InsightsEngine) Analyze(window []*HistoryRecord) []*Insight {
	var insights []*Insight
	insights = append(insights, e.senderPatterns(window)...)
	insights = append(insights, e.timePatterns(window)...)
	insights = append(insights, e.volumeAnomalies(window)...)
	insights = append(insights, e.priorityTrend(window)...)

	e.logger.Debug("insight analysis pass complete",
		zap.Int("window_size", len(window)),
		zap.Int("insights", len(insights)))
	return insights
}

// senderPatterns emits an insight when a sender's classification is
// the same label in at least SenderMinRatio of at least
// SenderMinOccurrences occurrences. The ratio becomes the confidence.
func (e *InsightsEngine) senderPatterns(window []*HistoryRecord) []*Insight {
	labels := make(map[string]map[string]int)
	totals := make(map[string]int)
	for _, rec := range window {
		sender := strings.ToLower(rec.Sender)
		if sender == "" || rec.Category == "" {
			continue
		}
		if labels[sender] == nil {
			labels[sender] = make(map[string]int)
		}
		labels[sender][rec.Category]++
		totals[sender]++
	}

	senders := make([]string, 0, len(labels))
	for s := range labels {
		senders = append(senders, s)
	}
	sort.Strings(senders)

	var out []*Insight
	for _, sender := range senders {
		total := totals[sender]
		if total < e.cfg.SenderMinOccurrences {
			continue
		}
		label, count := dominantLabel(labels[sender])
		ratio := float64(count) / float64(total)
		if ratio < e.cfg.SenderMinRatio {
			continue
		}
		out = append(out, &Insight{
			Type: InsightSenderPattern,
			Description: fmt.Sprintf("sender %s classified %s in %d of %d emails",
				sender, label, count, total),
			Confidence: ratio,
			Impact:     float64(total) / float64(len(window)),
			Recommendations: []string{
				fmt.Sprintf("consider an automation rule labeling %s mail as %s", sender, label),
			},
			GeneratedAt: e.now(),
		})
	}
	return out
}

// timePatterns flags hour buckets whose volume exceeds the mean hourly
// volume by the configured multiple.
func (e *InsightsEngine) timePatterns(window []*HistoryRecord) []*Insight {
	if len(window) == 0 {
		return nil
	}
	var hours [24]int
	for _, rec := range window {
		hours[rec.OccurredAt.Hour()]++
	}
	mean := float64(len(window)) / 24.0

	var out []*Insight
	for h, count := range hours {
		if mean > 0 && float64(count) >= mean*e.cfg.HourlySpikeMultiple {
			out = append(out, &Insight{
				Type: InsightTimePattern,
				Description: fmt.Sprintf("volume peak at %02d:00: %d emails vs hourly mean %.1f",
					h, count, mean),
				Confidence: 1 - mean/float64(count),
				Impact:     float64(count) / float64(len(window)),
				Recommendations: []string{
					"schedule batch work outside the peak hour",
				},
				GeneratedAt: e.now(),
			})
		}
	}
	return out
}

// volumeAnomalies flags days whose volume exceeds the rolling baseline
// (mean of the preceding days in the window) by the configured factor.
func (e *InsightsEngine) volumeAnomalies(window []*HistoryRecord) []*Insight {
	daily := make(map[string]int)
	for _, rec := range window {
		daily[rec.OccurredAt.Format("2006-01-02")]++
	}
	if len(daily) < 2 {
		return nil
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	var out []*Insight
	sum := 0
	for i, day := range days {
		count := daily[day]
		if i > 0 {
			baseline := float64(sum) / float64(i)
			if baseline > 0 && float64(count) >= baseline*e.cfg.VolumeAnomalyFactor {
				out = append(out, &Insight{
					Type: InsightVolumeAnomaly,
					Description: fmt.Sprintf("volume anomaly on %s: %d emails vs baseline %.1f",
						day, count, baseline),
					Confidence: 1 - baseline/float64(count),
					Impact:     float64(count) / float64(len(window)),
					Recommendations: []string{
						"check for a notification storm or list blast",
						"verify budget caps can absorb the extra volume",
					},
					GeneratedAt: e.now(),
				})
			}
		}
		sum += count
	}
	return out
}

// priorityTrend reports a drift in the share of HIGH/CRITICAL mail
// between the older and newer halves of the window.
func (e *InsightsEngine) priorityTrend(window []*HistoryRecord) []*Insight {
	if len(window) < 10 {
		return nil
	}

	sorted := make([]*HistoryRecord, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	half := len(sorted) / 2
	olderShare := urgentShare(sorted[:half])
	newerShare := urgentShare(sorted[half:])
	delta := newerShare - olderShare
	if delta < 0.15 && delta > -0.15 {
		return nil
	}

	direction := "rising"
	if delta < 0 {
		direction = "falling"
	}
	return []*Insight{{
		Type: InsightPriorityTrend,
		Description: fmt.Sprintf("share of high-urgency mail is %s: %.0f%% -> %.0f%%",
			direction, olderShare*100, newerShare*100),
		Confidence: clamp01(abs(delta) * 2),
		Impact:     abs(delta),
		Recommendations: []string{
			"review scheduler urgency weights against the new mix",
		},
		GeneratedAt: e.now(),
	}}
}

func urgentShare(records []*HistoryRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	urgent := 0
	for _, rec := range records {
		if rec.Urgency >= UrgencyHigh {
			urgent++
		}
	}
	return float64(urgent) / float64(len(records))
}

func dominantLabel(counts map[string]int) (string, int) {
	best := ""
	bestCount := 0
	for label, count := range counts {
		if count > bestCount || (count == bestCount && label < best) {
			best = label
			bestCount = count
		}
	}
	return best, bestCount
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
