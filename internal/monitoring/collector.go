// Package monitoring watches provider health and posts webhook alerts when
// breakers open or failure rates climb.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of provider health.
type MetricsSnapshot struct {
	Providers []model.ProviderHealth `json:"providers"`

	// Attempt log metrics (within lookback window). Skips are not counted.
	AttemptsTotal  int            `json:"attempts_total"`
	AttemptsFailed int            `json:"attempts_failed"`
	FailRate       float64        `json:"fail_rate"`
	FailedBy       map[string]int `json:"failed_by,omitempty"`

	// OpenBreakers lists providers whose breaker is open or half-open.
	OpenBreakers []string `json:"open_breakers,omitempty"`
	// Unavailable lists source types whose every provider is open.
	Unavailable []model.SourceType `json:"unavailable,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HealthSource reports the current state of every provider.
type HealthSource interface {
	InspectHealth(ctx context.Context) ([]model.ProviderHealth, error)
}

// AttemptLister reads the attempt log.
type AttemptLister interface {
	ListAttempts(ctx context.Context, filter store.AttemptFilter) ([]model.AttemptRecord, error)
}

// Collector gathers metrics from the orchestrator and the attempt log.
type Collector struct {
	health   HealthSource
	attempts AttemptLister

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. attempts may be nil.
func NewCollector(health HealthSource, attempts AttemptLister) *Collector {
	return &Collector{health: health, attempts: attempts, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	health, err := c.health.InspectHealth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: inspect health")
	}
	snap.Providers = health

	total := make(map[model.SourceType]int)
	open := make(map[model.SourceType]int)
	var order []model.SourceType
	for _, h := range health {
		if _, seen := total[h.SourceType]; !seen {
			order = append(order, h.SourceType)
		}
		total[h.SourceType]++
		if h.State == model.BreakerOpen || h.State == model.BreakerHalfOpen {
			open[h.SourceType]++
			snap.OpenBreakers = append(snap.OpenBreakers, h.Provider)
		}
	}
	for _, st := range order {
		if open[st] == total[st] {
			snap.Unavailable = append(snap.Unavailable, st)
		}
	}

	if c.attempts == nil {
		return snap, nil
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	recs, err := c.attempts.ListAttempts(ctx, store.AttemptFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list attempts")
	}

	for _, r := range recs {
		switch r.Result {
		case model.AttemptSucceeded:
			snap.AttemptsTotal++
		case model.AttemptFailed:
			snap.AttemptsTotal++
			snap.AttemptsFailed++
			if snap.FailedBy == nil {
				snap.FailedBy = make(map[string]int)
			}
			snap.FailedBy[r.Provider]++
		}
	}
	if snap.AttemptsTotal > 0 {
		snap.FailRate = float64(snap.AttemptsFailed) / float64(snap.AttemptsTotal)
	}

	return snap, nil
}
