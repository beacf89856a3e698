// Package monitoring watches sync run history and posts webhook alerts
// when runs fail too often or data goes stale.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/model"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`
	RunErrors    int     `json:"run_errors"`

	// Freshness of the last successful full run.
	LastFullSuccess *time.Time `json:"last_full_success,omitempty"`
	HoursSinceFull  float64    `json:"hours_since_full"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunQuerier is the run history the collector reads.
type RunQuerier interface {
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	LastSuccessfulRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error)
}

// Collector gathers metrics from run history.
type Collector struct {
	store RunQuerier
	limit int
	now   func() time.Time
}

// NewCollector creates a new metrics collector. limit caps how many recent
// runs are inspected.
func NewCollector(st RunQuerier, limit int) *Collector {
	if limit <= 0 {
		limit = 200
	}
	return &Collector{store: st, limit: limit, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, c.limit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.RunErrors += len(r.Errors)
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	last, err := c.store.LastSuccessfulRun(ctx, model.ModeFull)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last successful run")
	}
	if last != nil {
		at := last.StartedAt
		if last.CompletedAt != nil {
			at = *last.CompletedAt
		}
		snap.LastFullSuccess = &at
		snap.HoursSinceFull = now.Sub(at).Hours()
	}

	return snap, nil
}
