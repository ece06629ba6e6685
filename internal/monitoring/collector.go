// Package monitoring summarises recent presence runs and posts webhook
// alerts when error thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/queryarc/queryarc-api/internal/model"
)

// Snapshot is a point-in-time view of presence run health.
type Snapshot struct {
	Runs      int `json:"runs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Running   int `json:"running"`
	Queued    int `json:"queued"`

	Items         int     `json:"items"`
	ItemErrors    int     `json:"item_errors"`
	ItemErrorRate float64 `json:"item_error_rate"`
	AvgDoneRate   float64 `json:"avg_done_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Summarizer is the store method the collector needs.
type Summarizer interface {
	SummarizeRuns(ctx context.Context, since time.Time) (*model.RunSummary, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	store Summarizer
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st Summarizer) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarises runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	sum, err := c.store.SummarizeRuns(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summarize runs")
	}

	snap := &Snapshot{
		Runs:          sum.Runs,
		Succeeded:     sum.ByStatus[model.RunStatusSucceeded],
		Failed:        sum.ByStatus[model.RunStatusFailed],
		Cancelled:     sum.ByStatus[model.RunStatusCancelled],
		Running:       sum.ByStatus[model.RunStatusRunning],
		Queued:        sum.ByStatus[model.RunStatusQueued],
		Items:         sum.Items,
		ItemErrors:    sum.ItemErrors,
		AvgDoneRate:   sum.AvgDoneRate,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	if snap.Items > 0 {
		snap.ItemErrorRate = float64(snap.ItemErrors) / float64(snap.Items)
	}
	return snap, nil
}
