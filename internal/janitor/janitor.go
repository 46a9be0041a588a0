// Package janitor keeps the delivery log and system-event trail from
// growing without bound.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"yt_monitor/internal/config"
)

// Store is the slice of storage the janitor prunes.
type Store interface {
	PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error)
	PruneSystemEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor prunes expired audit rows on a daily schedule.
type Janitor struct {
	store Store
	cfg   func() config.Config
	log   *slog.Logger
	cron  *cron.Cron
}

// New creates a Janitor.
func New(store Store, cfg func() config.Config, log *slog.Logger) *Janitor {
	return &Janitor{store: store, cfg: cfg, log: log, cron: cron.New()}
}

// Start schedules the nightly prune run.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("17 3 * * *", func() {
		j.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running prune to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce prunes everything older than the configured retention window.
func (j *Janitor) RunOnce(ctx context.Context) {
	retention := time.Duration(j.cfg().DeliveryRetentionDays) * 24 * time.Hour
	cutoff := time.Now().UTC().Add(-retention)

	deliveries, err := j.store.PruneDeliveries(ctx, cutoff)
	if err != nil {
		j.log.Error("prune deliveries", "error", err)
	}
	events, err := j.store.PruneSystemEvents(ctx, cutoff)
	if err != nil {
		j.log.Error("prune system events", "error", err)
	}
	j.log.Info("retention prune complete",
		"cutoff", cutoff, "deliveries_removed", deliveries, "events_removed", events)
}
