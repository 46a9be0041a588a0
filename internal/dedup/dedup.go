// Package dedup is the single gate that admits only genuinely new
// videos into the notification pipeline.
package dedup

import (
	"context"
	"log/slog"

	"yt_monitor/internal/model"
)

// Store is the slice of storage the gate needs.
type Store interface {
	VideoExists(ctx context.Context, videoID string) (bool, error)
	CreateVideo(ctx context.Context, v *model.Video) (bool, error)
}

// Deduplicator decides, per video, whether it has been seen before.
type Deduplicator struct {
	store Store
	log   *slog.Logger
}

// New creates a Deduplicator.
func New(store Store, log *slog.Logger) *Deduplicator {
	return &Deduplicator{store: store, log: log}
}

// Admit stores and returns the subset of candidates that are new, in
// input order. The store's unique key on video_id is the backstop: an
// insert that loses a race against a concurrent cycle is treated as
// "already exists", not as an error. A store failure skips only the
// affected video.
func (d *Deduplicator) Admit(ctx context.Context, candidates []model.Video) []model.Video {
	var admitted []model.Video
	for _, v := range candidates {
		if v.VideoID == "" {
			d.log.Warn("candidate missing video id, skipping")
			continue
		}

		exists, err := d.store.VideoExists(ctx, v.VideoID)
		if err != nil {
			d.log.Error("check video exists", "video_id", v.VideoID, "error", err)
			continue
		}
		if exists {
			d.log.Debug("video already known", "video_id", v.VideoID)
			continue
		}

		v.NotificationSent = false
		v.NotificationCount = 0
		v.LastNotificationAt = nil

		inserted, err := d.store.CreateVideo(ctx, &v)
		if err != nil {
			d.log.Error("store video", "video_id", v.VideoID, "error", err)
			continue
		}
		if !inserted {
			d.log.Debug("video inserted concurrently elsewhere", "video_id", v.VideoID)
			continue
		}

		d.log.Info("new video detected", "video_id", v.VideoID, "title", v.Title)
		admitted = append(admitted, v)
	}
	return admitted
}
