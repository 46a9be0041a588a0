// Package storage provides persistence for channels, videos, webhooks,
// delivery records, and system events.
package storage

import (
	"context"
	"time"

	"yt_monitor/internal/model"
)

// Storage is the persistence interface used by the monitor core.
type Storage interface {
	// Channels.
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	ListActiveChannels(ctx context.Context) ([]model.Channel, error)
	SetChannelLastChecked(ctx context.Context, channelID string, at time.Time) error

	// Videos.
	VideoExists(ctx context.Context, videoID string) (bool, error)
	CreateVideo(ctx context.Context, v *model.Video) (bool, error)
	GetVideo(ctx context.Context, videoID string) (*model.Video, error)
	MarkVideoNotified(ctx context.Context, videoID string, at time.Time) error

	// Webhooks.
	CreateWebhook(ctx context.Context, w *model.Webhook) error
	GetWebhook(ctx context.Context, id int64) (*model.Webhook, error)
	ListActiveWebhooks(ctx context.Context) ([]model.Webhook, error)
	SetWebhookLastDelivery(ctx context.Context, id int64, at time.Time) error

	// Delivery log.
	RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error
	ListDeliveries(ctx context.Context, webhookID int64, limit int) ([]model.DeliveryRecord, error)
	PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error)

	// System events.
	InsertSystemEvent(ctx context.Context, ev *model.SystemEvent) error
	PruneSystemEvents(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
