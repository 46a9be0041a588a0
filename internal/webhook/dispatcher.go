package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"yt_monitor/internal/model"
)

// Registry lists the endpoints to notify and records round completion.
type Registry interface {
	ListActiveWebhooks(ctx context.Context) ([]model.Webhook, error)
	GetWebhook(ctx context.Context, id int64) (*model.Webhook, error)
	MarkVideoNotified(ctx context.Context, videoID string, at time.Time) error
}

// Report summarizes one dispatch round.
type Report struct {
	WebhookCount int
	SuccessCount int
	Errors       []string
}

// AllSucceeded reports whether every endpoint delivery in the round
// succeeded.
func (r Report) AllSucceeded() bool {
	return r.WebhookCount > 0 && r.SuccessCount == r.WebhookCount
}

// Dispatcher fans a video out to every active webhook.
type Dispatcher struct {
	sender   *Sender
	registry Registry
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender *Sender, registry Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, registry: registry, log: log}
}

// Dispatch runs one notification round for a video. Endpoints are
// notified concurrently and their outcomes recorded independently;
// automatic mode wraps each delivery in the bounded retrier, manual
// and test modes send exactly once. Once every outcome is in, the
// video's notification counter moves by exactly 1 — success or not,
// the round was initiated and that is what the counter measures.
func (d *Dispatcher) Dispatch(ctx context.Context, video model.Video, mode Mode) Report {
	webhooks, err := d.registry.ListActiveWebhooks(ctx)
	if err != nil {
		d.log.Error("list active webhooks", "video_id", video.VideoID, "error", err)
		return Report{Errors: []string{fmt.Sprintf("list webhooks: %v", err)}}
	}
	if len(webhooks) == 0 {
		d.log.Warn("no active webhooks to notify", "video_id", video.VideoID)
		return Report{}
	}

	d.log.Info("dispatching notification",
		"video_id", video.VideoID, "webhooks", len(webhooks), "mode", mode)

	type result struct {
		wh  model.Webhook
		out Outcome
	}

	results := make([]result, len(webhooks))
	var wg sync.WaitGroup
	for i, wh := range webhooks {
		wg.Add(1)
		go func(i int, wh model.Webhook) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic during webhook delivery",
						"webhook_id", wh.ID, "url", wh.URL, "panic", r)
					results[i] = result{wh: wh,
						out: Outcome{Success: false, Message: fmt.Sprintf("panic: %v", r)}}
				}
			}()

			var out Outcome
			if mode == ModeAutomatic {
				out = d.sender.SendWithRetry(ctx, wh, video)
			} else {
				out = d.sender.Send(ctx, wh, video, mode)
			}
			results[i] = result{wh: wh, out: out}
		}(i, wh)
	}
	wg.Wait()

	report := Report{WebhookCount: len(webhooks)}
	for _, res := range results {
		if res.out.Success {
			report.SuccessCount++
			continue
		}
		report.Errors = append(report.Errors,
			fmt.Sprintf("deliver to %s: %s", res.wh.URL, res.out.Message))
	}
	sort.Strings(report.Errors)

	// All outcomes are recorded by now; complete the round.
	if err := d.registry.MarkVideoNotified(ctx, video.VideoID, time.Now().UTC()); err != nil {
		d.log.Error("mark video notified", "video_id", video.VideoID, "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("update notification count: %v", err))
	}

	d.log.Info("dispatch round complete",
		"video_id", video.VideoID,
		"success", report.SuccessCount, "total", report.WebhookCount)
	return report
}

// SendTest posts a synthetic payload to a single webhook so an
// operator can verify the endpoint end to end.
func (d *Dispatcher) SendTest(ctx context.Context, webhookID int64, customMessage string) (Outcome, error) {
	wh, err := d.registry.GetWebhook(ctx, webhookID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load webhook %d: %w", webhookID, err)
	}

	description := customMessage
	if description == "" {
		description = "This is a test notification from the channel monitor"
	}
	now := time.Now().UTC()
	video := model.Video{
		VideoID:      "TEST_VIDEO_ID",
		ChannelID:    "TEST_CHANNEL_ID",
		Title:        "Test Notification",
		Description:  description,
		PublishedAt:  now,
		ThumbnailURL: "https://via.placeholder.com/480x360.png?text=Test+Thumbnail",
		DetectedAt:   now,
	}
	return d.sender.Send(ctx, *wh, video, ModeTest), nil
}
