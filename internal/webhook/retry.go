package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"yt_monitor/internal/model"
)

// SendWithRetry attempts a delivery up to maxRetries+1 times with a
// constant delay between attempts, stopping on the first success.
// Both values come from live configuration, re-read here on every
// invocation rather than cached at startup. A terminal failure is
// surfaced only through the delivery log; the dispatch loop's
// availability wins over reporting it synchronously.
func (s *Sender) SendWithRetry(ctx context.Context, wh model.Webhook, video model.Video) Outcome {
	cfg := s.cfg()
	delay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if delay < 0 {
		delay = 0
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last Outcome
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewConstant(max(delay, time.Nanosecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		last = s.Send(ctx, wh, video, ModeAutomatic)
		if last.Success {
			return nil
		}
		s.log.Warn("webhook delivery failed",
			"webhook_id", wh.ID, "url", wh.URL, "video_id", video.VideoID,
			"attempt", attempt, "max_attempts", maxRetries+1, "message", last.Message)
		return retry.RetryableError(errors.New(last.Message))
	})
	if err != nil {
		s.log.Error("webhook delivery gave up",
			"webhook_id", wh.ID, "url", wh.URL, "video_id", video.VideoID,
			"attempts", attempt, "message", last.Message)
		if last.Message == "" {
			last = Outcome{Success: false, Message: fmt.Sprintf("delivery aborted: %v", err)}
		}
	}
	return last
}
