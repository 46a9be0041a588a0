package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"yt_monitor/internal/config"
	"yt_monitor/internal/model"
)

const sendTimeout = 10 * time.Second

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeliveryStore records delivery outcomes.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error
	SetWebhookLastDelivery(ctx context.Context, id int64, at time.Time) error
}

// Outcome is the result of a single delivery attempt.
type Outcome struct {
	Success    bool
	StatusCode int
	Message    string
}

// Sender performs individual webhook deliveries. Outbound posts share
// a rate limiter so a large fan-out cannot burst-flood endpoints.
type Sender struct {
	client  HTTPClient
	store   DeliveryStore
	cfg     func() config.Config
	log     *slog.Logger
	limiter *rate.Limiter
}

// NewSender creates a Sender. cfg is consulted on every retry-wrapped
// send so live configuration changes apply without restart.
func NewSender(client HTTPClient, store DeliveryStore, cfg func() config.Config, log *slog.Logger) *Sender {
	return &Sender{
		client:  client,
		store:   store,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

// Send performs exactly one delivery attempt and appends its outcome
// to the delivery log. Connection failures and non-2xx responses are
// failures with the error captured, never a returned error.
func (s *Sender) Send(ctx context.Context, wh model.Webhook, video model.Video, mode Mode) Outcome {
	if err := s.limiter.Wait(ctx); err != nil {
		return s.recordFailure(ctx, wh, video, mode, fmt.Sprintf("cancelled: %v", err))
	}

	payload := BuildPayload(video, mode, time.Now().UTC())
	body, err := json.Marshal(payload)
	if err != nil {
		return s.recordFailure(ctx, wh, video, mode, fmt.Sprintf("encode payload: %v", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return s.recordFailure(ctx, wh, video, mode, fmt.Sprintf("build request: %v", err))
	}

	// Endpoint-specific headers are merged over the JSON default.
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.recordFailure(ctx, wh, video, mode, fmt.Sprintf("post: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	out := Outcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}
	s.record(ctx, wh, video, mode, out)

	if out.Success {
		if err := s.store.SetWebhookLastDelivery(ctx, wh.ID, time.Now().UTC()); err != nil {
			s.log.Error("update webhook last delivery", "webhook_id", wh.ID, "error", err)
		}
	}
	return out
}

func (s *Sender) recordFailure(ctx context.Context, wh model.Webhook, video model.Video, mode Mode, msg string) Outcome {
	out := Outcome{Success: false, StatusCode: 0, Message: msg}
	s.record(ctx, wh, video, mode, out)
	return out
}

// record appends one attempt to the audit trail. Every attempt gets
// its own record, including each retry.
func (s *Sender) record(ctx context.Context, wh model.Webhook, video model.Video, mode Mode, out Outcome) {
	rec := model.DeliveryRecord{
		WebhookID:       wh.ID,
		VideoID:         video.VideoID,
		Timestamp:       time.Now().UTC(),
		Success:         out.Success,
		ResponseCode:    out.StatusCode,
		ResponseMessage: out.Message,
		IsTest:          mode == ModeTest,
		IsManual:        mode == ModeManual,
	}
	if err := s.store.RecordDelivery(ctx, &rec); err != nil {
		s.log.Error("record delivery", "webhook_id", wh.ID, "video_id", video.VideoID, "error", err)
	}
}
