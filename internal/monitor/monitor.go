// Package monitor runs the channel-check scheduler: it decides which
// channels to poll each cycle under the API quota budget, feeds new
// videos through the dedup gate, and hands them to the webhook
// dispatcher.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yt_monitor/internal/config"
	"yt_monitor/internal/dedup"
	"yt_monitor/internal/events"
	"yt_monitor/internal/model"
	"yt_monitor/internal/quota"
	"yt_monitor/internal/storage"
	"yt_monitor/internal/webhook"
	"yt_monitor/internal/youtube"
)

const (
	// fetchBatchSize matches the upstream page size used per poll.
	fetchBatchSize = 15

	// errorSleep is the fixed fallback pause after a cycle blows up.
	errorSleep = time.Minute

	// stopJoinTimeout bounds how long Stop waits for the loop to
	// finish its in-flight work before abandoning the old reference.
	stopJoinTimeout = 5 * time.Second
)

// Fetcher retrieves the latest videos for a channel.
type Fetcher interface {
	FetchLatest(ctx context.Context, channelID string, maxResults int) ([]model.Video, error)
}

// Dispatcher runs one notification round for a video.
type Dispatcher interface {
	Dispatch(ctx context.Context, video model.Video, mode webhook.Mode) webhook.Report
}

// Monitor is the scheduler service. Its lifecycle is owned by the
// process composition root via Start/Stop/Restart.
type Monitor struct {
	cfg        func() config.Config
	store      storage.Storage
	fetcher    Fetcher
	dedup      *dedup.Deduplicator
	dispatcher Dispatcher
	bus        events.Bus
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor.
func New(cfg func() config.Config, store storage.Storage, fetcher Fetcher,
	dedup *dedup.Deduplicator, dispatcher Dispatcher, bus events.Bus, log *slog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		store:      store,
		fetcher:    fetcher,
		dedup:      dedup,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
	}
}

// Running reports whether the scheduler loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start launches the scheduler loop. Starting an already-running
// monitor is a logged no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.log.Warn("monitor already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.loop(ctx)
	}()
	m.log.Info("monitor started")
}

// Stop signals the loop to halt and waits, bounded, for in-flight
// processing to finish. If the loop does not exit in time the old
// reference is abandoned; it will exit on its own after the current
// channel completes.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		m.log.Info("monitor not running")
		return
	}
	cancel()

	select {
	case <-done:
		m.log.Info("monitor stopped")
	case <-time.After(stopJoinTimeout):
		m.log.Warn("monitor loop did not stop in time, abandoning", "timeout", stopJoinTimeout)
	}
}

// Restart stops and starts the scheduler.
func (m *Monitor) Restart() {
	m.Stop()
	m.Start()
	m.log.Info("monitor restarted")
}

// RunImmediateCheck runs one check cycle outside the regular cadence,
// in its own goroutine. Overlap with the scheduled loop is safe: the
// dedup gate and the videos primary key prevent double-processing.
func (m *Monitor) RunImmediateCheck() {
	m.log.Info("running immediate channel check")
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("panic in immediate check", "panic", r)
			}
		}()
		m.checkChannels(context.Background(), true)
	}()
}

// loop is the scheduler state machine: Running -> Sleeping -> Running
// until the context is cancelled. A failed cycle never kills the
// loop; it sleeps a fixed minute and tries again.
func (m *Monitor) loop(ctx context.Context) {
	for {
		sleep := m.runCycle(ctx)

		if ctx.Err() != nil {
			return
		}
		m.log.Debug("monitor sleeping", "duration", sleep)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// runCycle executes one Running step and returns the duration of the
// following Sleeping step, recomputed from the live configuration.
func (m *Monitor) runCycle(ctx context.Context) (sleep time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in check cycle, backing off", "panic", r)
			sleep = errorSleep
		}
	}()

	m.checkChannels(ctx, false)

	// Re-read the interval after the cycle so a live config change
	// takes effect at the very next sleep.
	interval := time.Duration(m.cfg().PollingIntervalSeconds) * time.Second
	if interval < config.MinPollingIntervalSeconds*time.Second {
		interval = config.MinPollingIntervalSeconds * time.Second
	}
	return interval
}

// checkChannels runs one full check cycle: marker event, quota
// planning, staleness-ordered selection, then per-channel processing.
func (m *Monitor) checkChannels(ctx context.Context, manual bool) {
	cfg := m.cfg()

	message := "Automatic channel check initiated"
	details := `{"automatic":true}`
	if manual {
		message = "Manual channel check initiated"
		details = `{"manual":true}`
	}
	if err := m.store.InsertSystemEvent(ctx, &model.SystemEvent{
		Level:   "INFO",
		Type:    model.EventChannelCheck,
		Message: message,
		Details: details,
	}); err != nil {
		m.log.Error("record cycle marker", "error", err)
	}

	channels, err := m.store.ListActiveChannels(ctx)
	if err != nil {
		m.log.Error("list active channels", "error", err)
		return
	}

	limit := quota.Plan(cfg.DailyQuotaBudget, cfg.CostPerPoll, cfg.PollingIntervalSeconds)
	selected := quota.SelectChannels(channels, limit)
	if len(selected) < len(channels) {
		m.log.Info("limiting channel checks to conserve quota",
			"selected", len(selected), "active", len(channels))
	}

	for _, ch := range selected {
		if ctx.Err() != nil {
			m.log.Info("check cycle interrupted", "remaining", len(selected))
			return
		}
		// Once a channel's processing begins it runs to completion:
		// a stop request must not abandon a partially-dispatched video.
		m.processChannel(context.WithoutCancel(ctx), ch)
	}
}

// processChannel polls one channel and notifies for anything new.
func (m *Monitor) processChannel(ctx context.Context, ch model.Channel) {
	m.log.Debug("checking channel", "channel_id", ch.ChannelID, "name", ch.ChannelName)

	videos, fetchErr := m.fetcher.FetchLatest(ctx, ch.ChannelID, fetchBatchSize)

	// Stamp the poll time right after the attempt, success or not, so
	// a failing channel is not retried ahead of its peers.
	if err := m.store.SetChannelLastChecked(ctx, ch.ChannelID, time.Now().UTC()); err != nil {
		m.log.Error("update last checked", "channel_id", ch.ChannelID, "error", err)
	}

	if fetchErr != nil {
		m.log.Error("fetch channel videos",
			"channel_id", ch.ChannelID, "kind", youtube.KindOf(fetchErr).String(), "error", fetchErr)
		return
	}

	admitted := m.dedup.Admit(ctx, videos)
	for _, v := range admitted {
		report := m.dispatcher.Dispatch(ctx, v, webhook.ModeAutomatic)
		m.logReport(v, report)

		// Live-update emission is fire-and-forget; a full or absent
		// subscriber never affects the dispatch outcome.
		m.bus.Publish(events.NewVideoEvent(v, ch.ChannelName))
	}

	if len(admitted) > 0 {
		m.log.Info("channel check found new videos",
			"channel_id", ch.ChannelID, "name", ch.ChannelName, "count", len(admitted))
	}
}

func (m *Monitor) logReport(v model.Video, report webhook.Report) {
	if report.SuccessCount > 0 {
		m.log.Info("webhook notifications sent",
			"video_id", v.VideoID, "success", report.SuccessCount, "total", report.WebhookCount)
	} else if report.WebhookCount > 0 {
		m.log.Warn("all webhook notifications failed",
			"video_id", v.VideoID, "total", report.WebhookCount)
	}
	if len(report.Errors) > 0 {
		shown := report.Errors
		if len(shown) > 3 {
			shown = shown[:3]
		}
		msg := strings.Join(shown, "; ")
		if extra := len(report.Errors) - len(shown); extra > 0 {
			msg = fmt.Sprintf("%s (and %d more)", msg, extra)
		}
		m.log.Warn("webhook delivery errors", "video_id", v.VideoID, "errors", msg)
	}
}
