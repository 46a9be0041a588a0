package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"yt_monitor/internal/config"
	"yt_monitor/internal/dedup"
	"yt_monitor/internal/events"
	"yt_monitor/internal/model"
	"yt_monitor/internal/storage"
	"yt_monitor/internal/webhook"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig gives every channel room in the quota plan unless the
// test overrides the budget.
func testConfig(mutate func(*config.Config)) func() config.Config {
	return func() config.Config {
		cfg := config.Config{
			PollingIntervalSeconds: 86400,
			DailyQuotaBudget:       10000,
			CostPerPoll:            100,
		}
		if mutate != nil {
			mutate(&cfg)
		}
		return cfg
	}
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	videos map[string][]model.Video
	errs   map[string]error
	called chan string
}

func (f *fakeFetcher) FetchLatest(_ context.Context, channelID string, _ int) ([]model.Video, error) {
	f.mu.Lock()
	f.calls = append(f.calls, channelID)
	f.mu.Unlock()
	if f.called != nil {
		f.called <- channelID
	}
	if err := f.errs[channelID]; err != nil {
		return nil, err
	}
	return f.videos[channelID], nil
}

func (f *fakeFetcher) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	report     webhook.Report
}

func (d *fakeDispatcher) Dispatch(_ context.Context, video model.Video, _ webhook.Mode) webhook.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, video.VideoID)
	return d.report
}

func (d *fakeDispatcher) videoIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dispatched...)
}

func newTestMonitor(t *testing.T, store storage.Storage, cfg func() config.Config,
	fetcher *fakeFetcher, dispatcher *fakeDispatcher) *Monitor {
	t.Helper()
	log := discardLogger()
	return New(cfg, store, fetcher, dedup.New(store, log), dispatcher, events.New(), log)
}

func addChannel(t *testing.T, store storage.Storage, id string, lastChecked *time.Time) {
	t.Helper()
	ch := model.Channel{ChannelID: id, ChannelName: "Channel " + id, Active: true}
	if err := store.CreateChannel(context.Background(), &ch); err != nil {
		t.Fatalf("create channel %s: %v", id, err)
	}
	if lastChecked != nil {
		if err := store.SetChannelLastChecked(context.Background(), id, *lastChecked); err != nil {
			t.Fatalf("set last checked %s: %v", id, err)
		}
	}
}

func video(id, channelID string) model.Video {
	return model.Video{
		VideoID:     id,
		ChannelID:   channelID,
		Title:       "Title " + id,
		PublishedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestCheckChannelsStalestFirst(t *testing.T) {
	store := newTestStore(t)
	recent := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	stale := time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	addChannel(t, store, "UC-recent", &recent)
	addChannel(t, store, "UC-stale", &stale)
	addChannel(t, store, "UC-never", nil)

	fetcher := &fakeFetcher{}
	m := newTestMonitor(t, store, testConfig(nil), fetcher, &fakeDispatcher{})

	m.checkChannels(context.Background(), false)

	want := []string{"UC-never", "UC-stale", "UC-recent"}
	if diff := cmp.Diff(want, fetcher.callOrder()); diff != "" {
		t.Errorf("poll order mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckChannelsQuotaLimit(t *testing.T) {
	store := newTestStore(t)
	addChannel(t, store, "UC-a", nil)
	addChannel(t, store, "UC-b", nil)
	addChannel(t, store, "UC-c", nil)

	fetcher := &fakeFetcher{}
	// 2400 units at 100 per poll, 24 polls a day: one channel fits.
	cfg := testConfig(func(c *config.Config) {
		c.PollingIntervalSeconds = 3600
		c.DailyQuotaBudget = 2400
	})
	m := newTestMonitor(t, store, cfg, fetcher, &fakeDispatcher{})

	m.checkChannels(context.Background(), false)

	if got := len(fetcher.callOrder()); got != 1 {
		t.Errorf("polled %d channels, want 1", got)
	}
}

func TestCheckChannelsStampsLastCheckedOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addChannel(t, store, "UC-broken", nil)

	fetcher := &fakeFetcher{errs: map[string]error{"UC-broken": errors.New("upstream down")}}
	dispatcher := &fakeDispatcher{}
	m := newTestMonitor(t, store, testConfig(nil), fetcher, dispatcher)

	m.checkChannels(ctx, false)

	ch, err := store.GetChannel(ctx, "UC-broken")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.LastCheckedAt == nil {
		t.Error("expected LastCheckedAt to be stamped after a failed fetch")
	}
	if got := dispatcher.videoIDs(); len(got) != 0 {
		t.Errorf("dispatched %v after a failed fetch, want none", got)
	}
}

func TestCheckChannelsDispatchesOnlyNewVideos(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addChannel(t, store, "UC-a", nil)

	known := video("v-known", "UC-a")
	if _, err := store.CreateVideo(ctx, &known); err != nil {
		t.Fatalf("seed known video: %v", err)
	}

	fetcher := &fakeFetcher{videos: map[string][]model.Video{
		"UC-a": {video("v-new", "UC-a"), video("v-known", "UC-a")},
	}}
	dispatcher := &fakeDispatcher{report: webhook.Report{WebhookCount: 1, SuccessCount: 1}}
	m := newTestMonitor(t, store, testConfig(nil), fetcher, dispatcher)

	m.checkChannels(ctx, false)

	if diff := cmp.Diff([]string{"v-new"}, dispatcher.videoIDs()); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckChannelsPublishesEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addChannel(t, store, "UC-a", nil)

	fetcher := &fakeFetcher{videos: map[string][]model.Video{
		"UC-a": {video("v-new", "UC-a")},
	}}
	log := discardLogger()
	bus := events.New()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	m := New(testConfig(nil), store, fetcher, dedup.New(store, log), &fakeDispatcher{}, bus, log)
	m.checkChannels(ctx, false)

	select {
	case ev := <-ch:
		if ev.Type != "new_item" {
			t.Errorf("event type = %q, want new_item", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestCheckChannelsRecordsCycleMarker(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := newTestMonitor(t, store, testConfig(nil), &fakeFetcher{}, &fakeDispatcher{})
	m.checkChannels(ctx, false)
	m.checkChannels(ctx, true)

	// Both runs left a marker row.
	pruned, err := store.PruneSystemEvents(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune system events: %v", err)
	}
	if diff := cmp.Diff(int64(2), pruned); diff != "" {
		t.Errorf("marker count mismatch (-want +got):\n%s", diff)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	store := newTestStore(t)
	m := newTestMonitor(t, store, testConfig(nil), &fakeFetcher{}, &fakeDispatcher{})

	if m.Running() {
		t.Fatal("monitor running before Start")
	}

	m.Start()
	if !m.Running() {
		t.Fatal("monitor not running after Start")
	}

	// Second Start is a no-op, not a second loop.
	m.Start()
	if !m.Running() {
		t.Fatal("monitor stopped by redundant Start")
	}

	m.Stop()
	if m.Running() {
		t.Fatal("monitor still running after Stop")
	}

	// Stopping a stopped monitor is harmless.
	m.Stop()
}

func TestRestart(t *testing.T) {
	store := newTestStore(t)
	m := newTestMonitor(t, store, testConfig(nil), &fakeFetcher{}, &fakeDispatcher{})

	m.Start()
	m.Restart()
	if !m.Running() {
		t.Fatal("monitor not running after Restart")
	}
	m.Stop()
}

func TestRunImmediateCheck(t *testing.T) {
	store := newTestStore(t)
	addChannel(t, store, "UC-a", nil)

	fetcher := &fakeFetcher{called: make(chan string, 1)}
	m := newTestMonitor(t, store, testConfig(nil), fetcher, &fakeDispatcher{})

	m.RunImmediateCheck()

	select {
	case id := <-fetcher.called:
		if id != "UC-a" {
			t.Errorf("checked channel %q, want UC-a", id)
		}
	case <-time.After(time.Second):
		t.Fatal("immediate check never polled the channel")
	}
}
