package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"yt_monitor/internal/model"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ch := model.Channel{ChannelID: "UC1", ChannelName: "Channel One", Active: true}
	if err := s.CreateChannel(ctx, &ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	got, err := s.GetChannel(ctx, "UC1")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if diff := cmp.Diff("Channel One", got.ChannelName); diff != "" {
		t.Errorf("name mismatch (-want +got):\n%s", diff)
	}
	if got.LastCheckedAt != nil {
		t.Errorf("expected nil LastCheckedAt, got %v", got.LastCheckedAt)
	}

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if err := s.SetChannelLastChecked(ctx, "UC1", at); err != nil {
		t.Fatalf("set last checked: %v", err)
	}
	got, err = s.GetChannel(ctx, "UC1")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(at) {
		t.Errorf("LastCheckedAt = %v, want %v", got.LastCheckedAt, at)
	}
}

func TestListActiveChannels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, ch := range []model.Channel{
		{ChannelID: "UC1", ChannelName: "One", Active: true},
		{ChannelID: "UC2", ChannelName: "Two", Active: false},
		{ChannelID: "UC3", ChannelName: "Three", Active: true},
	} {
		ch := ch
		if err := s.CreateChannel(ctx, &ch); err != nil {
			t.Fatalf("create channel %s: %v", ch.ChannelID, err)
		}
	}

	got, err := s.ListActiveChannels(ctx)
	if err != nil {
		t.Fatalf("list active channels: %v", err)
	}
	var ids []string
	for _, ch := range got {
		ids = append(ids, ch.ChannelID)
	}
	if diff := cmp.Diff([]string{"UC1", "UC3"}, ids); diff != "" {
		t.Errorf("active channels mismatch (-want +got):\n%s", diff)
	}
}

func testVideo(id string) model.Video {
	return model.Video{
		VideoID:      id,
		ChannelID:    "UC1",
		Title:        "Title " + id,
		Description:  "Description",
		PublishedAt:  time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		ThumbnailURL: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
		DetectedAt:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateVideoIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v := testVideo("v1")
	inserted, err := s.CreateVideo(ctx, &v)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report inserted")
	}

	dup := testVideo("v1")
	dup.Title = "Different Title"
	inserted, err = s.CreateVideo(ctx, &dup)
	if err != nil {
		t.Fatalf("create duplicate video: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate insert to report not inserted")
	}

	got, err := s.GetVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	// The original row wins; the losing insert changes nothing.
	if diff := cmp.Diff("Title v1", got.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
}

func TestVideoExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exists, err := s.VideoExists(ctx, "v1")
	if err != nil {
		t.Fatalf("video exists: %v", err)
	}
	if exists {
		t.Fatal("expected v1 to not exist yet")
	}

	v := testVideo("v1")
	if _, err := s.CreateVideo(ctx, &v); err != nil {
		t.Fatalf("create video: %v", err)
	}

	exists, err = s.VideoExists(ctx, "v1")
	if err != nil {
		t.Fatalf("video exists: %v", err)
	}
	if !exists {
		t.Fatal("expected v1 to exist")
	}
}

func TestMarkVideoNotified(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v := testVideo("v1")
	if _, err := s.CreateVideo(ctx, &v); err != nil {
		t.Fatalf("create video: %v", err)
	}

	at := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.MarkVideoNotified(ctx, "v1", at.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("mark notified: %v", err)
		}
	}

	got, err := s.GetVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if diff := cmp.Diff(3, got.NotificationCount); diff != "" {
		t.Errorf("notification count mismatch (-want +got):\n%s", diff)
	}
	if !got.NotificationSent {
		t.Error("expected NotificationSent to be set")
	}
	if got.LastNotificationAt == nil {
		t.Error("expected LastNotificationAt to be set")
	}
}

func TestWebhookRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w := model.Webhook{
		URL:     "https://example.com/hook",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Active:  true,
	}
	if err := s.CreateWebhook(ctx, &w); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if w.ID == 0 {
		t.Fatal("expected webhook ID to be populated")
	}

	inactive := model.Webhook{URL: "https://example.com/off", Active: false}
	if err := s.CreateWebhook(ctx, &inactive); err != nil {
		t.Fatalf("create webhook: %v", err)
	}

	active, err := s.ListActiveWebhooks(ctx)
	if err != nil {
		t.Fatalf("list active webhooks: %v", err)
	}
	if diff := cmp.Diff(1, len(active)); diff != "" {
		t.Fatalf("active count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(w.Headers, active[0].Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}

	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	if err := s.SetWebhookLastDelivery(ctx, w.ID, at); err != nil {
		t.Fatalf("set last delivery: %v", err)
	}
	got, err := s.GetWebhook(ctx, w.ID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if got.LastDeliveryAt == nil || !got.LastDeliveryAt.Equal(at) {
		t.Errorf("LastDeliveryAt = %v, want %v", got.LastDeliveryAt, at)
	}
}

func TestDeliveryLogAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i, rec := range []model.DeliveryRecord{
		{WebhookID: 1, VideoID: "v1", Timestamp: now.Add(-40 * 24 * time.Hour), Success: false, ResponseCode: 500},
		{WebhookID: 1, VideoID: "v1", Timestamp: now.Add(-time.Hour), Success: true, ResponseCode: 200},
		{WebhookID: 1, VideoID: "v2", Timestamp: now, Success: true, ResponseCode: 204, IsManual: true},
		{WebhookID: 2, VideoID: "v1", Timestamp: now, Success: false, ResponseCode: 0, ResponseMessage: "connection refused"},
	} {
		rec := rec
		if err := s.RecordDelivery(ctx, &rec); err != nil {
			t.Fatalf("record delivery %d: %v", i, err)
		}
	}

	recs, err := s.ListDeliveries(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if diff := cmp.Diff(3, len(recs)); diff != "" {
		t.Fatalf("delivery count mismatch (-want +got):\n%s", diff)
	}
	// Most recent first.
	if diff := cmp.Diff("v2", recs[0].VideoID); diff != "" {
		t.Errorf("ordering mismatch (-want +got):\n%s", diff)
	}
	if !recs[0].IsManual {
		t.Error("expected manual flag to round-trip")
	}

	pruned, err := s.PruneDeliveries(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("prune deliveries: %v", err)
	}
	if diff := cmp.Diff(int64(1), pruned); diff != "" {
		t.Errorf("pruned count mismatch (-want +got):\n%s", diff)
	}
}

func TestSystemEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := model.SystemEvent{
		Level:     "INFO",
		Type:      model.EventChannelCheck,
		Message:   "Automatic channel check initiated",
		Details:   `{"automatic":true}`,
		Timestamp: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.InsertSystemEvent(ctx, &ev); err != nil {
		t.Fatalf("insert system event: %v", err)
	}
	if ev.ID == 0 {
		t.Fatal("expected event ID to be populated")
	}

	pruned, err := s.PruneSystemEvents(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune system events: %v", err)
	}
	if diff := cmp.Diff(int64(1), pruned); diff != "" {
		t.Errorf("pruned count mismatch (-want +got):\n%s", diff)
	}
}
