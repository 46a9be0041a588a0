// Package webhook delivers new-video notifications to registered HTTP
// endpoints and keeps the per-attempt delivery audit trail.
package webhook

import (
	"time"

	"yt_monitor/internal/model"
	"yt_monitor/internal/youtube"
)

// Mode selects the dispatch behavior: automatic sends go through the
// bounded retry wrapper, manual and test sends happen exactly once so
// the caller gets immediate feedback.
type Mode int

// Dispatch modes.
const (
	ModeAutomatic Mode = iota
	ModeManual
	ModeTest
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeTest:
		return "test"
	default:
		return "automatic"
	}
}

// Payload is the JSON body posted to each endpoint.
type Payload struct {
	VideoID           string `json:"video_id"`
	ChannelID         string `json:"channel_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	PublishedAt       string `json:"published_at"`
	ThumbnailURL      string `json:"thumbnail_url"`
	VideoURL          string `json:"video_url"`
	NotificationTime  string `json:"notification_time"`
	NotificationCount int    `json:"notification_count"`
	IsManual          bool   `json:"is_manual_notification"`
	IsTest            bool   `json:"is_test,omitempty"`
}

const payloadTimeLayout = "2006-01-02T15:04:05Z"

// BuildPayload assembles the notification body. Missing required
// fields never abort a dispatch: they are substituted with clearly
// marked placeholders so consumers can still process the payload and
// the degradation is visible in the delivery log.
func BuildPayload(v model.Video, mode Mode, now time.Time) Payload {
	p := Payload{
		VideoID:           fallback(v.VideoID, "MISSING_video_id"),
		ChannelID:         fallback(v.ChannelID, "MISSING_channel_id"),
		Title:             fallback(v.Title, "MISSING_title"),
		Description:       fallback(v.Description, "MISSING_description"),
		ThumbnailURL:      fallback(v.ThumbnailURL, youtube.DefaultThumbnailURL),
		NotificationTime:  now.UTC().Format(payloadTimeLayout),
		NotificationCount: v.NotificationCount,
		IsManual:          mode == ModeManual,
		IsTest:            mode == ModeTest,
	}

	published := v.PublishedAt
	if published.IsZero() {
		published = now
	}
	p.PublishedAt = published.UTC().Format(payloadTimeLayout)

	p.VideoURL = "https://www.youtube.com/watch?v=" + p.VideoID
	return p
}

func fallback(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
