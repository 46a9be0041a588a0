// Package model defines the domain types used across the application.
package model

import "time"

// Channel represents a monitored YouTube channel.
type Channel struct {
	ChannelID     string
	ChannelName   string
	Active        bool
	AddedAt       time.Time
	LastCheckedAt *time.Time
}

// Video represents a single video detected on a monitored channel.
type Video struct {
	VideoID            string
	ChannelID          string
	Title              string
	Description        string
	PublishedAt        time.Time
	ThumbnailURL       string
	NotificationSent   bool
	NotificationCount  int
	LastNotificationAt *time.Time
	DetectedAt         time.Time
}

// Webhook represents a registered HTTP endpoint that receives
// new-video notifications.
type Webhook struct {
	ID             int64
	URL            string
	Description    string
	Headers        map[string]string
	Active         bool
	CreatedAt      time.Time
	LastDeliveryAt *time.Time
}

// DeliveryRecord is one append-only entry in the delivery audit trail.
// Every attempt, including each retry, gets its own record.
type DeliveryRecord struct {
	ID              int64
	WebhookID       int64
	VideoID         string
	Timestamp       time.Time
	Success         bool
	ResponseCode    int
	ResponseMessage string
	IsTest          bool
	IsManual        bool
}

// SystemEvent records an operational marker, e.g. the start of a
// check cycle.
type SystemEvent struct {
	ID        int64
	Level     string
	Type      string
	Message   string
	Details   string
	Timestamp time.Time
}

// EventChannelCheck marks the start of a channel check cycle.
const EventChannelCheck = "CHANNEL_CHECK"
