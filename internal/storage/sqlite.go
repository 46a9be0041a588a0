package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"yt_monitor/internal/model"
	"yt_monitor/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChannel inserts a new channel, populating AddedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	var lastChecked *string
	if ch.LastCheckedAt != nil {
		v := ch.LastCheckedAt.UTC().Format(timeLayout)
		lastChecked = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (channel_id, channel_name, active, added_at, last_checked)
		 VALUES (?, ?, ?, ?, ?)`,
		ch.ChannelID, ch.ChannelName, boolToInt(ch.Active), now, lastChecked,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	ch.AddedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChannel returns a single channel by its YouTube channel ID.
func (s *SQLite) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT channel_id, channel_name, active, added_at, last_checked
		 FROM channels WHERE channel_id = ?`, channelID,
	)
	return scanChannel(row)
}

// ListActiveChannels returns all channels currently being monitored.
func (s *SQLite) ListActiveChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, channel_name, active, added_at, last_checked
		 FROM channels WHERE active = 1 ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// SetChannelLastChecked stamps the channel's last poll time.
func (s *SQLite) SetChannelLastChecked(ctx context.Context, channelID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_checked = ? WHERE channel_id = ?`,
		at.UTC().Format(timeLayout), channelID,
	)
	if err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	return nil
}

// VideoExists reports whether a video has already been recorded.
func (s *SQLite) VideoExists(ctx context.Context, videoID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM videos WHERE video_id = ?`, videoID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check video exists: %w", err)
	}
	return count > 0, nil
}

// CreateVideo inserts a video if no row with the same video_id exists.
// It returns false when the video was already present; a concurrent
// insert losing the primary-key race is reported the same way.
func (s *SQLite) CreateVideo(ctx context.Context, v *model.Video) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO videos
		 (video_id, channel_id, title, description, published_at, thumbnail_url,
		  notification_sent, notification_count, last_notification_time, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		v.VideoID, v.ChannelID, v.Title, v.Description,
		v.PublishedAt.UTC().Format(timeLayout), v.ThumbnailURL,
		boolToInt(v.NotificationSent), v.NotificationCount,
		v.DetectedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetVideo returns a single video by its YouTube video ID.
func (s *SQLite) GetVideo(ctx context.Context, videoID string) (*model.Video, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT video_id, channel_id, title, description, published_at, thumbnail_url,
		        notification_sent, notification_count, last_notification_time, detected_at
		 FROM videos WHERE video_id = ?`, videoID,
	)
	var v model.Video
	var sent int
	var published, detected string
	var lastNotif sql.NullString
	err := row.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.Description,
		&published, &v.ThumbnailURL, &sent, &v.NotificationCount, &lastNotif, &detected)
	if err != nil {
		return nil, fmt.Errorf("scan video: %w", err)
	}
	v.NotificationSent = sent == 1
	v.PublishedAt, _ = time.Parse(timeLayout, published)
	v.DetectedAt, _ = time.Parse(timeLayout, detected)
	if lastNotif.Valid {
		t, _ := time.Parse(timeLayout, lastNotif.String)
		v.LastNotificationAt = &t
	}
	return &v, nil
}

// MarkVideoNotified records the completion of one dispatch round:
// the counter moves by exactly 1 per round, never per endpoint.
func (s *SQLite) MarkVideoNotified(ctx context.Context, videoID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE videos
		 SET notification_sent = 1,
		     notification_count = notification_count + 1,
		     last_notification_time = ?
		 WHERE video_id = ?`,
		at.UTC().Format(timeLayout), videoID,
	)
	if err != nil {
		return fmt.Errorf("mark video notified: %w", err)
	}
	return nil
}

// CreateWebhook inserts a new webhook and populates its ID and CreatedAt.
func (s *SQLite) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	now := time.Now().UTC().Format(timeLayout)
	headers, err := json.Marshal(w.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (url, description, headers, active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		w.URL, w.Description, string(headers), boolToInt(w.Active), now,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	w.ID = id
	w.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetWebhook returns a single webhook by its ID.
func (s *SQLite) GetWebhook(ctx context.Context, id int64) (*model.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, description, headers, active, created_at, last_delivery
		 FROM webhooks WHERE id = ?`, id,
	)
	return scanWebhook(row)
}

// ListActiveWebhooks returns all webhooks that should receive notifications.
func (s *SQLite) ListActiveWebhooks(ctx context.Context) ([]model.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, description, headers, active, created_at, last_delivery
		 FROM webhooks WHERE active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var webhooks []model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

// SetWebhookLastDelivery stamps a webhook's last successful delivery.
func (s *SQLite) SetWebhookLastDelivery(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET last_delivery = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update last delivery: %w", err)
	}
	return nil
}

// RecordDelivery appends one attempt to the delivery audit trail.
func (s *SQLite) RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries
		 (webhook_id, video_id, timestamp, success, response_code, response_message, is_test, is_manual)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WebhookID, rec.VideoID, rec.Timestamp.UTC().Format(timeLayout),
		boolToInt(rec.Success), rec.ResponseCode, rec.ResponseMessage,
		boolToInt(rec.IsTest), boolToInt(rec.IsManual),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListDeliveries returns the most recent delivery attempts for a webhook.
func (s *SQLite) ListDeliveries(ctx context.Context, webhookID int64, limit int) ([]model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, video_id, timestamp, success, response_code, response_message, is_test, is_manual
		 FROM deliveries WHERE webhook_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		webhookID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.DeliveryRecord
	for rows.Next() {
		var r model.DeliveryRecord
		var success, isTest, isManual int
		var ts string
		if err := rows.Scan(&r.ID, &r.WebhookID, &r.VideoID, &ts, &success,
			&r.ResponseCode, &r.ResponseMessage, &isTest, &isManual); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		r.Success = success == 1
		r.IsTest = isTest == 1
		r.IsManual = isManual == 1
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PruneDeliveries deletes delivery records older than the cutoff.
func (s *SQLite) PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE timestamp < ?`,
		olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

// InsertSystemEvent appends an operational marker event.
func (s *SQLite) InsertSystemEvent(ctx context.Context, ev *model.SystemEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO system_events (level, type, message, details, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Level, ev.Type, ev.Message, ev.Details, ev.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert system event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// PruneSystemEvents deletes system events older than the cutoff.
func (s *SQLite) PruneSystemEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM system_events WHERE timestamp < ?`,
		olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune system events: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var active int
	var added, lastChecked sql.NullString
	err := row.Scan(&ch.ChannelID, &ch.ChannelName, &active, &added, &lastChecked)
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Active = active == 1
	if added.Valid {
		ch.AddedAt, _ = time.Parse(timeLayout, added.String)
	}
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		ch.LastCheckedAt = &t
	}
	return &ch, nil
}

func scanWebhook(row scannable) (*model.Webhook, error) {
	var w model.Webhook
	var active int
	var headers string
	var created, lastDelivery sql.NullString
	err := row.Scan(&w.ID, &w.URL, &w.Description, &headers, &active, &created, &lastDelivery)
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	w.Active = active == 1
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &w.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if created.Valid {
		w.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if lastDelivery.Valid {
		t, _ := time.Parse(timeLayout, lastDelivery.String)
		w.LastDeliveryAt = &t
	}
	return &w, nil
}
