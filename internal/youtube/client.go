// Package youtube wraps the YouTube Data API with a two-tier retrieval
// strategy: the search endpoint first, falling back to the channel's
// public Atom feed when the API call cannot be used.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"yt_monitor/internal/model"
)

const (
	apiBaseURL  = "https://www.googleapis.com/youtube/v3"
	feedBaseURL = "https://www.youtube.com/feeds/videos.xml"

	publishedAtLayout = "2006-01-02T15:04:05Z"
	requestTimeout    = 10 * time.Second
	maxBodyBytes      = 5 * 1024 * 1024

	// DefaultThumbnailURL is substituted when the upstream provides
	// no usable thumbnail at all.
	DefaultThumbnailURL = "https://via.placeholder.com/480x360.png?text=No+Thumbnail"
)

// thumbnailPreference is the fixed quality ordering for picking the
// best available thumbnail.
var thumbnailPreference = []string{"maxres", "high", "standard", "medium", "default"}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the latest videos for a channel.
type Client struct {
	client HTTPClient
	apiKey func() string
	log    *slog.Logger

	apiBase  string
	feedBase string
}

// New creates a Client. apiKey is called per request so a key rotated
// through live configuration is picked up immediately.
func New(client HTTPClient, apiKey func() string, log *slog.Logger) *Client {
	return &Client{
		client:   client,
		apiKey:   apiKey,
		log:      log,
		apiBase:  apiBaseURL,
		feedBase: feedBaseURL,
	}
}

// SetBaseURLs overrides the upstream endpoints (useful for testing).
func (c *Client) SetBaseURLs(apiBase, feedBase string) {
	c.apiBase = apiBase
	c.feedBase = feedBase
}

// FetchLatest returns up to maxResults of the channel's most recent
// videos, newest first. A 403 from the API is returned as a classified
// error without trying the fallback; any other primary failure falls
// back to the channel's Atom feed.
func (c *Client) FetchLatest(ctx context.Context, channelID string, maxResults int) ([]model.Video, error) {
	videos, primaryErr := c.search(ctx, channelID, maxResults)
	if primaryErr == nil {
		return videos, nil
	}

	if k := KindOf(primaryErr); k == KindQuotaExceeded || k == KindInvalidCredential {
		return nil, primaryErr
	}

	c.log.Warn("primary fetch failed, trying channel feed",
		"channel_id", channelID, "error", primaryErr)

	videos, feedErr := c.fetchFeed(ctx, channelID, maxResults)
	if feedErr == nil {
		return videos, nil
	}

	// Both paths failed. A channel unknown to both is not-found;
	// anything else is reported transient.
	if KindOf(primaryErr) == KindNotFound && KindOf(feedErr) == KindNotFound {
		return nil, primaryErr
	}
	return nil, &Error{Kind: KindTransient,
		Msg: fmt.Sprintf("both retrieval paths failed for channel %s (fallback: %v)", channelID, feedErr),
		Err: primaryErr}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			PublishedAt string `json:"publishedAt"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Thumbnails  map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *Client) search(ctx context.Context, channelID string, maxResults int) ([]model.Video, error) {
	key := c.apiKey()
	if key == "" {
		return nil, &Error{Kind: KindInvalidCredential, Msg: "API key is not configured"}
	}

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("channelId", channelID)
	q.Set("maxResults", fmt.Sprintf("%d", maxResults))
	q.Set("order", "date")
	q.Set("type", "video")
	q.Set("key", key)

	body, status, err := c.get(ctx, c.apiBase+"/search?"+q.Encode())
	if err != nil {
		return nil, &Error{Kind: KindTransient, Msg: "search request failed", Err: err}
	}

	switch {
	case status == http.StatusOK:
		// fall through to decoding
	case status == http.StatusForbidden:
		return nil, classifyForbidden(body)
	case status == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Msg: fmt.Sprintf("channel %s not found", channelID)}
	default:
		return nil, &Error{Kind: KindTransient, Msg: fmt.Sprintf("search returned status %d", status)}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindTransient, Msg: "decode search response", Err: err}
	}

	now := time.Now().UTC()
	videos := make([]model.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			c.log.Warn("search item missing video id, skipping", "channel_id", channelID)
			continue
		}
		published, err := time.Parse(publishedAtLayout, item.Snippet.PublishedAt)
		if err != nil {
			c.log.Warn("unparseable publish time, skipping video",
				"video_id", item.ID.VideoID, "published_at", item.Snippet.PublishedAt)
			continue
		}

		thumbnail := DefaultThumbnailURL
		for _, quality := range thumbnailPreference {
			if t, ok := item.Snippet.Thumbnails[quality]; ok && t.URL != "" {
				thumbnail = t.URL
				break
			}
		}

		videos = append(videos, model.Video{
			VideoID:      item.ID.VideoID,
			ChannelID:    channelID,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			PublishedAt:  published,
			ThumbnailURL: thumbnail,
			DetectedAt:   now,
		})
	}
	return videos, nil
}

// classifyForbidden maps a 403 body onto quota vs credential errors.
// 403s never trigger the feed fallback: retrying elsewhere does not
// help an exhausted quota or a bad key.
func classifyForbidden(body []byte) *Error {
	var resp apiErrorResponse
	_ = json.Unmarshal(body, &resp)

	reason := "unknown"
	if len(resp.Error.Errors) > 0 {
		reason = resp.Error.Errors[0].Reason
	}
	switch reason {
	case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
		return &Error{Kind: KindQuotaExceeded, Msg: resp.Error.Message}
	case "keyInvalid", "forbidden":
		return &Error{Kind: KindInvalidCredential, Msg: resp.Error.Message}
	default:
		return &Error{Kind: KindInvalidCredential,
			Msg: fmt.Sprintf("forbidden (reason %s): %s", reason, resp.Error.Message)}
	}
}

func (c *Client) get(ctx context.Context, rawURL string) (body []byte, status int, err error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
