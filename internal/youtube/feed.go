package youtube

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"yt_monitor/internal/model"
)

// fetchFeed retrieves videos from the channel's public Atom feed.
// The feed is addressed by the same channel id as the API, costs no
// quota, and serves as the secondary retrieval path.
func (c *Client) fetchFeed(ctx context.Context, channelID string, maxResults int) ([]model.Video, error) {
	body, status, err := c.get(ctx, c.feedBase+"?channel_id="+channelID)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Msg: "feed request failed", Err: err}
	}
	if status == http.StatusNotFound {
		return nil, &Error{Kind: KindNotFound, Msg: fmt.Sprintf("no feed for channel %s", channelID)}
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: KindTransient, Msg: fmt.Sprintf("feed returned status %d", status)}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Msg: "parse feed", Err: err}
	}

	now := time.Now().UTC()
	var videos []model.Video
	for _, item := range feed.Items {
		if len(videos) >= maxResults {
			break
		}
		videoID := feedVideoID(item)
		if videoID == "" {
			c.log.Warn("feed entry missing video id, skipping", "channel_id", channelID)
			continue
		}
		if item.PublishedParsed == nil {
			c.log.Warn("feed entry missing publish time, skipping", "video_id", videoID)
			continue
		}

		videos = append(videos, model.Video{
			VideoID:      videoID,
			ChannelID:    channelID,
			Title:        item.Title,
			Description:  feedDescription(item),
			PublishedAt:  item.PublishedParsed.UTC(),
			ThumbnailURL: feedThumbnail(item),
			DetectedAt:   now,
		})
	}
	return videos, nil
}

// feedVideoID extracts the video id from the yt:videoId extension,
// falling back to the "yt:video:<id>" GUID form.
func feedVideoID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]["videoId"]; ok && len(ext) > 0 && ext[0].Value != "" {
		return ext[0].Value
	}
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	return ""
}

// feedThumbnail digs the media:group/media:thumbnail URL out of the
// entry's extensions.
func feedThumbnail(item *gofeed.Item) string {
	for _, group := range item.Extensions["media"]["group"] {
		for _, thumb := range group.Children["thumbnail"] {
			if url := thumb.Attrs["url"]; url != "" {
				return url
			}
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	return DefaultThumbnailURL
}

// feedDescription prefers media:group/media:description over the
// entry description, which YouTube leaves empty in its Atom feeds.
func feedDescription(item *gofeed.Item) string {
	for _, group := range item.Extensions["media"]["group"] {
		for _, desc := range group.Children["description"] {
			if desc.Value != "" {
				return desc.Value
			}
		}
	}
	return item.Description
}
