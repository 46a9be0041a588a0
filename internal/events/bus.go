// Package events is the in-memory live-update channel. Delivery is
// best-effort: publishing never blocks and slow subscribers drop
// events rather than stalling the monitor.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"yt_monitor/internal/model"
)

// Event is a single live-update notification.
type Event struct {
	Type string `json:"type"`
	Time time.Time
	Data any
}

// NewVideoData is the payload of a "new_item" event.
type NewVideoData struct {
	ItemID       string `json:"itemId"`
	SourceID     string `json:"sourceId"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl"`
	SourceName   string `json:"sourceName"`
}

// NewVideoEvent builds the live-update event for a freshly detected video.
func NewVideoEvent(v model.Video, channelName string) Event {
	return Event{
		Type: "new_item",
		Time: time.Now().UTC(),
		Data: NewVideoData{
			ItemID:       v.VideoID,
			SourceID:     v.ChannelID,
			Title:        v.Title,
			ThumbnailURL: v.ThumbnailURL,
			SourceName:   channelName,
		},
	}
}

// Bus fans events out to subscribers.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	// Snapshot subscribers so Publish never holds the lock while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a concurrent unsubscribe may close
		// the channel mid-send, so recover from that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
