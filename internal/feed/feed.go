// Package feed fans out attendee insert/delete events to live-list
// consumers, keyed by session. The transport is opaque to publishers; any
// backend that delivers one event per successful store mutation satisfies
// the contract.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	TypeInsert = "insert"
	TypeDelete = "delete"
)

// Event is one attendee-collection change. Body is the JSON-encoded
// attendee record the change applies to.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Body      json.RawMessage `json:"body"`
}

// Feed is the abstraction over different backends.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, error)
}

// InMemory is a channel-backed broker for dev/testing. Slow subscribers
// drop events rather than block publishers.
type InMemory struct {
	mu   sync.Mutex
	subs map[string][]chan Event
	size int
}

// NewInMemory creates a broker whose subscriber channels buffer size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{subs: make(map[string][]chan Event), size: size}
}

// Publish delivers evt to every subscriber of its session.
func (f *InMemory) Publish(_ context.Context, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[evt.SessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of events for one session, closed when ctx ends.
func (f *InMemory) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	ch := make(chan Event, f.size)
	f.mu.Lock()
	f.subs[sessionID] = append(f.subs[sessionID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		subs := f.subs[sessionID]
		for i, c := range subs {
			if c == ch {
				f.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisFeed implements the feed over Redis PUBLISH/SUBSCRIBE, one channel
// per session, so every server instance sees every event.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

// NewRedisFeed builds a feed publishing to "<prefix><sessionID>".
func NewRedisFeed(client *redis.Client, prefix string) *RedisFeed {
	if prefix == "" {
		prefix = "rollcall:feed:"
	}
	return &RedisFeed{client: client, prefix: prefix}
}

// Publish sends evt to the session's channel.
func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.prefix+evt.SessionID, payload).Err()
}

// Subscribe streams the session's events until ctx is cancelled.
func (f *RedisFeed) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	return f.stream(ctx, f.client.Subscribe(ctx, f.prefix+sessionID))
}

// SubscribeAll streams events for every session, for consumers like the
// live-count worker that watch the whole collection.
func (f *RedisFeed) SubscribeAll(ctx context.Context) (<-chan Event, error) {
	return f.stream(ctx, f.client.PSubscribe(ctx, f.prefix+"*"))
}

func (f *RedisFeed) stream(ctx context.Context, sub *redis.PubSub) (<-chan Event, error) {
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
