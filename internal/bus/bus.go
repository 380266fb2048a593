// Package bus is the in-process publish-subscribe hub the environment
// manager talks to. Publishers hand a payload to a topic; every subscriber
// of that topic receives it on its own buffered channel. Delivery never
// blocks the publisher: when a subscriber's buffer is full its oldest
// queued message is evicted to make room, and the eviction is counted.
// The newest message on a topic always reaches every subscriber.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/roadway/internal/timeutil"
)

var (
	// ErrClosed is returned by Publish once the bus has been closed.
	ErrClosed = errors.New("bus closed")
	// ErrEmptyTopic is returned by Publish for a blank topic name.
	ErrEmptyTopic = errors.New("empty topic")
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Message is one delivery. Payload is shared between all subscribers and
// must be treated as read-only.
type Message struct {
	Topic       string
	Payload     any
	Seq         uint64
	PublishedAt time.Time
}

// Publisher hands payloads to the bus.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Subscriber registers interest in topics.
type Subscriber interface {
	// Subscribe returns a subscription id and a channel receiving every
	// message published on the given topics, or on all topics when none
	// are given. The channel is closed by Unsubscribe or Close.
	Subscribe(topics ...string) (string, <-chan Message)
	// Unsubscribe removes the subscription and closes its channel.
	Unsubscribe(id string)
}

// PubSub is both ends of a bus.
type PubSub interface {
	Publisher
	Subscriber
}

type subscription struct {
	id      string
	topics  map[string]struct{}
	ch      chan Message
	dropped atomic.Uint64
}

func (s *subscription) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Bus is a PubSub implementation safe for concurrent use.
type Bus struct {
	clock  timeutil.Clock
	buffer int

	subscribers  map[string]*subscription
	subscriberMu sync.Mutex
	closing      bool

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithClock sets the clock used to stamp messages.
func WithClock(c timeutil.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:       timeutil.RealClock{},
		buffer:      DefaultBuffer,
		subscribers: make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(topics ...string) (string, <-chan Message) {
	sub := &subscription{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, b.buffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		// Closed channel so the caller's range loop ends immediately.
		close(sub.ch)
		return sub.id, sub.ch
	}
	b.subscribers[sub.id] = sub
	return sub.id, sub.ch
}

func (b *Bus) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers payload to every current subscriber of topic.
func (b *Bus) Publish(topic string, payload any) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		return ErrClosed
	}

	msg := Message{
		Topic:       topic,
		Payload:     payload,
		Seq:         b.seq.Add(1),
		PublishedAt: b.clock.Now(),
	}
	b.published.Add(1)
	for _, sub := range b.subscribers {
		if !sub.wants(topic) {
			continue
		}
		b.deliver(sub, msg)
	}
	return nil
}

// deliver queues msg on sub, evicting the oldest queued message when the
// buffer is full. Publishers are serialized by subscriberMu, so after one
// eviction the send has room.
func (b *Bus) deliver(sub *subscription, msg Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		b.dropped.Add(1)
	default:
		// The subscriber drained the buffer in between.
	}

	select {
	case sub.ch <- msg:
	default:
		sub.dropped.Add(1)
		b.dropped.Add(1)
	}
}

// Close closes every subscription. Later Publish calls fail with ErrClosed.
func (b *Bus) Close() error {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		return nil
	}
	b.closing = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Published   uint64            `json:"published"`
	Dropped     uint64            `json:"dropped"`
	Subscribers int               `json:"subscribers"`
	DroppedBy   map[string]uint64 `json:"dropped_by_subscriber,omitempty"`
	Closed      bool              `json:"closed"`
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	st := Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: len(b.subscribers),
		Closed:      b.closing,
	}
	for id, sub := range b.subscribers {
		if d := sub.dropped.Load(); d > 0 {
			if st.DroppedBy == nil {
				st.DroppedBy = make(map[string]uint64)
			}
			st.DroppedBy[id] = d
		}
	}
	return st
}
