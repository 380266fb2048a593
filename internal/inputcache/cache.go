// Package inputcache holds the most recent value received on each inbound
// channel of the environment manager.
//
// Every channel is a Slot: a single atomic pointer to an immutable stamped
// value. Store replaces the whole entry, so a Load never observes a value
// mixing fields from two different writes. Reads never block and return
// ok=false until the first value arrives. Nothing is synchronised across
// channels; two reads in the same tick may see values produced at quite
// different times.
package inputcache

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/roadway/internal/messages"
)

// ErrTypeMismatch is returned by Update when value is not the payload type
// of the channel.
var ErrTypeMismatch = errors.New("payload type does not match channel")

// Channel identifies one inbound input.
type Channel int

const (
	RouteSegment Channel = iota
	Heading
	NavSatFix
	Odometry
	TrackedObjects
	TrackedVehicles
	Velocity

	numChannels
)

var channelTopics = [numChannels]string{
	RouteSegment:    messages.TopicRouteSegment,
	Heading:         messages.TopicHeading,
	NavSatFix:       messages.TopicNavSatFix,
	Odometry:        messages.TopicOdometry,
	TrackedObjects:  messages.TopicTrackedObjects,
	TrackedVehicles: messages.TopicTrackedVehicles,
	Velocity:        messages.TopicVelocity,
}

// String returns the bus topic the channel is fed from.
func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelTopics[c]
}

// Channels returns every channel in declaration order.
func Channels() []Channel {
	out := make([]Channel, 0, numChannels)
	for c := Channel(0); c < numChannels; c++ {
		out = append(out, c)
	}
	return out
}

// ChannelForTopic maps a bus topic to its channel.
func ChannelForTopic(topic string) (Channel, bool) {
	for c, t := range channelTopics {
		if t == topic {
			return Channel(c), true
		}
	}
	return 0, false
}

// Stamped is a value together with the time it was received.
type Stamped[T any] struct {
	Value T
	Time  time.Time
}

// Slot is a single-channel, last-write-wins cell.
type Slot[T any] struct {
	latest   atomic.Pointer[Stamped[T]]
	received atomic.Uint64
	rejected atomic.Uint64
}

// Store replaces the slot contents with v stamped at t. Payloads that
// implement messages.Validator are checked first; an invalid payload is
// rejected and the previous value kept. Slices inside v are copied so the
// caller may reuse its value afterwards.
func (s *Slot[T]) Store(v T, t time.Time) error {
	if val, ok := any(v).(messages.Validator); ok {
		if err := val.Validate(); err != nil {
			s.rejected.Add(1)
			return err
		}
	}
	if c, ok := any(v).(interface{ Clone() T }); ok {
		v = c.Clone()
	}
	s.latest.Store(&Stamped[T]{Value: v, Time: t})
	s.received.Add(1)
	return nil
}

// Load returns the latest value, or ok=false if none has been stored.
func (s *Slot[T]) Load() (Stamped[T], bool) {
	p := s.latest.Load()
	if p == nil {
		return Stamped[T]{}, false
	}
	return *p, true
}

// ChannelStatus summarises one slot for diagnostics.
type ChannelStatus struct {
	Channel  string        `json:"channel"`
	Present  bool          `json:"present"`
	Received uint64        `json:"received"`
	Rejected uint64        `json:"rejected"`
	Updated  time.Time     `json:"updated,omitempty"`
	Age      time.Duration `json:"age_ns,omitempty"`
}

func (s *Slot[T]) status(name string, now time.Time) ChannelStatus {
	st := ChannelStatus{
		Channel:  name,
		Received: s.received.Load(),
		Rejected: s.rejected.Load(),
	}
	if p := s.latest.Load(); p != nil {
		st.Present = true
		st.Updated = p.Time
		st.Age = now.Sub(p.Time)
	}
	return st
}

// Cache holds one Slot per inbound channel. The zero value is ready to use.
type Cache struct {
	routeSegment    Slot[messages.RouteSegment]
	heading         Slot[messages.HeadingStamped]
	navSatFix       Slot[messages.NavSatFix]
	odometry        Slot[messages.Odometry]
	trackedObjects  Slot[messages.ExternalObjectList]
	trackedVehicles Slot[messages.ConnectedVehicleList]
	velocity        Slot[messages.TwistStamped]
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Update stores value on channel ch. value may be the payload struct or a
// pointer to it.
func (c *Cache) Update(ch Channel, value any, t time.Time) error {
	switch ch {
	case RouteSegment:
		return store(&c.routeSegment, ch, value, t)
	case Heading:
		return store(&c.heading, ch, value, t)
	case NavSatFix:
		return store(&c.navSatFix, ch, value, t)
	case Odometry:
		return store(&c.odometry, ch, value, t)
	case TrackedObjects:
		return store(&c.trackedObjects, ch, value, t)
	case TrackedVehicles:
		return store(&c.trackedVehicles, ch, value, t)
	case Velocity:
		return store(&c.velocity, ch, value, t)
	default:
		return fmt.Errorf("unknown channel %d", int(ch))
	}
}

func store[T any](s *Slot[T], ch Channel, value any, t time.Time) error {
	switch v := value.(type) {
	case T:
		return s.Store(v, t)
	case *T:
		if v == nil {
			return fmt.Errorf("%s: nil payload: %w", ch, ErrTypeMismatch)
		}
		return s.Store(*v, t)
	default:
		return fmt.Errorf("%s: got %T: %w", ch, value, ErrTypeMismatch)
	}
}

// Read returns the latest value on ch with its payload boxed in an any.
func (c *Cache) Read(ch Channel) (Stamped[any], bool) {
	switch ch {
	case RouteSegment:
		return boxed(&c.routeSegment)
	case Heading:
		return boxed(&c.heading)
	case NavSatFix:
		return boxed(&c.navSatFix)
	case Odometry:
		return boxed(&c.odometry)
	case TrackedObjects:
		return boxed(&c.trackedObjects)
	case TrackedVehicles:
		return boxed(&c.trackedVehicles)
	case Velocity:
		return boxed(&c.velocity)
	default:
		return Stamped[any]{}, false
	}
}

func boxed[T any](s *Slot[T]) (Stamped[any], bool) {
	v, ok := s.Load()
	if !ok {
		return Stamped[any]{}, false
	}
	return Stamped[any]{Value: v.Value, Time: v.Time}, true
}

func (c *Cache) RouteSegment() (Stamped[messages.RouteSegment], bool) {
	return c.routeSegment.Load()
}

func (c *Cache) Heading() (Stamped[messages.HeadingStamped], bool) {
	return c.heading.Load()
}

func (c *Cache) NavSatFix() (Stamped[messages.NavSatFix], bool) {
	return c.navSatFix.Load()
}

func (c *Cache) Odometry() (Stamped[messages.Odometry], bool) {
	return c.odometry.Load()
}

func (c *Cache) TrackedObjects() (Stamped[messages.ExternalObjectList], bool) {
	return c.trackedObjects.Load()
}

func (c *Cache) TrackedVehicles() (Stamped[messages.ConnectedVehicleList], bool) {
	return c.trackedVehicles.Load()
}

func (c *Cache) Velocity() (Stamped[messages.TwistStamped], bool) {
	return c.velocity.Load()
}

// Status reports every channel's state relative to now.
func (c *Cache) Status(now time.Time) []ChannelStatus {
	return []ChannelStatus{
		c.routeSegment.status(RouteSegment.String(), now),
		c.heading.status(Heading.String(), now),
		c.navSatFix.status(NavSatFix.String(), now),
		c.odometry.status(Odometry.String(), now),
		c.trackedObjects.status(TrackedObjects.String(), now),
		c.trackedVehicles.status(TrackedVehicles.String(), now),
		c.velocity.status(Velocity.String(), now),
	}
}
