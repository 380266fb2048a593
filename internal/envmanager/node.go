// Package envmanager is the environment manager node. It caches the latest
// message of every inbound topic, tracks system readiness, and on a fixed
// cadence broadcasts the map→odom→body transform chain and, once the
// system is ready, a roadway environment snapshot.
package envmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/gate"
	"github.com/banshee-data/roadway/internal/inputcache"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/monitoring"
	"github.com/banshee-data/roadway/internal/roadway"
	"github.com/banshee-data/roadway/internal/timeutil"
)

var logf = monitoring.Component("EnvManager")

// ErrShutdownRequested is returned by Run when a SHUTDOWN system alert
// stopped the node.
var ErrShutdownRequested = errors.New("shutdown requested by system alert")

// NodeName is the alert source prefix of this node.
const NodeName = "environment_manager"

// Config holds the node settings.
type Config struct {
	// TickPeriod is the broadcast period (default 1s).
	TickPeriod time.Duration

	// Datum anchors the map frame. Nil keeps map→odom at identity.
	Datum *frames.Datum

	// HostSize is the host vehicle bounding box.
	HostSize messages.Vector3

	// ShutdownOnAlert stops Run when a SHUTDOWN alert arrives.
	ShutdownOnAlert bool

	// Resolver, when set, is probed once at startup.
	Resolver        TransformResolver
	ResolverTimeout time.Duration
}

// DefaultConfig returns the settings of the reference deployment.
func DefaultConfig() Config {
	return Config{
		TickPeriod:      DefaultTickPeriod,
		HostSize:        messages.Vector3{X: 1, Y: 1, Z: 1},
		ShutdownOnAlert: true,
		ResolverTimeout: 5 * time.Second,
	}
}

// Node wires the input cache, startup gate, transform calculator and
// roadway composer to the bus.
type Node struct {
	cfg   Config
	id    string
	bus   bus.PubSub
	clock timeutil.Clock

	cache    *inputcache.Cache
	gate     *gate.Gate
	calc     frames.Calculator
	composer *roadway.Composer

	transforms   atomic.Pointer[[]frames.FrameTransform]
	lastSnapshot atomic.Pointer[messages.RoadwayEnvironment]
	history      *tickHistory

	ticks         atomic.Uint64
	snapshots     atomic.Uint64
	publishErrors atomic.Uint64
	rejected      atomic.Uint64
	service       atomic.Int32

	shutdown atomic.Pointer[context.CancelCauseFunc]
	running  atomic.Bool
}

// NewNode creates a node publishing on and subscribing to b.
func NewNode(cfg Config, b bus.PubSub, clock timeutil.Clock) *Node {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.ResolverTimeout <= 0 {
		cfg.ResolverTimeout = DefaultConfig().ResolverTimeout
	}
	return &Node{
		cfg:      cfg,
		id:       uuid.NewString(),
		bus:      b,
		clock:    clock,
		cache:    inputcache.New(),
		gate:     gate.New(),
		calc:     frames.Calculator{Datum: cfg.Datum},
		composer: roadway.NewComposer(roadway.Config{HostSize: cfg.HostSize}),
		history:  newTickHistory(defaultHistorySize),
	}
}

// ID is the node instance id carried in the source of its alerts.
func (n *Node) ID() string { return n.id }

// Cache exposes the input cache for diagnostics.
func (n *Node) Cache() *inputcache.Cache { return n.cache }

// Gate exposes the startup gate.
func (n *Node) Gate() *gate.Gate { return n.gate }

// Run subscribes to the inbound topics, probes the transform service and
// runs the broadcast loop until ctx is cancelled or a SHUTDOWN alert stops
// the node. On return every inbound subscription has been removed.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node already running")
	}
	defer n.running.Store(false)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	n.shutdown.Store(&cancel)
	defer n.shutdown.Store(nil)

	var wg sync.WaitGroup
	ids := make([]string, 0, len(messages.InboundTopics))
	for _, topic := range messages.InboundTopics {
		id, c := n.bus.Subscribe(topic)
		ids = append(ids, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range c {
				n.HandleMessage(msg)
			}
		}()
	}

	if n.cfg.Resolver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.CheckTransformService(ctx, n.cfg.Resolver, n.cfg.ResolverTimeout)
		}()
	}

	logf("started id=%s period=%s datum=%v", n.id, n.cfg.TickPeriod, n.cfg.Datum != nil)
	loop := NewLoop(n.cfg.TickPeriod, n.clock, n.Tick)
	err := loop.Run(ctx)

	for _, id := range ids {
		n.bus.Unsubscribe(id)
	}
	wg.Wait()

	if errors.Is(err, ErrShutdownRequested) {
		logf("stopped by system alert after %d ticks", n.ticks.Load())
		return ErrShutdownRequested
	}
	logf("stopped after %d ticks", n.ticks.Load())
	return nil
}

// HandleMessage applies one inbound message: system alerts go to the gate,
// everything else into the cache stamped with the current time. Malformed
// payloads are logged and counted; the cached value is kept.
func (n *Node) HandleMessage(msg bus.Message) {
	now := n.clock.Now()

	if msg.Topic == messages.TopicSystemAlert {
		alert, ok := alertFrom(msg.Payload)
		if !ok {
			n.rejected.Add(1)
			logf("rejected %s: unexpected payload %T", msg.Topic, msg.Payload)
			return
		}
		n.handleAlert(alert, now)
		return
	}

	ch, ok := inputcache.ChannelForTopic(msg.Topic)
	if !ok {
		return
	}
	if err := n.cache.Update(ch, msg.Payload, now); err != nil {
		n.rejected.Add(1)
		logf("rejected %s seq=%d: %v", msg.Topic, msg.Seq, err)
	}
}

func alertFrom(payload any) (messages.SystemAlert, bool) {
	switch p := payload.(type) {
	case messages.SystemAlert:
		return p, true
	case *messages.SystemAlert:
		if p != nil {
			return *p, true
		}
	}
	return messages.SystemAlert{}, false
}

func (n *Node) handleAlert(alert messages.SystemAlert, now time.Time) {
	if err := alert.Validate(); err != nil {
		n.rejected.Add(1)
		logf("rejected system alert: %v", err)
		return
	}
	if n.gate.HandleAlert(alert, now) {
		logf("system ready (from %q), roadway environment broadcasting enabled", alert.Source)
	}
	if alert.Type == messages.AlertShutdown {
		if !n.cfg.ShutdownOnAlert {
			logf("ignoring SHUTDOWN alert from %q", alert.Source)
			return
		}
		if cancel := n.shutdown.Load(); cancel != nil {
			logf("SHUTDOWN alert from %q: %s", alert.Source, alert.Description)
			(*cancel)(ErrShutdownRequested)
		}
	}
}

// Tick computes and publishes the transform pair, then the roadway
// snapshot when the system is ready. Publish failures are logged and the
// tick continues.
func (n *Node) Tick(now time.Time, seq uint64) {
	start := time.Now()

	pair := n.calc.Pair(n.cache, now)
	chain := []frames.FrameTransform{pair[0], pair[1]}
	n.transforms.Store(&chain)

	tf := messages.TFMessage{Transforms: []messages.TransformStamped{
		pair[0].Message(uint32(seq)),
		pair[1].Message(uint32(seq)),
	}}
	if err := n.bus.Publish(messages.TopicTransformBroadcast, tf); err != nil {
		n.publishErrors.Add(1)
		logf("failed to publish %s seq=%d: %v", messages.TopicTransformBroadcast, seq, err)
	}

	published := false
	if env, ok := n.composer.Compose(n.cache, n.gate.Ready(), now, seq); ok {
		n.lastSnapshot.Store(env)
		if err := n.bus.Publish(messages.TopicRoadwayEnvironment, env); err != nil {
			n.publishErrors.Add(1)
			logf("failed to publish %s seq=%d: %v", messages.TopicRoadwayEnvironment, seq, err)
		} else {
			published = true
			n.snapshots.Add(1)
		}
	}

	n.ticks.Add(1)
	n.history.add(TickRecord{
		Seq:      seq,
		At:       now,
		Duration: time.Since(start),
		Snapshot: published,
	})
}

// LatestTransforms returns the chain published by the last tick, or nil
// before the first tick.
func (n *Node) LatestTransforms() []frames.FrameTransform {
	p := n.transforms.Load()
	if p == nil {
		return nil
	}
	return *p
}

// LastSnapshot returns the most recently composed snapshot. It is shared
// with bus subscribers and must not be modified.
func (n *Node) LastSnapshot() *messages.RoadwayEnvironment {
	return n.lastSnapshot.Load()
}

func (n *Node) publishAlert(t messages.AlertType, description string) {
	alert := messages.SystemAlert{
		Type:        t,
		Description: description,
		Source:      NodeName + "/" + n.id,
	}
	if err := n.bus.Publish(messages.TopicSystemAlert, alert); err != nil {
		n.publishErrors.Add(1)
		logf("failed to publish %s alert: %v", t, err)
	}
}
