package envmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/inputcache"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/monitoring"
	"github.com/banshee-data/roadway/internal/timeutil"
	"github.com/banshee-data/roadway/internal/transport"
)

func quietLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

func newTestNode(t *testing.T, cfg Config) (*Node, *bus.Bus, *timeutil.MockClock) {
	t.Helper()
	quietLogs(t)
	b := bus.New(bus.WithBuffer(64))
	t.Cleanup(func() { b.Close() })
	clock := timeutil.NewMockClock(t0)
	return NewNode(cfg, b, clock), b, clock
}

func drain(c <-chan bus.Message) []bus.Message {
	var out []bus.Message
	for {
		select {
		case msg := <-c:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func readyAlert() bus.Message {
	return bus.Message{Topic: messages.TopicSystemAlert, Payload: messages.SystemAlert{
		Type:   messages.AlertSystemReady,
		Source: "health_monitor",
	}}
}

func TestTick_PublishesOrderedTransformPair(t *testing.T) {
	n, b, _ := newTestNode(t, DefaultConfig())
	_, tfs := b.Subscribe(messages.TopicTransformBroadcast)

	for seq := uint64(0); seq < 3; seq++ {
		n.Tick(t0.Add(time.Duration(seq)*time.Second), seq)
	}

	got := drain(tfs)
	require.Len(t, got, 3)
	for i, msg := range got {
		tf, ok := msg.Payload.(messages.TFMessage)
		require.True(t, ok, "payload %T", msg.Payload)
		require.Len(t, tf.Transforms, 2)

		assert.Equal(t, messages.FrameMap, tf.Transforms[0].Header.FrameID)
		assert.Equal(t, messages.FrameOdom, tf.Transforms[0].ChildFrameID)
		assert.Equal(t, messages.FrameOdom, tf.Transforms[1].Header.FrameID)
		assert.Equal(t, messages.FrameBody, tf.Transforms[1].ChildFrameID)
		for _, ts := range tf.Transforms {
			assert.Equal(t, uint32(i), ts.Header.Seq)
			assert.True(t, ts.Header.Stamp.Equal(t0.Add(time.Duration(i)*time.Second)))
		}
	}
}

func TestTick_IdentityWithoutPoseInput(t *testing.T) {
	n, b, _ := newTestNode(t, DefaultConfig())
	_, tfs := b.Subscribe(messages.TopicTransformBroadcast)

	n.Tick(t0, 0)

	msg := <-tfs
	want := messages.Transform{Rotation: messages.IdentityQuaternion()}
	for _, ts := range msg.Payload.(messages.TFMessage).Transforms {
		if diff := cmp.Diff(want, ts.Transform); diff != "" {
			t.Errorf("%s->%s not identity (-want +got):\n%s", ts.Header.FrameID, ts.ChildFrameID, diff)
		}
	}
	for _, ft := range n.LatestTransforms() {
		assert.True(t, ft.IsIdentity())
	}
}

func TestTick_OdometryDrivesOdomToBody(t *testing.T) {
	n, _, _ := newTestNode(t, DefaultConfig())

	odom := messages.Odometry{Header: messages.Header{FrameID: messages.FrameOdom}}
	odom.Pose.Pose = messages.Pose{
		Position:    messages.Point{X: 4, Y: -2},
		Orientation: messages.IdentityQuaternion(),
	}
	n.HandleMessage(bus.Message{Topic: messages.TopicOdometry, Payload: &odom})
	n.Tick(t0, 0)

	chain := n.LatestTransforms()
	require.Len(t, chain, 2)
	assert.True(t, chain[0].IsIdentity(), "no datum: map->odom stays identity")
	assert.Equal(t, 4.0, chain[1].Translation.X)
	assert.Equal(t, -2.0, chain[1].Translation.Y)
}

func TestTick_DatumAnchorsMapFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Datum = &frames.Datum{Latitude: 45, Longitude: 7}
	n, _, _ := newTestNode(t, cfg)

	n.HandleMessage(bus.Message{Topic: messages.TopicNavSatFix, Payload: messages.NavSatFix{
		Status: messages.StatusFix, Latitude: 45.001, Longitude: 7,
	}})
	n.HandleMessage(bus.Message{Topic: messages.TopicHeading, Payload: messages.HeadingStamped{Heading: 90}})
	n.Tick(t0, 0)

	tr, err := frames.Lookup(n.LatestTransforms(), messages.FrameMap, messages.FrameBody)
	require.NoError(t, err)
	want := cfg.Datum.ENU(45.001, 7, 0)
	assert.InDelta(t, want.X, tr.Translation.X, 1e-6)
	assert.InDelta(t, want.Y, tr.Translation.Y, 1e-6)
	assert.False(t, tr.IsIdentity())
}

func TestRun_SnapshotsOnlyAfterReady(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickPeriod = 100 * time.Millisecond
	n, b, clock := newTestNode(t, cfg)

	_, envs := b.Subscribe(messages.TopicRoadwayEnvironment)
	_, tfs := b.Subscribe(messages.TopicTransformBroadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	// The immediate first tick publishes transforms but no snapshot.
	first := <-tfs
	assert.Equal(t, messages.TopicTransformBroadcast, first.Topic)
	assert.Empty(t, drain(envs))
	assert.Equal(t, "NOT_READY", n.Status().State)

	require.NoError(t, b.Publish(readyAlert().Topic, readyAlert().Payload))
	select {
	case <-n.Gate().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not open")
	}

	var lastSeq uint64
	for i := 1; i <= 12; i++ {
		clock.Advance(cfg.TickPeriod)
		select {
		case msg := <-envs:
			env := msg.Payload.(*messages.RoadwayEnvironment)
			if i > 1 {
				assert.Greater(t, env.Sequence, lastSeq, "sequence must strictly increase")
			}
			assert.Equal(t, uint64(i), env.Sequence)
			assert.NotNil(t, env.Lanes)
			assert.Empty(t, env.Lanes)
			lastSeq = env.Sequence
		case <-time.After(2 * time.Second):
			t.Fatalf("no snapshot for tick %d", i)
		}
		<-tfs
	}
	assert.Empty(t, drain(envs), "exactly one snapshot per tick")

	cancel()
	require.NoError(t, <-done)

	st := n.Status()
	assert.Equal(t, uint64(13), st.Ticks)
	assert.Equal(t, uint64(12), st.Snapshots)
	assert.Equal(t, 2, b.Stats().Subscribers, "inbound subscriptions removed on stop")
}

func TestHandleMessage_GateIsIdempotent(t *testing.T) {
	n, _, clock := newTestNode(t, DefaultConfig())

	n.HandleMessage(readyAlert())
	at, ok := n.Gate().ReadyAt()
	require.True(t, ok)
	assert.Equal(t, t0, at)

	clock.Advance(time.Minute)
	n.HandleMessage(readyAlert())
	n.HandleMessage(bus.Message{Topic: messages.TopicSystemAlert, Payload: &messages.SystemAlert{Type: messages.AlertNotReady}})

	at, _ = n.Gate().ReadyAt()
	assert.Equal(t, t0, at, "second readiness message is a no-op")
	assert.True(t, n.Gate().Ready(), "no transition back to NOT_READY")
}

func TestTick_TrackedObjectsLastWriteWins(t *testing.T) {
	n, b, _ := newTestNode(t, DefaultConfig())
	_, envs := b.Subscribe(messages.TopicRoadwayEnvironment)
	n.HandleMessage(readyAlert())

	objects := func(ids ...uint32) messages.ExternalObjectList {
		var l messages.ExternalObjectList
		for _, id := range ids {
			l.Objects = append(l.Objects, messages.ExternalObject{ID: id, Size: messages.Vector3{X: 1, Y: 1, Z: 1}})
		}
		return l
	}
	n.HandleMessage(bus.Message{Topic: messages.TopicTrackedObjects, Payload: objects(1, 2, 3)})
	n.HandleMessage(bus.Message{Topic: messages.TopicTrackedObjects, Payload: objects(9)})

	n.Tick(t0, 0)
	env := (<-envs).Payload.(*messages.RoadwayEnvironment)
	require.Len(t, env.OtherVehicles, 1)
	assert.Equal(t, uint32(9), env.OtherVehicles[0].Object.ID)
	assert.Equal(t, messages.CommNoComms, env.OtherVehicles[0].CommunicationClass)
	assert.Equal(t, messages.CommTwoWay, env.HostVehicle.CommunicationClass)
	assert.Same(t, env, n.LastSnapshot())
}

func TestRun_BurstThroughBusKeepsLatestObjects(t *testing.T) {
	quietLogs(t)
	b := bus.New()
	t.Cleanup(func() { b.Close() })
	clock := timeutil.NewMockClock(t0)
	n := NewNode(DefaultConfig(), b, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	const burst = 10 * bus.DefaultBuffer
	for i := 1; i <= burst; i++ {
		var l messages.ExternalObjectList
		for id := 1; id <= i; id++ {
			l.Objects = append(l.Objects, messages.ExternalObject{ID: uint32(id), Size: messages.Vector3{X: 1, Y: 1, Z: 1}})
		}
		require.NoError(t, b.Publish(messages.TopicTrackedObjects, l))
	}

	require.Eventually(t, func() bool {
		objs, ok := n.Cache().TrackedObjects()
		return ok && len(objs.Value.Objects) == burst
	}, 2*time.Second, 5*time.Millisecond, "cache must end on the last published list")

	n.HandleMessage(readyAlert())
	_, envs := b.Subscribe(messages.TopicRoadwayEnvironment)
	clock.Advance(DefaultConfig().TickPeriod)
	select {
	case msg := <-envs:
		env := msg.Payload.(*messages.RoadwayEnvironment)
		assert.Len(t, env.OtherVehicles, burst)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after burst")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestHandleMessage_MalformedInputKeepsPrevious(t *testing.T) {
	n, _, _ := newTestNode(t, DefaultConfig())

	good := messages.NavSatFix{Status: messages.StatusFix, Latitude: 10, Longitude: 20}
	n.HandleMessage(bus.Message{Topic: messages.TopicNavSatFix, Payload: good})
	n.HandleMessage(bus.Message{Topic: messages.TopicNavSatFix, Payload: messages.NavSatFix{Latitude: 200}})
	n.HandleMessage(bus.Message{Topic: messages.TopicNavSatFix, Payload: "not a fix"})
	n.HandleMessage(bus.Message{Topic: messages.TopicSystemAlert, Payload: messages.SystemAlert{Type: 99}})
	n.HandleMessage(bus.Message{Topic: messages.TopicSystemAlert, Payload: 3})

	fix, ok := n.Cache().NavSatFix()
	require.True(t, ok)
	assert.Equal(t, 10.0, fix.Value.Latitude)

	st := n.Status()
	assert.Equal(t, uint64(4), st.Rejected)
	assert.Equal(t, "NOT_READY", st.State)
	for _, ch := range st.Channels {
		if ch.Channel == inputcache.NavSatFix.String() {
			assert.Equal(t, uint64(1), ch.Received)
			assert.Equal(t, uint64(1), ch.Rejected)
		}
	}
}

func TestTick_ConcurrentWritersNeverTearTransforms(t *testing.T) {
	n, _, _ := newTestNode(t, DefaultConfig())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for k := 0; ; k++ {
				select {
				case <-stop:
					return
				default:
				}
				v := float64(w*100000 + k)
				odom := messages.Odometry{}
				odom.Pose.Pose = messages.Pose{Position: messages.Point{X: v, Y: v, Z: v}, Orientation: messages.IdentityQuaternion()}
				n.HandleMessage(bus.Message{Topic: messages.TopicOdometry, Payload: odom})
			}
		}(w)
	}

	for seq := uint64(0); seq < 200; seq++ {
		n.Tick(t0, seq)
		tr := n.LatestTransforms()[1].Translation
		if tr.X != tr.Y || tr.Y != tr.Z {
			close(stop)
			wg.Wait()
			t.Fatalf("torn odometry read: %+v", tr)
		}
	}
	close(stop)
	wg.Wait()
}

type failingBus struct{ *bus.Bus }

func (failingBus) Publish(string, any) error { return errors.New("link down") }

func TestTick_PublishFailuresAreSwallowed(t *testing.T) {
	quietLogs(t)
	b := bus.New()
	defer b.Close()
	n := NewNode(DefaultConfig(), failingBus{b}, timeutil.NewMockClock(t0))
	n.HandleMessage(readyAlert())

	n.Tick(t0, 0)
	n.Tick(t0.Add(time.Second), 1)

	st := n.Status()
	assert.Equal(t, uint64(2), st.Ticks)
	assert.Equal(t, uint64(4), st.PublishErrors)
	assert.Equal(t, uint64(0), st.Snapshots)
	assert.NotNil(t, n.LastSnapshot())
	assert.Len(t, n.LatestTransforms(), 2)
}

func TestRun_ShutdownAlertStopsNode(t *testing.T) {
	n, b, clock := newTestNode(t, DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	require.NoError(t, b.Publish(messages.TopicSystemAlert, messages.SystemAlert{
		Type: messages.AlertShutdown, Description: "operator request", Source: "ui",
	}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrShutdownRequested)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop on SHUTDOWN")
	}
}

func TestRun_ShutdownAlertIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownOnAlert = false
	n, b, clock := newTestNode(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	require.NoError(t, b.Publish(messages.TopicSystemAlert, messages.SystemAlert{Type: messages.AlertShutdown}))
	select {
	case err := <-done:
		t.Fatalf("node stopped unexpectedly: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_RejectsSecondRun(t *testing.T) {
	n, _, clock := newTestNode(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	assert.Error(t, n.Run(ctx))
	cancel()
	assert.NoError(t, <-done)
}

type fakeResolver struct {
	err error
}

func (f fakeResolver) GetTransform(ctx context.Context, target, source string) (frames.FrameTransform, error) {
	return frames.FrameTransform{}, f.err
}

func TestCheckTransformService(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ServiceState
		wantAlert bool
	}{
		{"answers", nil, ServiceAvailable, false},
		{"no path yet", transport.ErrNoTransform, ServiceAvailable, false},
		{"unreachable", status.Error(codes.Unavailable, "connection refused"), ServiceUnavailable, true},
		{"timed out", context.DeadlineExceeded, ServiceUnavailable, true},
		{"internal error", status.Error(codes.Internal, "oops"), ServiceAvailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, b, _ := newTestNode(t, DefaultConfig())
			_, alerts := b.Subscribe(messages.TopicSystemAlert)

			got := n.CheckTransformService(context.Background(), fakeResolver{err: tt.err}, time.Second)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), n.Status().TransformService)

			published := drain(alerts)
			if !tt.wantAlert {
				assert.Empty(t, published)
				return
			}
			require.Len(t, published, 1)
			alert := published[0].Payload.(messages.SystemAlert)
			assert.Equal(t, messages.AlertCaution, alert.Type)
			assert.Contains(t, alert.Source, n.ID())
		})
	}
}

func TestRun_ProbesResolverWithoutBlockingLoop(t *testing.T) {
	block := make(chan struct{})
	cfg := DefaultConfig()
	cfg.Resolver = blockingResolver(block)
	cfg.ResolverTimeout = time.Minute
	n, b, clock := newTestNode(t, cfg)
	_, tfs := b.Subscribe(messages.TopicTransformBroadcast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.True(t, clock.WaitForTickers(1, 2*time.Second))

	select {
	case <-tfs:
	case <-time.After(2 * time.Second):
		t.Fatal("loop blocked by the service probe")
	}

	cancel()
	require.NoError(t, <-done)
	close(block)
	assert.Equal(t, "unknown", n.Status().TransformService)
}

type blockingResolver chan struct{}

func (b blockingResolver) GetTransform(ctx context.Context, target, source string) (frames.FrameTransform, error) {
	select {
	case <-ctx.Done():
		return frames.FrameTransform{}, ctx.Err()
	case <-b:
		return frames.FrameTransform{}, nil
	}
}
