package transport

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/testutil"
)

type staticTransforms struct {
	mu    sync.Mutex
	chain []frames.FrameTransform
}

func (s *staticTransforms) LatestTransforms() []frames.FrameTransform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

type harness struct {
	bus        *bus.Bus
	server     *Server
	client     *Client
	transforms *staticTransforms
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	h := &harness{bus: bus.New(), transforms: &staticTransforms{}}
	h.server = NewServer(DefaultConfig(), h.bus, h.transforms)
	require.NoError(t, h.server.Serve(lis))

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	h.client = client

	t.Cleanup(func() {
		client.Close()
		h.bus.Close()
		h.server.Stop()
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPublish_DeliversTypedPayload(t *testing.T) {
	h := newHarness(t)
	_, c := h.bus.Subscribe(messages.TopicHeading)

	err := h.client.Publish(testCtx(t), messages.TopicHeading, messages.HeadingStamped{Heading: 92.5})
	require.NoError(t, err)

	select {
	case msg := <-c:
		hs, ok := msg.Payload.(*messages.HeadingStamped)
		require.True(t, ok, "payload type %T", msg.Payload)
		assert.Equal(t, 92.5, hs.Heading)
	case <-time.After(2 * time.Second):
		t.Fatal("no message on bus")
	}
	assert.Equal(t, uint64(1), h.server.Stats().Published)
}

func TestPublish_Rejections(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		topic   string
		payload any
	}{
		{"outbound topic", messages.TopicRoadwayEnvironment, messages.RoadwayEnvironment{}},
		{"unknown topic", "weather", map[string]any{"rain": true}},
		{"invalid fix", messages.TopicNavSatFix, messages.NavSatFix{Latitude: 120}},
		{"bad alert type", messages.TopicSystemAlert, messages.SystemAlert{Type: 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.client.Publish(testCtx(t), tt.topic, tt.payload)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
	assert.Equal(t, uint64(len(tests)), h.server.Stats().Rejected)
}

func TestSubscribe_StreamsBusMessages(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	sub, err := h.client.Subscribe(ctx, messages.TopicSystemAlert)
	require.NoError(t, err)

	// The server registers the bus subscription asynchronously.
	require.Eventually(t, func() bool { return h.bus.Stats().Subscribers == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.bus.Publish(messages.TopicHeading, messages.HeadingStamped{Heading: 1}))
	require.NoError(t, h.bus.Publish(messages.TopicSystemAlert, messages.SystemAlert{
		Type:        messages.AlertCaution,
		Description: "transform service unreachable",
	}))

	env, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, messages.TopicSystemAlert, env.Topic)
	assert.Equal(t, uint64(2), env.Seq)
	alert, ok := env.Payload.(*messages.SystemAlert)
	require.True(t, ok, "payload type %T", env.Payload)
	assert.Equal(t, messages.AlertCaution, alert.Type)
	assert.Equal(t, "transform service unreachable", alert.Description)
	assert.False(t, env.PublishedAt.IsZero())
}

func TestSubscribe_EndsWhenBusCloses(t *testing.T) {
	h := newHarness(t)
	sub, err := h.client.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.server.Stats().Streams == 1 }, 2*time.Second, 10*time.Millisecond)

	h.bus.Close()
	_, err = sub.Recv()
	assert.Error(t, err)
}

func TestGetTransform(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	_, err := h.client.GetTransform(ctx, messages.FrameMap, messages.FrameBody)
	assert.True(t, errors.Is(err, ErrNoTransform), "before first broadcast: %v", err)

	stamp := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mapOdom := frames.Transform{Translation: r3.Vec{X: 10}, Rotation: frames.YawRotation(math.Pi / 2)}
	odomBody := frames.Transform{Translation: r3.Vec{X: 1, Y: 2}, Rotation: frames.Identity().Rotation}
	h.transforms.mu.Lock()
	h.transforms.chain = []frames.FrameTransform{
		{Transform: mapOdom, Target: messages.FrameMap, Source: messages.FrameOdom, Stamp: stamp},
		{Transform: odomBody, Target: messages.FrameOdom, Source: messages.FrameBody, Stamp: stamp},
	}
	h.transforms.mu.Unlock()

	got, err := h.client.GetTransform(ctx, messages.FrameMap, messages.FrameBody)
	require.NoError(t, err)
	assert.Equal(t, messages.FrameMap, got.Target)
	assert.Equal(t, messages.FrameBody, got.Source)
	assert.True(t, got.Stamp.Equal(stamp))

	want := frames.Compose(mapOdom, odomBody).Apply(r3.Vec{X: 1})
	p := got.Apply(r3.Vec{X: 1})
	assert.InDelta(t, want.X, p.X, 1e-9)
	assert.InDelta(t, want.Y, p.Y, 1e-9)

	_, err = h.client.GetTransform(ctx, messages.FrameMap, "camera")
	assert.True(t, errors.Is(err, ErrNoTransform))

	_, err = h.client.GetTransform(ctx, "", messages.FrameBody)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUnreachable(t *testing.T) {
	assert.False(t, Unreachable(nil))
	assert.False(t, Unreachable(ErrNoTransform))
	assert.False(t, Unreachable(status.Error(codes.NotFound, "x")))
	assert.True(t, Unreachable(status.Error(codes.Unavailable, "x")))
	assert.True(t, Unreachable(status.Error(codes.DeadlineExceeded, "x")))
	assert.True(t, Unreachable(context.DeadlineExceeded))
}

func TestGetTransform_UnreachableServer(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	lis.Close()
	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = client.GetTransform(ctx, messages.FrameMap, messages.FrameBody)
	require.Error(t, err)
	assert.True(t, Unreachable(err), "err = %v", err)
}

func TestServer_DoubleServe(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.server.Serve(bufconn.Listen(1024)))
	assert.NotNil(t, h.server.Addr())
}

func TestAttachAdminRoutes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Publish(testCtx(t), messages.TopicVelocity, messages.TwistStamped{}))
	err := h.client.Publish(testCtx(t), messages.TopicRoadwayEnvironment, messages.RoadwayEnvironment{})
	require.Error(t, err)

	mux := http.NewServeMux()
	h.server.AttachAdminRoutes(mux)
	rec := testutil.ServeDebug(t, mux, "/debug/grpc")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	st := testutil.DecodeJSON[adminStatus](t, rec)
	assert.True(t, st.Running)
	assert.Equal(t, "bufconn", st.Addr)
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(1), st.Rejected)
}
