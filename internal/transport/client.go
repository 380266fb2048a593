package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/messages"
)

// ErrNoTransform is returned by GetTransform when the service is reachable
// but cannot resolve the requested frames.
var ErrNoTransform = errors.New("transform not available")

// Client talks to a Server. It is safe for concurrent use.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. Connection is lazy: errors surface on
// the first call. Extra options are appended after plaintext credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Publish sends payload to the remote bus on an inbound topic.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	body, err := toStruct(payload)
	if err != nil {
		return err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"topic":   structpb.NewStringValue(topic),
		"payload": structpb.NewStructValue(body),
	}}
	return c.conn.Invoke(ctx, busPublishMethod, req, new(emptypb.Empty))
}

// Subscription is an open Subscribe stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream of bus messages on topics (all when empty).
// Cancel ctx to close it.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &busServiceDesc.Streams[0], busSubscribeMethod)
	if err != nil {
		return nil, err
	}
	list := make([]interface{}, len(topics))
	for i, t := range topics {
		list[i] = t
	}
	topicList, err := structpb.NewList(list)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"topics": structpb.NewListValue(topicList),
	}}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next message. It returns io.EOF when the server ends
// the stream.
func (s *Subscription) Recv() (Envelope, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return Envelope{}, err
	}
	return decodeEnvelope(out)
}

// GetTransform asks the service for the transform mapping source-frame
// coordinates into target-frame coordinates. The call waits for the
// connection to become ready, so ctx should carry a deadline.
func (c *Client) GetTransform(ctx context.Context, target, source string) (frames.FrameTransform, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"target": structpb.NewStringValue(target),
		"source": structpb.NewStringValue(source),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getTransformMethod, req, out, grpc.WaitForReady(true)); err != nil {
		if status.Code(err) == codes.NotFound {
			return frames.FrameTransform{}, fmt.Errorf("%s -> %s: %w", target, source, ErrNoTransform)
		}
		return frames.FrameTransform{}, err
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return frames.FrameTransform{}, fmt.Errorf("failed to re-encode transform: %w", err)
	}
	var msg messages.TransformStamped
	if err := json.Unmarshal(data, &msg); err != nil {
		return frames.FrameTransform{}, fmt.Errorf("failed to decode transform: %w", err)
	}
	return frames.FromMessage(msg), nil
}

// Unreachable reports whether err means the remote service could not be
// reached at all, as opposed to answering with an error.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unimplemented:
		return true
	}
	return false
}
