package transport

import (
	"context"
	"errors"
	"log"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/messages"
)

const (
	busServiceName     = "roadway.v1.Bus"
	busPublishMethod   = "/" + busServiceName + "/Publish"
	busSubscribeMethod = "/" + busServiceName + "/Subscribe"
)

// busServer is the handler contract of the bus bridge.
type busServer interface {
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

var busServiceDesc = grpc.ServiceDesc{
	ServiceName: busServiceName,
	HandlerType: (*busServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: busPublishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: busSubscribeHandler, ServerStreams: true},
	},
	Metadata: "roadway/v1/bus",
}

func busPublishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(busServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: busPublishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(busServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func busSubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(busServer).Subscribe(in, stream)
}

type busService struct {
	srv *Server
}

// Publish decodes {"topic", "payload"} and publishes the typed payload on
// the bus. Only inbound topics are accepted.
func (b *busService) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	topic := req.GetFields()["topic"].GetStringValue()
	if !slices.Contains(messages.InboundTopics, topic) {
		b.srv.rejected.Add(1)
		return nil, status.Errorf(codes.InvalidArgument, "topic %q is not an inbound topic", topic)
	}

	payload, err := decodeStruct(topic, req.GetFields()["payload"].GetStructValue())
	if err != nil {
		b.srv.rejected.Add(1)
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", topic, err)
	}
	if v, ok := payload.(messages.Validator); ok {
		if err := v.Validate(); err != nil {
			b.srv.rejected.Add(1)
			return nil, status.Errorf(codes.InvalidArgument, "%s: %v", topic, err)
		}
	}

	if err := b.srv.bus.Publish(topic, payload); err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return nil, status.Error(codes.Unavailable, "bus closed")
		}
		return nil, status.Errorf(codes.Internal, "publish: %v", err)
	}
	b.srv.published.Add(1)
	return &emptypb.Empty{}, nil
}

// Subscribe streams every bus message on the requested {"topics": [...]},
// or on all topics when the list is empty.
func (b *busService) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	topics := stringList(req.GetFields()["topics"])
	id, c := b.srv.bus.Subscribe(topics...)
	defer b.srv.bus.Unsubscribe(id)

	b.srv.streams.Add(1)
	defer b.srv.streams.Add(-1)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c:
			if !ok {
				return nil
			}
			env, err := encodeEnvelope(msg)
			if err != nil {
				log.Printf("[gRPC] dropping %s seq=%d: %v", msg.Topic, msg.Seq, err)
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		}
	}
}
