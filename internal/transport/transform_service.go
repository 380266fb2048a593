package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/roadway/internal/frames"
)

const (
	transformServiceName = "roadway.v1.TransformService"
	getTransformMethod   = "/" + transformServiceName + "/GetTransform"
)

type transformServer interface {
	GetTransform(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var transformServiceDesc = grpc.ServiceDesc{
	ServiceName: transformServiceName,
	HandlerType: (*transformServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTransform", Handler: getTransformHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roadway/v1/transform",
}

func getTransformHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transformServer).GetTransform(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getTransformMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transformServer).GetTransform(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type transformService struct {
	srv *Server
}

// GetTransform resolves {"target", "source"} against the latest broadcast
// chain and returns it as a TransformStamped whose header frame is target
// and child frame is source.
func (t *transformService) GetTransform(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target := req.GetFields()["target"].GetStringValue()
	source := req.GetFields()["source"].GetStringValue()
	if target == "" || source == "" {
		return nil, status.Error(codes.InvalidArgument, "target and source frames are required")
	}

	var chain []frames.FrameTransform
	if t.srv.transforms != nil {
		chain = t.srv.transforms.LatestTransforms()
	}
	if len(chain) == 0 {
		return nil, status.Error(codes.NotFound, "no transforms broadcast yet")
	}

	tr, err := frames.Lookup(chain, target, source)
	if err != nil {
		if errors.Is(err, frames.ErrNoPath) {
			return nil, status.Errorf(codes.NotFound, "%s -> %s: %v", target, source, err)
		}
		return nil, status.Errorf(codes.Internal, "lookup: %v", err)
	}

	// The chain is stamped per tick; report the newest stamp.
	stamp := chain[0].Stamp
	for _, ft := range chain[1:] {
		if ft.Stamp.After(stamp) {
			stamp = ft.Stamp
		}
	}
	ft := frames.FrameTransform{Transform: tr, Target: target, Source: source, Stamp: stamp}
	out, err := toStruct(ft.Message(0))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}
