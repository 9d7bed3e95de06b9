package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "onnxcls.ClassifierService"

const (
	predictMethod     = "/" + ServiceName + "/Predict"
	checkEngineMethod = "/" + ServiceName + "/CheckEngine"
	pingMethod        = "/" + ServiceName + "/Ping"
)

// ClassifierServiceServer is the server API. Messages are protobuf
// well-known types so no generated code is needed:
//
//	Predict(BytesValue encoded image) -> Struct {"classes": [int...]}
//	CheckEngine(Empty) -> Struct engine info
//	Ping(Empty) -> StringValue
type ClassifierServiceServer interface {
	Predict(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	CheckEngine(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func RegisterClassifierServiceServer(s grpc.ServiceRegistrar, srv ClassifierServiceServer) {
	s.RegisterService(&ClassifierServiceDesc, srv)
}

var ClassifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifierServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "CheckEngine", Handler: checkEngineHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "onnxcls/classifier.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServiceServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServiceServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func checkEngineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkEngineMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServiceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServiceServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ClassifierClient is a thin typed wrapper over a client connection.
type ClassifierClient struct {
	cc grpc.ClientConnInterface
}

func NewClassifierClient(cc grpc.ClientConnInterface) *ClassifierClient {
	return &ClassifierClient{cc: cc}
}

// Predict sends an encoded image and returns the ranked class indices.
func (c *ClassifierClient) Predict(ctx context.Context, image []byte, opts ...grpc.CallOption) ([]int, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictMethod, wrapperspb.Bytes(image), out, opts...); err != nil {
		return nil, err
	}
	values := out.GetFields()["classes"].GetListValue().GetValues()
	classes := make([]int, len(values))
	for i, v := range values {
		classes[i] = int(v.GetNumberValue())
	}
	return classes, nil
}

func (c *ClassifierClient) CheckEngine(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, checkEngineMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ClassifierClient) Ping(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, pingMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
