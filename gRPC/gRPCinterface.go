package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"OnnxClsServer/engine"
	iface "OnnxClsServer/interface"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Recorder counts finished requests per transport.
type Recorder interface {
	ObserveRequest(transport, outcome string)
}

type Server struct {
	classifier iface.Classifier
	log        *zap.Logger
	recorder   Recorder
}

func NewServer(cls iface.Classifier, log *zap.Logger, rec Recorder) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{classifier: cls, log: log, recorder: rec}
}

func (s *Server) observe(err error) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.recorder.ObserveRequest("grpc", outcome)
}

func (s *Server) Predict(ctx context.Context, req *wrapperspb.BytesValue) (resp *structpb.Struct, err error) {
	defer func() { s.observe(err) }()
	img, err := engine.DecodeImage(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	classes, err := s.classifier.Classify(img)
	if err != nil {
		s.log.Error("prediction failed", zap.Error(err))
		if errors.Is(err, engine.ErrInvalidImage) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	list := make([]any, len(classes))
	for i, c := range classes {
		list[i] = c
	}
	resp, err = structpb.NewStruct(map[string]any{"classes": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *Server) CheckEngine(ctx context.Context, _ *emptypb.Empty) (resp *structpb.Struct, err error) {
	defer func() { s.observe(err) }()
	info := s.classifier.CheckConfig()
	resp, err = structpb.NewStruct(map[string]any{
		"checkpoint": info.Checkpoint,
		"device":     info.Device,
		"inputName":  info.InputName,
		"outputName": info.OutputName,
		"inputSize":  []any{info.InputSize[0], info.InputSize[1]},
		"numClasses": info.NumClasses,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *Server) Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	s.observe(nil)
	return wrapperspb.String(iface.PingReply), nil
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return Serve(lis, srv), nil
}

// Serve registers srv on a new grpc.Server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer()
	RegisterClassifierServiceServer(s, srv)
	go func() {
		srv.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			srv.log.Error("failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}
