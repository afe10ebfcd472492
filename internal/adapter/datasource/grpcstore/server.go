package grpcstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ShopAegis/internal/core/port"
	"ShopAegis/internal/storeclient"
)

// Server 把一个 port.Transport 暴露为 gRPC 服务
type Server struct {
	backend port.Transport
}

// NewServer 创建服务端实现
func NewServer(backend port.Transport) *Server {
	return &Server{backend: backend}
}

// Register 把服务注册到 grpc.Server
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Execute 解码请求计划并交给后端执行
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Value, error) {
	req, err := structToRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(authHeader); len(vals) > 0 {
			ctx = storeclient.WithAccessToken(ctx, strings.TrimPrefix(vals[0], "Bearer "))
		}
	}

	data, err := s.backend.Execute(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if len(data) == 0 {
		return structpb.NewNullValue(), nil
	}
	var rows any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, status.Errorf(codes.Internal, "序列化结果失败: %v", err)
	}
	out, err := structpb.NewValue(rows)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "序列化结果失败: %v", err)
	}
	return out, nil
}

// HealthCheck 转发到后端
func (s *Server) HealthCheck(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.backend.HealthCheck(ctx); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// toStatus 保留存储消息原文，错误码通过 trailer 携带
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var se *port.StoreError
	if !errors.As(err, &se) {
		if kind, ok := localErrorKind(err); ok {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(storeKindKey, kind, storeStatusKey, "400"))
			return status.Error(codes.InvalidArgument, err.Error())
		}
		_ = grpc.SetTrailer(ctx, metadata.Pairs(storeStatusKey, "500"))
		return status.Error(codes.Internal, err.Error())
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(
		storeCodeKey, se.Code,
		storeStatusKey, strconv.Itoa(se.Status),
	))
	code := codes.Unknown
	switch {
	case se.Status == 404:
		code = codes.NotFound
	case se.Status == 401 || se.Status == 403:
		code = codes.PermissionDenied
	case se.Status >= 400 && se.Status < 500:
		code = codes.InvalidArgument
	case se.Status >= 500:
		code = codes.Internal
	}
	return status.Error(code, se.Message)
}

// LoggingInterceptor 记录每次调用的方法、耗时和结果
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
	if err != nil {
		slog.Warn("插件调用失败", append(attrs, "error", err)...)
	} else {
		slog.Debug("插件调用完成", attrs...)
	}
	return resp, err
}
