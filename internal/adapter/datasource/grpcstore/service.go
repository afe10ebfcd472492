// Package grpcstore 通过 gRPC 把任意 port.Transport 暴露为远程存储插件。
// 消息使用 structpb，服务描述手写，不依赖代码生成。
package grpcstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
)

const (
	serviceName       = "shopaegis.store.v1.Store"
	executeMethod     = "/" + serviceName + "/Execute"
	healthCheckMethod = "/" + serviceName + "/HealthCheck"

	// 存储错误码通过 trailer 传回客户端
	storeCodeKey   = "x-store-code"
	storeStatusKey = "x-store-status"
	// 后端在执行前拒绝请求时，用 x-store-kind 标明是哪一类校验错误
	storeKindKey = "x-store-kind"
	authHeader   = "authorization"
)

// localErrors 是后端可能在访问存储前返回的校验错误
var localErrors = map[string]error{
	"unconditional_write": sqlbuild.ErrUnconditionalWrite,
	"empty_values":        sqlbuild.ErrEmptyValues,
	"bad_projection":      sqlbuild.ErrBadProjection,
	"invalid_descriptor":  domain.ErrInvalidDescriptor,
	"unknown_operator":    domain.ErrUnknownOperator,
	"unsupported_action":  port.ErrUnsupportedAction,
	"empty_table":         port.ErrEmptyTable,
}

func localErrorKind(err error) (string, bool) {
	for kind, sentinel := range localErrors {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}

// remoteError 在客户端还原校验错误：消息原样保留，errors.Is 仍能匹配哨兵错误
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// storeServer 是服务端需要实现的方法集合
type storeServer interface {
	Execute(ctx context.Context, in *structpb.Struct) (*structpb.Value, error)
	HealthCheck(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

// serviceDesc 等价于 protoc-gen-go-grpc 生成的描述
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*storeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shopaegis/store/v1/store.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(storeServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(storeServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(storeServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: healthCheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(storeServer).HealthCheck(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// requestToStruct 通过 JSON 把请求计划转换为 structpb.Struct
func requestToStruct(req *port.Request) (*structpb.Struct, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}
	return structpb.NewStruct(m)
}

// structToRequest 是 requestToStruct 的逆过程。数字统一变为 float64。
func structToRequest(s *structpb.Struct) (*port.Request, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, fmt.Errorf("解码请求失败: %w", err)
	}
	req := new(port.Request)
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("解码请求失败: %w", err)
	}
	return req, nil
}
