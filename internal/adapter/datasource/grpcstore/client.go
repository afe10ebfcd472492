package grpcstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ShopAegis/internal/core/port"
	"ShopAegis/internal/storeclient"
)

// 编译期断言，确保 Client 实现了 port.Transport 接口
var _ port.Transport = (*Client)(nil)

// Client 把请求计划转发给远程 gRPC 存储插件
type Client struct {
	conn *grpc.ClientConn
}

// Dial 创建到插件的连接（本地开发用明文连接）
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("无法连接到 gRPC 存储插件 %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Type 返回传输层类型
func (c *Client) Type() string { return "grpc" }

// Close 关闭连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Execute 实现 port.Transport.Execute
func (c *Client) Execute(ctx context.Context, req *port.Request) (json.RawMessage, error) {
	in, err := requestToStruct(req)
	if err != nil {
		return nil, err
	}
	if token := storeclient.AccessToken(ctx); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, authHeader, "Bearer "+token)
	}

	slog.Debug("gRPC 存储: 转发请求", "table", req.Table, "action", req.Action)
	out := new(structpb.Value)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, executeMethod, in, out, grpc.Trailer(&trailer)); err != nil {
		return nil, fromStatus(err, trailer)
	}
	if _, isNull := out.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	return json.Marshal(out.AsInterface())
}

// HealthCheck 实现 port.Transport.HealthCheck
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.conn.Invoke(ctx, healthCheckMethod, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("gRPC HealthCheck 调用失败: %w", err)
	}
	return nil
}

// fromStatus 把 gRPC 状态还原为存储错误，消息保持原样
func fromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if v := trailer.Get(storeKindKey); len(v) > 0 {
		if sentinel, ok := localErrors[v[0]]; ok {
			return &remoteError{msg: st.Message(), sentinel: sentinel}
		}
	}
	se := &port.StoreError{Message: st.Message()}
	if v := trailer.Get(storeCodeKey); len(v) > 0 {
		se.Code = v[0]
	}
	if v := trailer.Get(storeStatusKey); len(v) > 0 {
		se.Status, _ = strconv.Atoi(v[0])
	}
	return se
}
