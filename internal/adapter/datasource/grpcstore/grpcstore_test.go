// file: internal/adapter/datasource/grpcstore/grpcstore_test.go

package grpcstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"ShopAegis/internal/adapter/datasource/sqlite"
	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
	"ShopAegis/internal/storeclient"
)

// recordingBackend 记录收到的请求与令牌
type recordingBackend struct {
	lastReq   *port.Request
	lastToken string
	result    json.RawMessage
	err       error
}

func (b *recordingBackend) Execute(ctx context.Context, req *port.Request) (json.RawMessage, error) {
	b.lastReq = req
	b.lastToken = storeclient.AccessToken(ctx)
	return b.result, b.err
}
func (b *recordingBackend) HealthCheck(context.Context) error { return b.err }
func (b *recordingBackend) Type() string                      { return "recording" }

// startServer 在 bufconn 上启动插件服务
func startServer(t *testing.T, backend port.Transport) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor))
	NewServer(backend).Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ForwardsRequestPlan(t *testing.T) {
	backend := &recordingBackend{result: json.RawMessage(`[{"id":42,"status":"shipped"}]`)}
	c := startServer(t, backend)

	ctx := storeclient.WithAccessToken(context.Background(), "user-jwt")
	raw, err := c.Execute(ctx, &port.Request{
		Table: "orders", Action: port.ActionUpdate, Returning: true, Columns: "*",
		Body:       []map[string]any{{"status": "shipped"}},
		Conditions: []port.Condition{{Column: "id", Operator: domain.OpEq, Value: 42}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":42,"status":"shipped"}]`, string(raw))

	require.NotNil(t, backend.lastReq)
	assert.Equal(t, "orders", backend.lastReq.Table)
	assert.Equal(t, port.ActionUpdate, backend.lastReq.Action)
	assert.Equal(t, []map[string]any{{"status": "shipped"}}, backend.lastReq.Body)
	require.Len(t, backend.lastReq.Conditions, 1)
	assert.Equal(t, domain.OpEq, backend.lastReq.Conditions[0].Operator)
	assert.EqualValues(t, 42, backend.lastReq.Conditions[0].Value)
	assert.Equal(t, "user-jwt", backend.lastToken)
}

func TestClient_NoRowsIsNil(t *testing.T) {
	c := startServer(t, &recordingBackend{})
	raw, err := c.Execute(context.Background(), &port.Request{
		Table: "orders", Action: port.ActionDelete,
		Conditions: []port.Condition{{Column: "id", Operator: domain.OpEq, Value: 1}},
	})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClient_StoreErrorSurvivesTransport(t *testing.T) {
	backend := &recordingBackend{err: &port.StoreError{Status: 404, Code: "PGRST116", Message: "row not found"}}
	c := startServer(t, backend)

	_, err := c.Execute(context.Background(), &port.Request{
		Table: "orders", Action: port.ActionDelete,
		Conditions: []port.Condition{{Column: "id", Operator: domain.OpEq, Value: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, "row not found", err.Error())

	var se *port.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "PGRST116", se.Code)
	assert.Equal(t, 404, se.Status)
}

func TestClient_HealthCheck(t *testing.T) {
	c := startServer(t, &recordingBackend{})
	assert.NoError(t, c.HealthCheck(context.Background()))

	bad := startServer(t, &recordingBackend{err: errors.New("磁盘不可用")})
	assert.Error(t, bad.HealthCheck(context.Background()))
}

func TestClient_AgainstSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.DB().ExecContext(ctx, `
		CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, category TEXT, price REAL);
		INSERT INTO products VALUES (1, 'chips', 'snacks', 3.5), (2, 'soda', 'drinks', 2.0), (3, 'pretzel', 'snacks', 1.5);`)
	require.NoError(t, err)

	c := startServer(t, store)
	sc := storeclient.New(c)

	var rows []struct {
		Name string `json:"name"`
	}
	err = sc.From("products").Select("*").Eq("category", "snacks").Order("price", true).Limit(5).ExecuteTo(ctx, &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pretzel", rows[0].Name)
	assert.Equal(t, "chips", rows[1].Name)

	_, err = sc.From("products").Select("*").Eq("colour", "red").Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such column: colour")
}

func TestClient_LocalErrorsKeepTheirKind(t *testing.T) {
	testCases := []struct {
		name       string
		backendErr error
		wantIs     error
		wantStatus int
	}{
		{
			name:       "无条件写入",
			backendErr: fmt.Errorf("delete products: %w", sqlbuild.ErrUnconditionalWrite),
			wantIs:     sqlbuild.ErrUnconditionalWrite,
		},
		{
			name:       "未知操作符",
			backendErr: fmt.Errorf("%w: 'between'", domain.ErrUnknownOperator),
			wantIs:     domain.ErrUnknownOperator,
		},
		{
			name:       "其他错误按存储内部错误处理",
			backendErr: errors.New("disk I/O error"),
			wantStatus: 500,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := startServer(t, &recordingBackend{err: tc.backendErr})
			_, err := c.Execute(context.Background(), &port.Request{Table: "products", Action: port.ActionSelect})
			require.Error(t, err)
			assert.Equal(t, tc.backendErr.Error(), err.Error())

			if tc.wantIs != nil {
				assert.ErrorIs(t, err, tc.wantIs)
				var se *port.StoreError
				assert.False(t, errors.As(err, &se))
				return
			}
			var se *port.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.wantStatus, se.Status)
		})
	}
}

func TestClient_UnconditionalDeleteAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.DB().ExecContext(ctx, `CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT);`)
	require.NoError(t, err)

	sc := storeclient.New(startServer(t, store))
	_, err = sc.From("products").Delete().Execute(ctx)
	assert.ErrorIs(t, err, sqlbuild.ErrUnconditionalWrite)
}
