// Package postgres 直连 Postgres（例如 Supabase 背后的数据库）的传输层。
// 结果由数据库自身用 json_agg 编码，行形状与 REST 接口返回的一致。
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
)

var _ port.Transport = (*Store)(nil)

// RowNotFoundMessage 是 delete 未命中任何行时报告的消息
const RowNotFoundMessage = "row not found"

// querier 由 *pgxpool.Pool 和 pgx.Tx 实现，测试中用假实现替换
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store 是 Postgres 传输层
type Store struct {
	q    querier
	pool *pgxpool.Pool
}

// Open 解析 DSN 并建立连接池
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 Postgres DSN 失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Postgres 连接池失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping Postgres 失败: %w", err)
	}
	slog.Info("Postgres 存储已连接", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Store{q: pool, pool: pool}, nil
}

// Type 返回传输层类型
func (s *Store) Type() string { return "postgres" }

// HealthCheck 实现 port.Transport.HealthCheck
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	_, err := s.q.Exec(ctx, "SELECT 1")
	return err
}

// Close 关闭连接池
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Execute 实现 port.Transport.Execute
func (s *Store) Execute(ctx context.Context, req *port.Request) (json.RawMessage, error) {
	st, err := sqlbuild.Build(sqlbuild.Postgres, req)
	if err != nil {
		return nil, err
	}

	if !req.Returning {
		tag, err := s.q.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, storeError(err)
		}
		if req.Action == port.ActionDelete && tag.RowsAffected() == 0 {
			return nil, &port.StoreError{Status: 404, Code: "PGRST116", Message: RowNotFoundMessage}
		}
		return nil, nil
	}

	var data []byte
	if err := s.q.QueryRow(ctx, wrapJSON(req.Action, st.SQL), st.Args...).Scan(&data); err != nil {
		return nil, storeError(err)
	}
	return data, nil
}

// wrapJSON 让数据库把结果集聚合为一个 JSON 数组。
// 写语句放在 CTE 中，RETURNING 的行再聚合。
func wrapJSON(action port.Action, stmt string) string {
	if action == port.ActionSelect {
		return "SELECT coalesce(json_agg(_r), '[]'::json) FROM (" + stmt + ") _r"
	}
	return "WITH _r AS (" + stmt + ") SELECT coalesce(json_agg(_r), '[]'::json) FROM _r"
}

// storeError 把 *pgconn.PgError 映射为存储错误，字段与 REST 错误体一致
func storeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &port.StoreError{
			Status:  400,
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
		}
	}
	return &port.StoreError{Status: 500, Message: err.Error()}
}
