// Package backend 根据配置创建存储传输层，供网关与命令行共用
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"ShopAegis/internal/adapter/datasource/grpcstore"
	"ShopAegis/internal/adapter/datasource/postgres"
	"ShopAegis/internal/adapter/datasource/postgrest"
	"ShopAegis/internal/adapter/datasource/sqlite"
	"ShopAegis/internal/aegconf"
	"ShopAegis/internal/core/port"
)

// Open 按 cfg.Backend 创建传输层，返回的 closer 释放连接，总是非 nil。
func Open(ctx context.Context, cfg aegconf.StoreConfig) (port.Transport, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case aegconf.BackendPostgREST:
		c, err := postgrest.New(postgrest.Config{
			URL:     cfg.PostgREST.URL,
			AnonKey: cfg.PostgREST.AnonKey,
			Schema:  cfg.PostgREST.Schema,
			Timeout: cfg.PostgREST.Timeout,
		})
		if err != nil {
			return nil, noop, err
		}
		slog.Info("存储后端: PostgREST", "url", cfg.PostgREST.URL, "schema", cfg.PostgREST.Schema)
		return c, noop, nil

	case aegconf.BackendSQLite:
		path := cfg.SQLite.Path
		if path != ":memory:" {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, noop, fmt.Errorf("创建 SQLite 目录 '%s' 失败: %w", dir, err)
				}
			}
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("存储后端: SQLite", "path", path)
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("关闭 SQLite 存储失败", "error", err)
			}
		}, nil

	case aegconf.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("存储后端: Postgres")
		return s, s.Close, nil

	case aegconf.BackendGRPC:
		c, err := grpcstore.Dial(cfg.GRPC.Address)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("存储后端: gRPC 插件", "address", cfg.GRPC.Address)
		return c, func() {
			if err := c.Close(); err != nil {
				slog.Error("关闭 gRPC 连接失败", "error", err)
			}
		}, nil
	}
	return nil, noop, fmt.Errorf("未知的存储后端 '%s'", cfg.Backend)
}
