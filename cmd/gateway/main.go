// file: cmd/gateway/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ShopAegis/internal/aegconf"
	"ShopAegis/internal/aegmiddleware"
	"ShopAegis/internal/aegobserve"
	"ShopAegis/internal/backend"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
	"ShopAegis/internal/transport/http/router"
)

const version = "v0.3.0"

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "ShopAegis 数据访问网关",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认查找 configs/config.yaml)")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
}

func run(configPath string) error {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("ShopAegis gateway %s 正在启动...", version)

	cfg, v, err := aegconf.Load(configPath)
	if err != nil {
		return err
	}

	aegobserve.InitLogger(cfg.Server.LogLevel)
	aegobserve.Register()
	slog.Info("ShopAegis gateway starting up", "version", version, "config", v.ConfigFileUsed(), "backend", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, closeStore, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("初始化存储后端失败: %w", err)
	}
	defer closeStore()

	queries := reqstate.New(reqstate.Config{
		StaleTime:  cfg.Cache.StaleTime,
		GCTime:     cfg.Cache.GCTime,
		MaxEntries: cfg.Cache.MaxEntries,
		Retry:      cfg.Cache.QueryRetry,
	})
	slog.Info("服务层: 查询缓存初始化完成", "stale_time", cfg.Cache.StaleTime, "max_entries", cfg.Cache.MaxEntries)

	aegconf.Watch(v, func(next *aegconf.Config) {
		aegobserve.SetLevel(next.Server.LogLevel)
		queries.SetStaleTime(next.Cache.StaleTime)
	})

	httpRouter := router.New(router.Dependencies{
		Store:        storeclient.New(transport),
		Queries:      queries,
		Auth:         aegmiddleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.RequireAuth),
		Limiter:      aegmiddleware.NewIPRateLimiter(cfg.RateLimit.PerIPRPS, cfg.RateLimit.Burst),
		AdminKeyHash: cfg.Auth.AdminKeyHash,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	pprofServer := aegobserve.EnablePprof(cfg.Server.PprofAddr)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("ShopAegis 网关启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP服务启动失败: %w", err)
		}
	case <-ctx.Done():
		slog.Info("收到停机信号，准备优雅关闭...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if pprofServer != nil {
		_ = pprofServer.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP服务优雅关闭失败: %w", err)
	}
	slog.Info("HTTP服务已成功关闭。")
	return nil
}
