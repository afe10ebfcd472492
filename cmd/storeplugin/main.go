// file: cmd/storeplugin/main.go

// storeplugin 把本地 SQLite 存储通过 gRPC 存储协议提供给网关 (store.backend: grpc)。
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"ShopAegis/internal/adapter/datasource/grpcstore"
	"ShopAegis/internal/adapter/datasource/sqlite"
	"ShopAegis/internal/aegobserve"
)

const pluginVersion = "1.0.0"

func main() {
	var addr, dbPath, logLevel string
	cmd := &cobra.Command{
		Use:           "storeplugin",
		Short:         "以 gRPC 提供 SQLite 存储",
		Version:       pluginVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			aegobserve.InitLogger(logLevel)
			return serve(cmd.Context(), addr, dbPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":10225", "gRPC 监听地址")
	cmd.Flags().StringVar(&dbPath, "db", "./instance/shop.db", "SQLite 数据库文件路径")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "日志级别")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
}

func serve(ctx context.Context, addr, dbPath string) error {
	slog.Info("🔌 插件启动中...", "version", pluginVersion, "addr", addr, "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("关闭 SQLite 存储失败", "error", err)
		}
	}()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC 服务监听 '%s' 失败: %w", addr, err)
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcstore.LoggingInterceptor))
	grpcstore.NewServer(store).Register(gs)

	go func() {
		<-ctx.Done()
		slog.Info("收到停机信号，插件停止服务...")
		gs.GracefulStop()
	}()

	slog.Info("✅ SQLite插件启动成功，开始提供服务...", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil {
		return fmt.Errorf("gRPC 服务异常退出: %w", err)
	}
	return nil
}
