// Package aegobserve file: internal/aegobserve/logging.go
package aegobserve

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel 允许在配置热加载时调整级别而不重建 handler
var logLevel = new(slog.LevelVar)

// ParseLevel 把配置字符串转换为 slog.Level，无法识别时回退 INFO
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger 初始化全局的结构化日志记录器。
// 它应该在 main 函数的早期被调用。
func InitLogger(levelStr string) {
	InitLoggerTo(os.Stdout, levelStr)
}

// InitLoggerTo 与 InitLogger 相同，但输出到指定的 writer
func InitLoggerTo(w io.Writer, levelStr string) {
	logLevel.Set(ParseLevel(levelStr))

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLevel 在运行时修改日志级别（配置热加载时调用）
func SetLevel(levelStr string) {
	lvl := ParseLevel(levelStr)
	if logLevel.Level() == lvl {
		return
	}
	logLevel.Set(lvl)
	slog.Info("日志级别已更新", "level", lvl.String())
}

// Level 返回当前日志级别
func Level() slog.Level { return logLevel.Level() }
