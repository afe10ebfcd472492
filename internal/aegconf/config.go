// Package aegconf 负责集中式配置加载：YAML 文件 + SHOP_ 前缀环境变量 + 代码内默认值
package aegconf

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// 支持的存储后端
const (
	BackendPostgREST = "postgrest"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendGRPC      = "grpc"
)

const envPrefix = "SHOP"

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	PprofAddr string `mapstructure:"pprof_addr"`
}

type PostgRESTConfig struct {
	URL     string        `mapstructure:"url"`
	AnonKey string        `mapstructure:"anon_key"`
	Schema  string        `mapstructure:"schema"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Backend   string          `mapstructure:"backend"`
	PostgREST PostgRESTConfig `mapstructure:"postgrest"`
	SQLite    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`
	GRPC struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"grpc"`
}

type CacheConfig struct {
	StaleTime  time.Duration `mapstructure:"stale_time"`
	GCTime     time.Duration `mapstructure:"gc_time"`
	MaxEntries int           `mapstructure:"max_entries"`
	QueryRetry int           `mapstructure:"query_retry"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	RequireAuth  bool   `mapstructure:"require_auth"`
	AdminKeyHash string `mapstructure:"admin_key_hash"`
}

type RateLimitConfig struct {
	PerIPRPS float64 `mapstructure:"per_ip_rps"`
	Burst    int     `mapstructure:"burst"`
}

// Config 是完整配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// setDefaults 写入所有键的默认值。环境变量只对已知键生效，所以每个键都要在这里出现。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10224)
	v.SetDefault("server.log_level", "INFO")
	v.SetDefault("server.pprof_addr", "")

	v.SetDefault("store.backend", BackendPostgREST)
	v.SetDefault("store.postgrest.url", "")
	v.SetDefault("store.postgrest.anon_key", "")
	v.SetDefault("store.postgrest.schema", "")
	v.SetDefault("store.postgrest.timeout", 30*time.Second)
	v.SetDefault("store.sqlite.path", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.grpc.address", "")

	v.SetDefault("cache.stale_time", time.Duration(0))
	v.SetDefault("cache.gc_time", 5*time.Minute)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.query_retry", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.require_auth", false)
	v.SetDefault("auth.admin_key_hash", "")

	v.SetDefault("rate_limit.per_ip_rps", 10.0)
	v.SetDefault("rate_limit.burst", 30)
}

// Load 读取配置。path 为空时在 ./configs 与当前目录查找 config.yaml，找不到文件时只用默认值和环境变量。
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查所选后端需要的配置项是否齐全
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port >= 65536 {
		return fmt.Errorf("server.port 非法: %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case BackendPostgREST:
		if c.Store.PostgREST.URL == "" {
			return errors.New("store.postgrest.url 不能为空")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path 不能为空")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn 不能为空")
		}
	case BackendGRPC:
		if c.Store.GRPC.Address == "" {
			return errors.New("store.grpc.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的 store.backend: '%s'", c.Store.Backend)
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return errors.New("auth.require_auth 开启时必须配置 auth.jwt_secret")
	}
	return nil
}

// Watch 监听配置文件变化，解析成功后回调 onChange。
// 只有日志级别、缓存新鲜时长等可热更新的项会被调用方重新应用。
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		slog.Info("未使用配置文件，跳过热加载")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("配置文件变更后解析失败，保留旧配置", "file", e.Name, "error", err)
			return
		}
		slog.Info("配置文件已变更", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}
