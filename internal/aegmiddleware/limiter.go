// Package aegmiddleware 提供网关使用的 gin 中间件：按 IP 限流、JWT 认证、管理密钥校验、请求 ID。
package aegmiddleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// 不活跃的 IP 条目在 idleTTL 后被 go-cache 清理
const (
	idleTTL         = 15 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// IPRateLimiter 为每个客户端 IP 维护一个令牌桶
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter 创建限流器。r <= 0 时不限流。
func NewIPRateLimiter(r float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &IPRateLimiter{
		limiters: cache.New(idleTTL, cleanupInterval),
		rate:     rate.Limit(r),
		burst:    burst,
	}
	slog.Info("[Limiter] 初始化完成", "rate_per_ip", r, "burst", burst)
	return l
}

// getLimiter 返回或创建指定 IP 的限流器，每次访问都会刷新过期时间
func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		l.limiters.Set(ip, lim, cache.DefaultExpiration)
		return lim
	}
	lim := rate.NewLimiter(l.rate, l.burst)
	l.limiters.Set(ip, lim, cache.DefaultExpiration)
	return lim
}

// Allow 判断该 IP 当前是否允许请求
func (l *IPRateLimiter) Allow(ip string) bool {
	if l.rate <= 0 {
		return true
	}
	return l.getLimiter(ip).Allow()
}

// Tracked 返回当前跟踪的 IP 数
func (l *IPRateLimiter) Tracked() int { return l.limiters.ItemCount() }

// Middleware 返回 gin 中间件
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c.Request)
		if !l.Allow(ip) {
			slog.Warn("[Limiter] 请求被限流", "ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "您的请求过于频繁，请稍后再试 (per-ip limit)"})
			return
		}
		c.Next()
	}
}

// ClientIP 从请求中获取客户端 IP 地址，考虑代理情况
func ClientIP(r *http.Request) string {
	ip := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if ip != "" {
		return ip
	}
	if ip = r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
