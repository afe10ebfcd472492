// Package aegobserve 暴露 Prometheus 指标
package aegobserve

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ShopAegis/internal/core/port"
)

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopaegis_http_request_duration_seconds",
		Help:    "HTTP 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	storeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaegis_store_requests_total",
		Help: "存储请求总数",
	}, []string{"backend", "action", "outcome"})

	storeRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopaegis_store_request_duration_seconds",
		Help:    "存储请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "action"})

	queryCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaegis_query_cache_total",
		Help: "查询缓存命中/未命中次数",
	}, []string{"result"})
)

var registerOnce sync.Once

// Register 把全部指标注册到默认 Registerer，重复调用无副作用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequestDuration, storeRequests, storeRequestDuration, queryCache)
	})
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// PrometheusMiddleware 记录每个请求的路由模板、方法、状态码和耗时
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// ObserveStoreRequest 记录一次存储请求。
// outcome: ok / store_error（存储拒绝）/ error（传输或其他失败）
func ObserveStoreRequest(backend, action string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var se *port.StoreError
		if errors.As(err, &se) {
			outcome = "store_error"
		}
	}
	storeRequests.WithLabelValues(backend, action, outcome).Inc()
	storeRequestDuration.WithLabelValues(backend, action).Observe(elapsed.Seconds())
}

// ObserveCache 记录一次查询缓存访问
func ObserveCache(hit bool) {
	if hit {
		queryCache.WithLabelValues("hit").Inc()
		return
	}
	queryCache.WithLabelValues("miss").Inc()
}
