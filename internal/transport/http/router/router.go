// file: internal/transport/http/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"ShopAegis/internal/aegmiddleware"
	"ShopAegis/internal/aegobserve"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
	"ShopAegis/internal/transport/http/middleware"
)

func init() {
	// 请求体中的数字保留为 json.Number，大整数 id 不经过 float64
	binding.EnableDecoderUseNumber = true
}

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Store        *storeclient.Client
	Queries      *reqstate.Client
	Auth         *aegmiddleware.Authenticator
	Limiter      *aegmiddleware.IPRateLimiter
	AdminKeyHash string
}

// New 创建并配置网关的 HTTP 路由器 (V1 版本)
func New(deps Dependencies) http.Handler {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(aegmiddleware.RequestID())
	router.Use(aegmiddleware.AccessLog())
	router.Use(aegobserve.PrometheusMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", aegmiddleware.RequestIDHeader, aegmiddleware.AdminKeyHeader},
		ExposeHeaders:    []string{"Content-Length", aegmiddleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler(deps.Store))
	router.GET("/metrics", gin.WrapH(aegobserve.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ErrorHandlingMiddleware())
	if deps.Limiter != nil {
		v1.Use(deps.Limiter.Middleware())
	}
	{
		// --- 数据平面 (Data Plane) ---
		dataGroup := v1.Group("/data")
		if deps.Auth != nil {
			dataGroup.Use(deps.Auth.Middleware())
		}
		{
			dataGroup.POST("/query", queryHandler(deps.Queries, deps.Store))
			dataGroup.POST("/mutate", mutateHandler(deps.Queries, deps.Store))
		}

		// --- 控制平面 (Control Plane) ---
		adminGroup := v1.Group("/admin")
		adminGroup.Use(aegmiddleware.RequireAdminKey(deps.AdminKeyHash))
		{
			adminGroup.POST("/cache/invalidate", invalidateHandler(deps.Queries))
			adminGroup.GET("/cache/stats", cacheStatsHandler(deps.Queries))
		}
	}

	return router
}
