package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ShopAegis/internal/aegmiddleware"
	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/datahook"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
)

const anonScope = "anon"

const healthTimeout = 3 * time.Second

type filterBody struct {
	Column   string `json:"column" binding:"required"`
	Operator string `json:"operator" binding:"required,oneof=eq neq gt gte lt lte like in"`
	Value    any    `json:"value"`
}

type orderBody struct {
	Column    string `json:"column" binding:"required"`
	Ascending *bool  `json:"ascending"`
}

type queryBody struct {
	Table   string       `json:"table" binding:"required"`
	Select  string       `json:"select"`
	Filters []filterBody `json:"filters" binding:"dive"`
	OrderBy *orderBody   `json:"order_by"`
	Limit   int          `json:"limit" binding:"gte=0"`
	Refresh bool         `json:"refresh"`
}

func (b queryBody) descriptor() domain.QueryDescriptor {
	desc := domain.QueryDescriptor{
		Table:  b.Table,
		Select: b.Select,
		Limit:  b.Limit,
	}
	for _, f := range b.Filters {
		desc.Filters = append(desc.Filters, domain.Filter{
			Column:   f.Column,
			Operator: domain.Operator(f.Operator),
			Value:    f.Value,
		})
	}
	if b.OrderBy != nil {
		desc.OrderBy = &domain.Ordering{Column: b.OrderBy.Column, Ascending: b.OrderBy.Ascending}
	}
	return desc
}

type mutateBody struct {
	Table   string        `json:"table" binding:"required"`
	Type    string        `json:"type" binding:"required,oneof=insert update delete"`
	Payload domain.Record `json:"payload"`
}

// scopeOf 用已认证用户隔离查询缓存
func scopeOf(c *gin.Context) string {
	if claims := aegmiddleware.ClaimsFrom(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return anonScope
}

// queryHandler 处理数据查询请求
func queryHandler(qc *reqstate.Client, sc *storeclient.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body queryBody
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}

		q := datahook.UseQuery[domain.Record](qc, sc, datahook.QueryOptions{
			Descriptor: body.descriptor(),
			Scope:      scopeOf(c),
		})
		fetch := q.Fetch
		if body.Refresh {
			fetch = q.Refetch
		}
		rows, err := fetch(c.Request.Context())
		if err != nil {
			slog.Warn("查询失败", "request_id", aegmiddleware.RequestIDFrom(c), "table", body.Table, "error", err)
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

// mutateHandler 处理写入请求，成功后使目标表的查询缓存过期
func mutateHandler(qc *reqstate.Client, sc *storeclient.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body mutateBody
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}

		m := datahook.UseMutation[domain.Record](qc, sc, datahook.MutationOptions[domain.Record]{
			InvalidateOnSuccess: true,
		})
		intent := domain.MutationIntent{
			Table:   body.Table,
			Kind:    domain.MutationKind(body.Type),
			Payload: body.Payload,
		}
		slog.Info("审计日志: 写操作", "request_id", aegmiddleware.RequestIDFrom(c), "scope", scopeOf(c), "table", body.Table, "type", body.Type)

		rows, err := m.MutateAsync(c.Request.Context(), intent)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

// invalidateHandler 手动使查询缓存过期。不带 table 时作用于全部查询。
func invalidateHandler(qc *reqstate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Table string `json:"table"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypeBind)
				return
			}
		}

		var n int
		if body.Table != "" {
			n = qc.InvalidateTable(body.Table)
		} else {
			n = qc.InvalidateAll()
		}
		slog.Info("管理接口: 查询缓存已失效", "table", body.Table, "count", n)
		c.JSON(http.StatusOK, gin.H{"invalidated": n})
	}
}

func cacheStatsHandler(qc *reqstate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"entries":    qc.Len(),
			"stale_time": qc.StaleTime().String(),
		})
	}
}

// healthHandler 检查存储后端是否可用
func healthHandler(sc *storeclient.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		backend := sc.Transport().Type()
		if err := sc.HealthCheck(ctx); err != nil {
			slog.Warn("健康检查失败", "backend", backend, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "backend": backend, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": backend})
	}
}
