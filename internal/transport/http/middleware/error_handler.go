// Package middleware file: internal/transport/http/middleware/error_handler.go
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
)

// ErrorHandlingMiddleware 是一个Gin中间件，用于集中处理错误。
// 处理器通过 c.Error(err) 附加错误，这里只看最后一个。
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		lastError := c.Errors.Last()
		err := lastError.Err

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数验证失败", "details": ve.Error()})
			return
		}
		if lastError.IsType(gin.ErrorTypeBind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体", "details": err.Error()})
			return
		}

		status := StatusFor(err)
		body := gin.H{"error": err.Error()}
		var se *port.StoreError
		if errors.As(err, &se) && se.Code != "" {
			body["code"] = se.Code
		}
		if status >= http.StatusInternalServerError {
			slog.Error("请求处理失败", "path", c.Request.URL.Path, "status", status, "error", err)
		}
		c.JSON(status, body)
	}
}

// StatusFor 把错误映射为 HTTP 状态码。
// 本地校验失败是 400；存储自己报告的 4xx 原样返回；其余存储失败是 502。
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDescriptor),
		errors.Is(err, domain.ErrUnknownOperator),
		errors.Is(err, domain.ErrUnknownMutationKind),
		errors.Is(err, port.ErrUnsupportedAction),
		errors.Is(err, port.ErrEmptyTable),
		errors.Is(err, sqlbuild.ErrUnconditionalWrite),
		errors.Is(err, sqlbuild.ErrEmptyValues),
		errors.Is(err, sqlbuild.ErrBadProjection):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var se *port.StoreError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return se.Status
	}
	if errors.Is(err, domain.ErrStoreOperation) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
