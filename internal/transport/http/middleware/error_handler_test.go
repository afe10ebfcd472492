package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
)

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"描述符无效", domain.NewStoreFailure(fmt.Errorf("%w: 表名不能为空", domain.ErrInvalidDescriptor)), http.StatusBadRequest},
		{"未知写操作", domain.NewStoreFailure(domain.ErrUnknownMutationKind), http.StatusBadRequest},
		{"无条件写入", domain.NewStoreFailure(sqlbuild.ErrUnconditionalWrite), http.StatusBadRequest},
		{"存储 404", domain.NewStoreFailure(&port.StoreError{Status: 404, Code: "PGRST116", Message: "row not found"}), http.StatusNotFound},
		{"存储 403", domain.NewStoreFailure(&port.StoreError{Status: 403, Code: "42501", Message: "permission denied"}), http.StatusForbidden},
		{"存储 500", domain.NewStoreFailure(&port.StoreError{Status: 500, Message: "boom"}), http.StatusBadGateway},
		{"网络错误", domain.NewStoreFailure(errors.New("connection refused")), http.StatusBadGateway},
		{"超时", domain.NewStoreFailure(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"未知错误", errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestErrorHandlingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/store", func(c *gin.Context) {
		_ = c.Error(domain.NewStoreFailure(&port.StoreError{Status: 409, Code: "23505", Message: "duplicate key value"}))
	})
	r.GET("/bind", func(c *gin.Context) {
		_ = c.Error(errors.New("unexpected EOF")).SetType(gin.ErrorTypeBind)
	})
	r.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusTeapot, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/store", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"duplicate key value","code":"23505"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bind", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}
