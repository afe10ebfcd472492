// Package port file: internal/core/port/datasource.go
package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ShopAegis/internal/core/domain"
)

// Standard errors
var (
	ErrUnsupportedAction = errors.New("传输层不支持该操作")
	ErrEmptyTable        = errors.New("请求缺少表名")
)

// Action 是一次存储请求的动作
type Action string

const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Condition 是一条按调用顺序记录的过滤条件
type Condition struct {
	Column   string          `json:"column"`
	Operator domain.Operator `json:"operator"`
	Value    any             `json:"value"`
}

// Ordering 是一条排序规则
type Ordering struct {
	Column    string `json:"column"`
	Ascending bool   `json:"ascending"`
}

// Request 是与传输无关的请求计划，由 storeclient 的链式构造器生成。
// Conditions/Orderings 保持调用顺序；Limit 为 0 表示不限制。
type Request struct {
	Table      string           `json:"table"`
	Action     Action           `json:"action"`
	Columns    string           `json:"columns,omitempty"`
	Conditions []Condition      `json:"conditions,omitempty"`
	Orderings  []Ordering       `json:"orderings,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Body       []map[string]any `json:"body,omitempty"`
	Returning  bool             `json:"returning,omitempty"`
}

// Validate 检查请求计划本身是否完整
func (r *Request) Validate() error {
	if r == nil || r.Table == "" {
		return ErrEmptyTable
	}
	switch r.Action {
	case ActionSelect, ActionDelete:
	case ActionInsert:
		if len(r.Body) == 0 {
			return fmt.Errorf("insert 请求缺少数据: %w", ErrUnsupportedAction)
		}
	case ActionUpdate:
		if len(r.Body) != 1 {
			return fmt.Errorf("update 请求需要且只需要一组更新值: %w", ErrUnsupportedAction)
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnsupportedAction, r.Action)
	}
	return nil
}

// Transport 是所有存储后端（PostgREST、本地 SQLite、Postgres 直连、gRPC 插件）
// 都必须实现的接口。
type Transport interface {
	// Execute 执行一次请求，返回 JSON 数组形式的行数据。
	// 不要求返回行时（如无 returning 的 delete）返回 nil。
	Execute(ctx context.Context, req *Request) (json.RawMessage, error)

	// HealthCheck 检查存储的健康状况
	HealthCheck(ctx context.Context) error

	// Type 返回传输层的类型标识符
	Type() string
}

// StoreError 是存储报告的错误，字段与 PostgREST 错误 JSON 一致。
type StoreError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Error 只返回存储消息本身
func (e *StoreError) Error() string { return e.Message }

// StoreMessage 供 domain.NewStoreFailure 提取原始消息
func (e *StoreError) StoreMessage() string { return e.Message }
