// Package storeclient 提供与 BaaS SDK 等价的链式请求构造器。
// 调用顺序即为请求计划中的顺序，最终交给 port.Transport 执行。
package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ShopAegis/internal/aegobserve"
	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
)

// Client 包装一个存储传输层
type Client struct {
	transport port.Transport
}

// New 创建客户端。transport 不能为 nil。
func New(transport port.Transport) *Client {
	if transport == nil {
		panic("storeclient: transport 不能为 nil")
	}
	return &Client{transport: transport}
}

// Transport 返回底层传输层
func (c *Client) Transport() port.Transport { return c.transport }

// HealthCheck 转发到底层传输层
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.transport.HealthCheck(ctx)
}

// From 选择目标表
func (c *Client) From(table string) *TableBuilder {
	return &TableBuilder{client: c, table: table}
}

// TableBuilder 决定请求动作
type TableBuilder struct {
	client *Client
	table  string
}

// Select 以列投影开始一次读取
func (t *TableBuilder) Select(columns string) *FilterBuilder {
	if columns == "" {
		columns = domain.DefaultProjection
	}
	return t.start(port.ActionSelect, columns, nil)
}

// Insert 插入一行或多行
func (t *TableBuilder) Insert(rows ...map[string]any) *FilterBuilder {
	return t.start(port.ActionInsert, "", rows)
}

// Update 以给定值更新匹配的行，匹配条件通过后续的过滤方法追加
func (t *TableBuilder) Update(values map[string]any) *FilterBuilder {
	return t.start(port.ActionUpdate, "", []map[string]any{values})
}

// Delete 删除匹配的行
func (t *TableBuilder) Delete() *FilterBuilder {
	return t.start(port.ActionDelete, "", nil)
}

func (t *TableBuilder) start(action port.Action, columns string, body []map[string]any) *FilterBuilder {
	return &FilterBuilder{
		client: t.client,
		req: port.Request{
			Table:     t.table,
			Action:    action,
			Columns:   columns,
			Body:      body,
			Returning: action == port.ActionSelect,
		},
	}
}

// FilterBuilder 记录过滤、排序、行数限制
type FilterBuilder struct {
	client *Client
	req    port.Request
}

// Filter 追加一条任意操作符的过滤条件
func (f *FilterBuilder) Filter(column string, op domain.Operator, value any) *FilterBuilder {
	f.req.Conditions = append(f.req.Conditions, port.Condition{Column: column, Operator: op, Value: value})
	return f
}

func (f *FilterBuilder) Eq(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpEq, value)
}

func (f *FilterBuilder) Neq(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpNeq, value)
}

func (f *FilterBuilder) Gt(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpGt, value)
}

func (f *FilterBuilder) Gte(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpGte, value)
}

func (f *FilterBuilder) Lt(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpLt, value)
}

func (f *FilterBuilder) Lte(column string, value any) *FilterBuilder {
	return f.Filter(column, domain.OpLte, value)
}

// Like 使用 SQL LIKE 模式匹配（% 和 _ 通配）
func (f *FilterBuilder) Like(column string, pattern any) *FilterBuilder {
	return f.Filter(column, domain.OpLike, pattern)
}

// In 要求列值属于给定集合，values 必须是 slice
func (f *FilterBuilder) In(column string, values any) *FilterBuilder {
	return f.Filter(column, domain.OpIn, values)
}

// Order 追加排序规则
func (f *FilterBuilder) Order(column string, ascending bool) *FilterBuilder {
	f.req.Orderings = append(f.req.Orderings, port.Ordering{Column: column, Ascending: ascending})
	return f
}

// Limit 限制返回行数
func (f *FilterBuilder) Limit(n int) *FilterBuilder {
	f.req.Limit = n
	return f
}

// Select 在写操作之后要求返回受影响的行
func (f *FilterBuilder) Select(columns ...string) *FilterBuilder {
	f.req.Returning = true
	f.req.Columns = domain.DefaultProjection
	if len(columns) > 0 && columns[0] != "" {
		f.req.Columns = columns[0]
	}
	return f
}

// Request 返回当前请求计划的副本
func (f *FilterBuilder) Request() port.Request {
	req := f.req
	req.Conditions = append([]port.Condition(nil), f.req.Conditions...)
	req.Orderings = append([]port.Ordering(nil), f.req.Orderings...)
	return req
}

// Execute 执行请求，返回 JSON 数组形式的行
func (f *FilterBuilder) Execute(ctx context.Context) (json.RawMessage, error) {
	req := f.Request()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := f.client.transport.Execute(ctx, &req)
	aegobserve.ObserveStoreRequest(f.client.transport.Type(), string(req.Action), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ExecuteTo 执行请求并把结果解码到 dest
func (f *FilterBuilder) ExecuteTo(ctx context.Context, dest any) error {
	data, err := f.Execute(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("解码存储响应失败: %w", err)
	}
	return nil
}
