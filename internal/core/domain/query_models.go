// Package domain file: internal/core/domain/query_models.go
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// 描述符校验相关错误
var (
	ErrInvalidDescriptor = errors.New("查询描述符无效")
	ErrUnknownOperator   = errors.New("不支持的过滤操作符")
)

// DefaultProjection 是未指定列投影时使用的默认值
const DefaultProjection = "*"

// Operator 是过滤条件的操作符，取值范围是封闭集合。
type Operator string

const (
	OpEq   Operator = "eq"
	OpNeq  Operator = "neq"
	OpGt   Operator = "gt"
	OpGte  Operator = "gte"
	OpLt   Operator = "lt"
	OpLte  Operator = "lte"
	OpLike Operator = "like"
	OpIn   Operator = "in"
)

// Operators 按固定顺序列出全部合法操作符
var Operators = []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn}

// ParseOperator 把外部输入（JSON、命令行）转换为 Operator。
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownOperator, s)
	}
	return op, nil
}

// Valid 判断操作符是否属于封闭集合
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn:
		return true
	}
	return false
}

// Filter 是一条过滤条件。多个 Filter 之间是 AND 关系。
type Filter struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Ordering 描述排序列和方向。Ascending 为 nil 时按升序处理。
type Ordering struct {
	Column    string `json:"column"`
	Ascending *bool  `json:"ascending,omitempty"`
}

// IsAscending 返回实际生效的排序方向
func (o Ordering) IsAscending() bool {
	return o.Ascending == nil || *o.Ascending
}

// QueryDescriptor 是一次读取请求的声明式描述。
// Limit 为 0 表示不限制行数。
type QueryDescriptor struct {
	Table   string    `json:"table"`
	Select  string    `json:"select"`
	Filters []Filter  `json:"filters,omitempty"`
	OrderBy *Ordering `json:"order_by,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// WithDefaults 返回补全默认值后的副本（投影默认为 "*"）。
func (d QueryDescriptor) WithDefaults() QueryDescriptor {
	if strings.TrimSpace(d.Select) == "" {
		d.Select = DefaultProjection
	}
	return d
}

// Validate 只检查本地可判断的结构约束；列是否存在交给外部存储判断。
func (d QueryDescriptor) Validate() error {
	if strings.TrimSpace(d.Table) == "" {
		return fmt.Errorf("%w: 表名不能为空", ErrInvalidDescriptor)
	}
	for i, f := range d.Filters {
		if !f.Operator.Valid() {
			return fmt.Errorf("%w: 第 %d 个过滤条件的操作符 '%s'", ErrUnknownOperator, i, f.Operator)
		}
		if f.Operator == OpIn {
			if _, ok := ListValues(f.Value); !ok {
				return fmt.Errorf("%w: 'in' 操作符要求列表值 (列 '%s')", ErrInvalidDescriptor, f.Column)
			}
		}
	}
	if d.OrderBy != nil && strings.TrimSpace(d.OrderBy.Column) == "" {
		return fmt.Errorf("%w: 排序列不能为空", ErrInvalidDescriptor)
	}
	if d.Limit < 0 {
		return fmt.Errorf("%w: limit 必须为正整数, got=%d", ErrInvalidDescriptor, d.Limit)
	}
	return nil
}

// CacheKey 返回结构化比较用的缓存键，形如 ["products",{"select":"*",...}]。
// 结构相同的描述符得到相同的键。
func (d QueryDescriptor) CacheKey() string {
	d = d.WithDefaults()
	type keyParams struct {
		Select  string    `json:"select"`
		Filters []Filter  `json:"filters"`
		OrderBy *Ordering `json:"orderBy"`
		Limit   int       `json:"limit"`
	}
	// encoding/json 对 map 键排序，过滤值里的 map 也能稳定输出
	raw, err := json.Marshal([]any{d.Table, keyParams{
		Select:  d.Select,
		Filters: d.Filters,
		OrderBy: d.OrderBy,
		Limit:   d.Limit,
	}})
	if err != nil {
		return fmt.Sprintf("%s|%#v", d.Table, d)
	}
	return string(raw)
}

// ListValues 把 'in' 操作符的值展开为 []any。
// 接受任意 slice/array；字符串不视为列表。
func ListValues(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte 不是值列表
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
