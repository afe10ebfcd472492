package postgrest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
)

// EncodeQuery 生成 PostgREST 查询串。参数顺序与调用顺序一致，
// 同一列可以出现多次（例如 price=gte.1&price=lte.5）。
func EncodeQuery(r *port.Request) (string, error) {
	var parts []string
	add := func(k, v string) {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}

	if r.Action == port.ActionSelect || r.Returning {
		cols := strings.TrimSpace(r.Columns)
		if cols == "" {
			cols = domain.DefaultProjection
		}
		add("select", strings.Join(strings.Fields(cols), ""))
	}
	for _, c := range r.Conditions {
		v, err := filterValue(c)
		if err != nil {
			return "", err
		}
		add(c.Column, string(c.Operator)+"."+v)
	}
	if len(r.Orderings) > 0 {
		orders := make([]string, len(r.Orderings))
		for i, o := range r.Orderings {
			dir := "asc"
			if !o.Ascending {
				dir = "desc"
			}
			orders[i] = o.Column + "." + dir
		}
		add("order", strings.Join(orders, ","))
	}
	if r.Limit > 0 {
		add("limit", strconv.Itoa(r.Limit))
	}
	return strings.Join(parts, "&"), nil
}

func filterValue(c port.Condition) (string, error) {
	if c.Operator == domain.OpIn {
		values, ok := domain.ListValues(c.Value)
		if !ok {
			return "", fmt.Errorf("%w: 'in' 操作符要求列表值 (列 '%s')", domain.ErrInvalidDescriptor, c.Column)
		}
		items := make([]string, len(values))
		for i, v := range values {
			s := FormatValue(v)
			if _, isStr := v.(string); isStr && strings.ContainsAny(s, ",()") {
				s = `"` + s + `"`
			}
			items[i] = s
		}
		return "(" + strings.Join(items, ",") + ")", nil
	}
	if !c.Operator.Valid() {
		return "", fmt.Errorf("%w: '%s'", domain.ErrUnknownOperator, c.Operator)
	}
	return FormatValue(c.Value), nil
}

// FormatValue 把过滤值转成查询串中的文本
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
