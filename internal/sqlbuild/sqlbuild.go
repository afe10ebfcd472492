// Package sqlbuild 把 port.Request 翻译为参数化 SQL。
// 标识符一律加双引号，值一律走占位符，两种方言只在占位符风格上不同。
package sqlbuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/core/port"
)

// 构建错误
var (
	ErrUnconditionalWrite = errors.New("出于安全考虑，不允许无条件的 UPDATE/DELETE 操作")
	ErrEmptyValues        = errors.New("写操作需要提供数据")
	ErrBadProjection      = errors.New("SQL 后端只支持 '*' 或逗号分隔的列名")
)

// Dialect 决定占位符风格
type Dialect int

const (
	SQLite   Dialect = iota // ?
	Postgres                // $1, $2 ...
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Statement 是一条可执行的 SQL 及其参数
type Statement struct {
	SQL  string
	Args []any
}

// Build 根据请求动作生成对应的 SQL
func Build(d Dialect, req *port.Request) (Statement, error) {
	if err := req.Validate(); err != nil {
		return Statement{}, err
	}
	if req.Action == port.ActionUpdate || req.Action == port.ActionDelete {
		if err := checkNullEquality(req.Conditions); err != nil {
			return Statement{}, err
		}
	}
	b := &builder{dialect: d}
	var err error
	switch req.Action {
	case port.ActionSelect:
		err = b.selectSQL(req)
	case port.ActionInsert:
		err = b.insertSQL(req)
	case port.ActionUpdate:
		err = b.updateSQL(req)
	case port.ActionDelete:
		err = b.deleteSQL(req)
	default:
		err = fmt.Errorf("%w: '%s'", port.ErrUnsupportedAction, req.Action)
	}
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: b.sb.String(), Args: b.args}, nil
}

type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

// bind 追加参数并返回对应占位符
func (b *builder) bind(v any) string {
	b.args = append(b.args, b.arg(v))
	if b.dialect == Postgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

// checkNullEquality 拒绝 "列 = NULL" 形式的写条件。
// SQL 中该条件恒不成立，写操作会静默地什么也不做。
func checkNullEquality(conds []port.Condition) error {
	for _, c := range conds {
		if c.Operator == domain.OpEq && c.Value == nil {
			return &port.StoreError{
				Status:  400,
				Code:    "22P02",
				Message: fmt.Sprintf(`invalid input syntax for column "%s": "null"`, c.Column),
			}
		}
	}
	return nil
}

// arg 处理驱动无法直接绑定的值。
// json.Number 按整数优先转换，大整数不经过 float64；SQLite 没有 JSON 类型，map/slice 以 JSON 文本写入。
func (b *builder) arg(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	if b.dialect != SQLite {
		return v
	}
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
	return v
}

func (b *builder) selectSQL(req *port.Request) error {
	cols, err := Projection(req.Columns)
	if err != nil {
		return err
	}
	b.sb.WriteString("SELECT ")
	b.sb.WriteString(cols)
	b.sb.WriteString(" FROM ")
	b.sb.WriteString(QuoteIdent(req.Table))
	if err := b.where(req.Conditions); err != nil {
		return err
	}
	if len(req.Orderings) > 0 {
		parts := make([]string, 0, len(req.Orderings))
		for _, o := range req.Orderings {
			dir := "ASC"
			if !o.Ascending {
				dir = "DESC"
			}
			parts = append(parts, QuoteIdent(o.Column)+" "+dir)
		}
		b.sb.WriteString(" ORDER BY ")
		b.sb.WriteString(strings.Join(parts, ", "))
	}
	if req.Limit > 0 {
		b.sb.WriteString(" LIMIT ")
		b.sb.WriteString(b.bind(req.Limit))
	}
	return nil
}

func (b *builder) insertSQL(req *port.Request) error {
	keys := unionKeys(req.Body)
	b.sb.WriteString("INSERT INTO ")
	b.sb.WriteString(QuoteIdent(req.Table))

	if len(keys) == 0 {
		if len(req.Body) > 1 {
			return fmt.Errorf("%w: 多行插入不能全部为空对象", ErrEmptyValues)
		}
		b.sb.WriteString(" DEFAULT VALUES")
		return b.returning(req)
	}

	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = QuoteIdent(k)
	}
	b.sb.WriteString(" (")
	b.sb.WriteString(strings.Join(cols, ", "))
	b.sb.WriteString(") VALUES ")

	// 某行缺少的列写入 NULL
	for r, row := range req.Body {
		if r > 0 {
			b.sb.WriteString(", ")
		}
		ph := make([]string, len(keys))
		for i, k := range keys {
			ph[i] = b.bind(row[k])
		}
		b.sb.WriteString("(")
		b.sb.WriteString(strings.Join(ph, ", "))
		b.sb.WriteString(")")
	}
	return b.returning(req)
}

func (b *builder) updateSQL(req *port.Request) error {
	values := req.Body[0]
	if len(values) == 0 {
		return fmt.Errorf("%w: UPDATE 没有任何更新字段", ErrEmptyValues)
	}
	if len(req.Conditions) == 0 {
		return ErrUnconditionalWrite
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.sb.WriteString("UPDATE ")
	b.sb.WriteString(QuoteIdent(req.Table))
	b.sb.WriteString(" SET ")
	for i, k := range keys {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(QuoteIdent(k))
		b.sb.WriteString(" = ")
		b.sb.WriteString(b.bind(values[k]))
	}
	if err := b.where(req.Conditions); err != nil {
		return err
	}
	return b.returning(req)
}

func (b *builder) deleteSQL(req *port.Request) error {
	if len(req.Conditions) == 0 {
		return ErrUnconditionalWrite
	}
	b.sb.WriteString("DELETE FROM ")
	b.sb.WriteString(QuoteIdent(req.Table))
	if err := b.where(req.Conditions); err != nil {
		return err
	}
	return b.returning(req)
}

func (b *builder) returning(req *port.Request) error {
	if !req.Returning {
		return nil
	}
	cols, err := Projection(req.Columns)
	if err != nil {
		return err
	}
	b.sb.WriteString(" RETURNING ")
	b.sb.WriteString(cols)
	return nil
}

// where 按调用顺序以 AND 连接全部条件
func (b *builder) where(conds []port.Condition) error {
	if len(conds) == 0 {
		return nil
	}
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		expr, err := b.condition(c)
		if err != nil {
			return err
		}
		parts = append(parts, expr)
	}
	b.sb.WriteString(" WHERE ")
	b.sb.WriteString(strings.Join(parts, " AND "))
	return nil
}

var comparison = map[domain.Operator]string{
	domain.OpEq:   "=",
	domain.OpNeq:  "<>",
	domain.OpGt:   ">",
	domain.OpGte:  ">=",
	domain.OpLt:   "<",
	domain.OpLte:  "<=",
	domain.OpLike: "LIKE",
}

func (b *builder) condition(c port.Condition) (string, error) {
	col := QuoteIdent(c.Column)
	if c.Operator == domain.OpIn {
		values, ok := domain.ListValues(c.Value)
		if !ok {
			return "", fmt.Errorf("%w: 'in' 操作符要求列表值 (列 '%s')", domain.ErrInvalidDescriptor, c.Column)
		}
		if len(values) == 0 {
			// 空集合不匹配任何行
			return "1 = 0", nil
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = b.bind(v)
		}
		return col + " IN (" + strings.Join(ph, ", ") + ")", nil
	}
	op, ok := comparison[c.Operator]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", domain.ErrUnknownOperator, c.Operator)
	}
	return col + " " + op + " " + b.bind(c.Value), nil
}

// QuoteIdent 以 SQL 标准方式给标识符加双引号
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Projection 把 "*" 或 "id, name" 这样的投影转成 SQL 列清单。
// 关联资源、别名、类型转换等 REST 专有语法在 SQL 后端不可用。
func Projection(columns string) (string, error) {
	columns = strings.TrimSpace(columns)
	if columns == "" || columns == domain.DefaultProjection {
		return domain.DefaultProjection, nil
	}
	parts := strings.Split(columns, ",")
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.ContainsAny(p, "():*!.") {
			return "", fmt.Errorf("%w: '%s'", ErrBadProjection, columns)
		}
		quoted = append(quoted, QuoteIdent(p))
	}
	return strings.Join(quoted, ", "), nil
}

func unionKeys(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
