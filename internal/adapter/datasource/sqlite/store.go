// Package sqlite 是基于 modernc.org/sqlite 的本地存储传输层，
// 用于离线开发、测试以及 storeplugin 插件。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	sqlitedrv "modernc.org/sqlite"

	"ShopAegis/internal/core/port"
	"ShopAegis/internal/sqlbuild"
)

// 断言 *Store 实现 port.Transport 接口，编译期校验
var _ port.Transport = (*Store)(nil)

// RowNotFoundMessage 是 delete 未命中任何行时存储报告的消息
const RowNotFoundMessage = "row not found"

// Store 包装一个 *sql.DB
type Store struct {
	db *sql.DB
}

// Open 打开（或创建）path 指向的数据库文件。path 为 ":memory:" 时使用内存库。
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open '%s' 失败: %w", path, err)
	}
	if path == ":memory:" {
		// 内存库每个连接各自独立，只保留一个连接
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping 数据库 '%s' 失败: %w", path, err)
	}
	slog.Info("SQLite 存储已打开", "path", path)
	return &Store{db: db}, nil
}

// NewWithDB 使用已有连接（测试中为 sqlmock）
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接，供建表、导入种子数据
func (s *Store) DB() *sql.DB { return s.db }

// Type 返回传输层类型
func (s *Store) Type() string { return "sqlite" }

// HealthCheck 实现 port.Transport.HealthCheck
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

// Execute 实现 port.Transport.Execute
func (s *Store) Execute(ctx context.Context, req *port.Request) (json.RawMessage, error) {
	st, err := sqlbuild.Build(sqlbuild.SQLite, req)
	if err != nil {
		return nil, err
	}
	slog.Debug("[SQLite] 执行 SQL", "sql", st.SQL, "args", len(st.Args))

	if req.Returning {
		rows, err := s.db.QueryContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, storeError(err)
		}
		defer rows.Close()
		data, err := rowsToJSON(rows)
		if err != nil {
			return nil, storeError(err)
		}
		return data, nil
	}

	res, err := s.db.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storeError(err)
	}
	if req.Action == port.ActionDelete {
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, &port.StoreError{Status: 404, Code: "PGRST116", Message: RowNotFoundMessage}
		}
	}
	return nil, nil
}

// storeError 把驱动错误转换为存储错误，保留驱动给出的消息
func storeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		return &port.StoreError{Status: 400, Code: strconv.Itoa(se.Code()), Message: se.Error()}
	}
	return &port.StoreError{Status: 500, Message: err.Error()}
}

// rowsToJSON 把结果集编码为 JSON 数组。TEXT 列以 []byte 返回时转为字符串。
func rowsToJSON(rows *sql.Rows) (json.RawMessage, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
