// Package domain file: internal/core/domain/mutation_models.go
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMutationKind 表示写操作类型不在 insert/update/delete 之内
var ErrUnknownMutationKind = errors.New("不支持的写操作类型")

// IDField 是 update/delete 用来匹配行的主键字段名
const IDField = "id"

// MutationKind 是写操作类型
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// ParseMutationKind 解析外部输入的写操作类型
func ParseMutationKind(s string) (MutationKind, error) {
	k := MutationKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case MutationInsert, MutationUpdate, MutationDelete:
		return k, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownMutationKind, s)
}

// Record 是松散类型的一行数据，原样转发给存储
type Record = map[string]any

// MutationIntent 描述一次写操作。
// update 和 delete 依赖 Payload["id"]；缺失时不做本地校验，由存储报错。
type MutationIntent struct {
	Table   string       `json:"table"`
	Kind    MutationKind `json:"type"`
	Payload Record       `json:"payload"`
}

// SplitID 把 payload 拆成 id 和其余字段，不修改原 map。
func SplitID(payload Record) (id any, rest Record) {
	rest = make(Record, len(payload))
	for k, v := range payload {
		if k == IDField {
			id = v
			continue
		}
		rest[k] = v
	}
	return id, rest
}
