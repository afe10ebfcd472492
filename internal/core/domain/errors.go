// Package domain file: internal/core/domain/errors.go
package domain

import "errors"

// ErrStoreOperation 是唯一的错误种类："存储操作失败"。
// 网络、校验、权限等失败都归入这一类。
var ErrStoreOperation = errors.New("store operation failed")

// StoreFailure 携带外部存储返回的原始消息。
// Error() 原样返回该消息，不加任何前缀。
type StoreFailure struct {
	Message string
	cause   error
}

// NewStoreFailure 把任意存储错误折叠为 StoreFailure。
// 若 err 提供 StoreMessage()（port.StoreError），使用存储消息；否则使用 err.Error()。
func NewStoreFailure(err error) *StoreFailure {
	if err == nil {
		return nil
	}
	var sf *StoreFailure
	if errors.As(err, &sf) {
		return sf
	}
	msg := err.Error()
	var withMsg interface{ StoreMessage() string }
	if errors.As(err, &withMsg) {
		msg = withMsg.StoreMessage()
	}
	return &StoreFailure{Message: msg, cause: err}
}

func (e *StoreFailure) Error() string { return e.Message }

// Is 让 errors.Is(err, ErrStoreOperation) 成立
func (e *StoreFailure) Is(target error) bool { return target == ErrStoreOperation }

// Unwrap 返回底层存储错误，便于调试日志
func (e *StoreFailure) Unwrap() error { return e.cause }
