package datahook

import (
	"context"
	"fmt"
	"log/slog"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
)

// MutationOptions 是写操作钩子的参数
type MutationOptions[T any] struct {
	// InvalidateOnSuccess 为 true 时，写入成功后把目标表的查询缓存标记为过期
	InvalidateOnSuccess bool

	OnSuccess func(rows []T)
	OnError   func(err error)
	OnSettled func(rows []T, err error)
}

// Mutation 是写操作观察者，同一实例的最近一次结果可通过 State 读取
type Mutation[T any] struct {
	qc      *reqstate.Client
	sc      *storeclient.Client
	opts    MutationOptions[T]
	tracker *reqstate.MutationTracker[[]T]
}

// UseMutation 创建写操作钩子
func UseMutation[T any](qc *reqstate.Client, sc *storeclient.Client, opts MutationOptions[T]) *Mutation[T] {
	return &Mutation[T]{
		qc:      qc,
		sc:      sc,
		opts:    opts,
		tracker: reqstate.NewMutationTracker[[]T](),
	}
}

// MutateAsync 执行一次写入并等待结果。insert/update 返回受影响的行，delete 返回 nil。
func (m *Mutation[T]) MutateAsync(ctx context.Context, intent domain.MutationIntent) ([]T, error) {
	cb := reqstate.MutationCallbacks[[]T]{
		OnSuccess: func(rows []T) {
			if m.opts.InvalidateOnSuccess && m.qc != nil {
				m.qc.InvalidateTable(intent.Table)
			}
			if m.opts.OnSuccess != nil {
				m.opts.OnSuccess(rows)
			}
		},
		OnError:   m.opts.OnError,
		OnSettled: m.opts.OnSettled,
	}
	return m.tracker.Run(ctx, func(ctx context.Context) ([]T, error) {
		rows, err := m.run(ctx, intent)
		if err != nil {
			return nil, domain.NewStoreFailure(err)
		}
		return rows, nil
	}, cb)
}

// Mutate 在后台执行写入，结果通过回调与 State 获得。返回的 channel 在写入结束后关闭。
func (m *Mutation[T]) Mutate(ctx context.Context, intent domain.MutationIntent) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.MutateAsync(ctx, intent); err != nil {
			slog.Debug("后台写操作失败", "table", intent.Table, "type", intent.Kind, "error", err)
		}
	}()
	return done
}

// State 返回最近一次写操作的状态
func (m *Mutation[T]) State() reqstate.MutationState[[]T] {
	return m.tracker.State()
}

// Reset 清除最近一次写操作的状态
func (m *Mutation[T]) Reset() { m.tracker.Reset() }

func (m *Mutation[T]) run(ctx context.Context, intent domain.MutationIntent) ([]T, error) {
	var b *storeclient.FilterBuilder
	switch intent.Kind {
	case domain.MutationInsert:
		b = m.sc.From(intent.Table).Insert(intent.Payload).Select()
	case domain.MutationUpdate:
		// id 只作为匹配条件，不写入更新字段
		id, rest := domain.SplitID(intent.Payload)
		b = m.sc.From(intent.Table).Update(rest).Eq(domain.IDField, id).Select()
	case domain.MutationDelete:
		id, _ := domain.SplitID(intent.Payload)
		b = m.sc.From(intent.Table).Delete().Eq(domain.IDField, id)
	default:
		return nil, fmt.Errorf("%w: '%s'", domain.ErrUnknownMutationKind, intent.Kind)
	}

	if intent.Kind == domain.MutationDelete {
		if _, err := b.Execute(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	rows := make([]T, 0)
	if err := b.ExecuteTo(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
