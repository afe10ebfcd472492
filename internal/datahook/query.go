// Package datahook 提供两个通用的数据访问钩子：
// UseQuery 把查询描述符变成一次读取，UseMutation 把写操作意图变成一次写入。
// 缓存、过期和去重交给 reqstate，钩子本身不持有可变的共享状态。
package datahook

import (
	"context"
	"time"

	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
)

// QueryOptions 是查询钩子的参数
type QueryOptions struct {
	Descriptor domain.QueryDescriptor
	// Scope 用于区分缓存命名空间，例如当前用户 id
	Scope string
	// StaleTime 与 Retry 为 nil 时使用 reqstate 的默认值
	StaleTime *time.Duration
	Retry     *int
}

// Query 是绑定到一个描述符的查询
type Query[T any] struct {
	qc   *reqstate.Client
	sc   *storeclient.Client
	desc domain.QueryDescriptor
	key  reqstate.QueryKey
	opts QueryOptions
}

// UseQuery 创建查询。描述符先补全默认投影，缓存键由补全后的描述符计算。
func UseQuery[T any](qc *reqstate.Client, sc *storeclient.Client, opts QueryOptions) *Query[T] {
	desc := opts.Descriptor.WithDefaults()
	return &Query[T]{
		qc:   qc,
		sc:   sc,
		desc: desc,
		key: reqstate.QueryKey{
			Scope: opts.Scope,
			Table: desc.Table,
			Hash:  desc.CacheKey(),
		},
		opts: opts,
	}
}

// Key 返回缓存键
func (q *Query[T]) Key() reqstate.QueryKey { return q.key }

// Descriptor 返回补全默认值后的描述符
func (q *Query[T]) Descriptor() domain.QueryDescriptor { return q.desc }

// Fetch 返回行数据，数据新鲜时不访问存储
func (q *Query[T]) Fetch(ctx context.Context) ([]T, error) {
	return q.fetch(ctx, false)
}

// Refetch 忽略缓存新鲜度，强制访问存储
func (q *Query[T]) Refetch(ctx context.Context) ([]T, error) {
	return q.fetch(ctx, true)
}

// State 返回当前查询状态
func (q *Query[T]) State() reqstate.State[[]T] {
	return reqstate.QueryState[[]T](q.qc, q.key)
}

func (q *Query[T]) fetch(ctx context.Context, force bool) ([]T, error) {
	if err := q.desc.Validate(); err != nil {
		return nil, domain.NewStoreFailure(err)
	}
	rows, err := reqstate.FetchQuery(ctx, q.qc, q.key, q.run, reqstate.FetchOptions{
		StaleTime: q.opts.StaleTime,
		Retry:     q.opts.Retry,
		Force:     force,
	})
	if err != nil {
		return nil, domain.NewStoreFailure(err)
	}
	return rows, nil
}

// run 按 过滤 → 排序 → 行数限制 的顺序构造请求
func (q *Query[T]) run(ctx context.Context) ([]T, error) {
	b := q.sc.From(q.desc.Table).Select(q.desc.Select)
	for _, f := range q.desc.Filters {
		b = b.Filter(f.Column, f.Operator, f.Value)
	}
	if o := q.desc.OrderBy; o != nil {
		b = b.Order(o.Column, o.IsAscending())
	}
	if q.desc.Limit > 0 {
		b = b.Limit(q.desc.Limit)
	}

	rows := make([]T, 0)
	if err := b.ExecuteTo(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
