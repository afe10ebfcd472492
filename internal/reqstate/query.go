package reqstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status 是查询的数据状态
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State 是查询状态的快照
type State[T any] struct {
	Status     Status
	Data       T
	Err        error
	UpdatedAt  time.Time
	IsFetching bool
	IsStale    bool
}

// FetchOptions 覆盖单次读取的默认行为
type FetchOptions struct {
	// StaleTime 非 nil 时覆盖默认新鲜时长
	StaleTime *time.Duration
	// Retry 非 nil 时覆盖默认重试次数
	Retry *int
	// Force 忽略新鲜度，强制重新获取
	Force bool
}

// FetchFunc 执行真正的读取
type FetchFunc[T any] func(ctx context.Context) (T, error)

type entry struct {
	table string

	mu          sync.Mutex
	status      Status
	data        any
	err         error
	updatedAt   time.Time
	fetching    bool
	invalidated bool
	// gen 每次失效时递增，进行中的读取据此判断结果是否已被失效覆盖
	gen uint64
	// staleTime 是最近一次读取使用的新鲜时长覆盖值，nil 表示使用客户端默认值
	staleTime *time.Duration
}

func (e *entry) invalidate() {
	e.mu.Lock()
	e.invalidated = true
	e.gen++
	e.mu.Unlock()
}

func (e *entry) fresh(staleTime time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freshLocked(staleTime)
}

func (e *entry) freshLocked(staleTime time.Duration) bool {
	return e.status == StatusSuccess && !e.invalidated && time.Since(e.updatedAt) < staleTime
}

// FetchQuery 返回 key 对应的数据。数据新鲜时直接返回缓存，否则调用 fn。
// 同一 key 的并发读取只会触发一次 fn；fn 使用首个调用者 ctx 的值但不受其取消影响，
// 每个调用者各自按自己的 ctx 放弃等待。
func FetchQuery[T any](ctx context.Context, c *Client, key QueryKey, fn FetchFunc[T], opts FetchOptions) (T, error) {
	staleTime := c.StaleTime()
	if opts.StaleTime != nil {
		staleTime = *opts.StaleTime
	}
	retry := c.retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	e := c.entryFor(key)
	e.mu.Lock()
	e.staleTime = opts.StaleTime
	e.mu.Unlock()
	if !opts.Force && e.fresh(staleTime) {
		e.mu.Lock()
		data, ok := e.data.(T)
		e.mu.Unlock()
		if ok {
			observe(true)
			return data, nil
		}
	}
	observe(false)

	var zero T
	fetchCtx := context.WithoutCancel(ctx)
	// 行类型是 key 的一部分，不同 T 的并发读取不共享同一次调用
	flightKey := fmt.Sprintf("%s|%T", key.String(), zero)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		e.mu.Lock()
		e.fetching = true
		startGen := e.gen
		e.mu.Unlock()

		data, err := fetchWithRetry(fetchCtx, c, fn, retry)

		e.mu.Lock()
		e.fetching = false
		if err != nil {
			e.status = StatusError
			e.err = err
		} else {
			e.status = StatusSuccess
			e.data = data
			e.err = nil
			// 读取期间发生的失效仍然有效，下一次读取会重新获取
			e.invalidated = e.gen != startGen
		}
		e.updatedAt = time.Now()
		e.mu.Unlock()

		c.touch(key, e)
		return data, err
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		data, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("查询结果类型不匹配: 期望 %T, 得到 %T", zero, res.Val)
		}
		return data, nil
	}
}

func fetchWithRetry[T any](ctx context.Context, c *Client, fn FetchFunc[T], retry int) (T, error) {
	var (
		data T
		err  error
	)
	for attempt := 0; ; attempt++ {
		data, err = fn(ctx)
		if err == nil || attempt >= retry {
			return data, err
		}
		delay := c.backoff(attempt)
		slog.Debug("查询失败，准备重试", "attempt", attempt+1, "delay", delay, "error", err)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return data, err
		}
	}
}

// QueryState 返回 key 的状态快照；没有缓存时为 pending
func QueryState[T any](c *Client, key QueryKey) State[T] {
	e, ok := c.peek(key)
	if !ok {
		return State[T]{Status: StatusPending, IsStale: true}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	staleTime := c.StaleTime()
	if e.staleTime != nil {
		staleTime = *e.staleTime
	}
	st := State[T]{
		Status:     e.status,
		Err:        e.err,
		UpdatedAt:  e.updatedAt,
		IsFetching: e.fetching,
		IsStale:    !e.freshLocked(staleTime),
	}
	if st.Status == "" {
		st.Status = StatusPending
	}
	if data, ok := e.data.(T); ok {
		st.Data = data
	}
	return st
}

// SetQueryData 直接写入缓存数据（例如写操作返回了最新行）
func SetQueryData[T any](c *Client, key QueryKey, data T) {
	e := c.entryFor(key)
	e.mu.Lock()
	e.status = StatusSuccess
	e.data = data
	e.err = nil
	e.invalidated = false
	e.updatedAt = time.Now()
	e.mu.Unlock()
	c.touch(key, e)
}
