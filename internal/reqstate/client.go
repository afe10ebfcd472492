// Package reqstate 是查询结果的请求状态层：缓存、过期判断、并发去重、重试与失效。
// 查询钩子只负责发出请求，是否命中缓存、何时重新获取都由这里决定。
package reqstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"ShopAegis/internal/aegobserve"
)

// Config 是请求状态层配置
type Config struct {
	// StaleTime 是数据保持新鲜的时长，0 表示每次读取都重新获取
	StaleTime time.Duration
	// GCTime 是缓存条目在最后一次写入后保留的时长
	GCTime time.Duration
	// MaxEntries 是缓存条目上限
	MaxEntries int
	// Retry 是查询失败后的重试次数，默认 0
	Retry int
	// RetryDelay 是第一次重试前的等待时间，之后按 2 倍递增，上限 30s
	RetryDelay time.Duration
}

const maxRetryDelay = 30 * time.Second

// QueryKey 标识一条缓存。Hash 是查询描述符的结构化键，Scope 区分调用者（例如用户 id）。
type QueryKey struct {
	Scope string
	Table string
	Hash  string
}

func (k QueryKey) String() string {
	return k.Scope + "|" + k.Hash
}

// Client 持有全部查询缓存，可被多个 goroutine 共享
type Client struct {
	mu         sync.Mutex
	cache      *lru.LRU[string, *entry]
	group      singleflight.Group
	staleTime  atomic.Int64
	retry      int
	retryDelay time.Duration
}

// New 创建请求状态层
func New(cfg Config) *Client {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	c := &Client{
		cache:      lru.NewLRU[string, *entry](cfg.MaxEntries, nil, cfg.GCTime),
		retry:      cfg.Retry,
		retryDelay: cfg.RetryDelay,
	}
	c.staleTime.Store(int64(cfg.StaleTime))
	return c
}

// SetStaleTime 在运行时修改默认新鲜时长（配置热加载时调用）
func (c *Client) SetStaleTime(d time.Duration) {
	if time.Duration(c.staleTime.Swap(int64(d))) != d {
		slog.Info("查询缓存新鲜时长已更新", "stale_time", d.String())
	}
}

// StaleTime 返回当前默认新鲜时长
func (c *Client) StaleTime() time.Duration {
	return time.Duration(c.staleTime.Load())
}

// Len 返回当前缓存条目数
func (c *Client) Len() int { return c.cache.Len() }

// entryFor 取出或创建缓存条目
func (c *Client) entryFor(key QueryKey) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.String()
	if e, ok := c.cache.Get(id); ok {
		return e
	}
	e := &entry{table: key.Table}
	c.cache.Add(id, e)
	return e
}

func (c *Client) peek(key QueryKey) (*entry, bool) {
	return c.cache.Peek(key.String())
}

// touch 在写入结果后刷新条目的保留时间
func (c *Client) touch(key QueryKey, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key.String(), e)
}

// InvalidateTable 把指定表的全部缓存标记为过期，返回受影响的条目数。
// 下一次读取会重新获取。
func (c *Client) InvalidateTable(table string) int {
	n := 0
	for _, e := range c.cache.Values() {
		if e.table == table {
			e.invalidate()
			n++
		}
	}
	slog.Debug("查询缓存已按表失效", "table", table, "entries", n)
	return n
}

// InvalidateAll 把全部缓存标记为过期
func (c *Client) InvalidateAll() int {
	values := c.cache.Values()
	for _, e := range values {
		e.invalidate()
	}
	slog.Debug("全部查询缓存已失效", "entries", len(values))
	return len(values)
}

// Remove 删除一条缓存
func (c *Client) Remove(key QueryKey) bool {
	return c.cache.Remove(key.String())
}

// Clear 清空缓存
func (c *Client) Clear() {
	c.cache.Purge()
}

// backoff 返回第 attempt 次重试前的等待时间
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryDelay << attempt
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// sleep 等待 d，ctx 结束时提前返回 ctx 的错误
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func observe(hit bool) { aegobserve.ObserveCache(hit) }
