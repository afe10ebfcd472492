package reqstate

import (
	"context"
	"sync"
	"time"
)

// MutationStatus 是写操作的状态
type MutationStatus string

const (
	MutationIdle    MutationStatus = "idle"
	MutationPending MutationStatus = "pending"
	MutationSuccess MutationStatus = "success"
	MutationError   MutationStatus = "error"
)

// MutationState 是最近一次写操作的快照
type MutationState[T any] struct {
	Status      MutationStatus
	Data        T
	Err         error
	SubmittedAt time.Time
}

// MutationCallbacks 在写操作结束后依次调用：OnSuccess 或 OnError，然后 OnSettled
type MutationCallbacks[T any] struct {
	OnSuccess func(data T)
	OnError   func(err error)
	OnSettled func(data T, err error)
}

// MutationTracker 记录一个写操作观察者的状态。写操作本身不重试。
type MutationTracker[T any] struct {
	mu    sync.Mutex
	state MutationState[T]
}

// NewMutationTracker 创建空闲状态的跟踪器
func NewMutationTracker[T any]() *MutationTracker[T] {
	return &MutationTracker[T]{state: MutationState[T]{Status: MutationIdle}}
}

// Run 执行一次写操作并更新状态
func (m *MutationTracker[T]) Run(ctx context.Context, fn func(ctx context.Context) (T, error), cb MutationCallbacks[T]) (T, error) {
	var zero T
	m.mu.Lock()
	m.state = MutationState[T]{Status: MutationPending, SubmittedAt: time.Now()}
	m.mu.Unlock()

	data, err := fn(ctx)

	m.mu.Lock()
	if err != nil {
		m.state.Status = MutationError
		m.state.Err = err
		m.state.Data = zero
	} else {
		m.state.Status = MutationSuccess
		m.state.Data = data
	}
	m.mu.Unlock()

	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	} else if cb.OnSuccess != nil {
		cb.OnSuccess(data)
	}
	if cb.OnSettled != nil {
		cb.OnSettled(data, err)
	}
	return data, err
}

// State 返回当前状态快照
func (m *MutationTracker[T]) State() MutationState[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset 回到空闲状态
func (m *MutationTracker[T]) Reset() {
	m.mu.Lock()
	m.state = MutationState[T]{Status: MutationIdle}
	m.mu.Unlock()
}
