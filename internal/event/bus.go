package event

import (
	"context"
	"sync"
	"sync/atomic"

	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// Subscriber 处理一条编排结果，不能阻塞太久
type Subscriber func(ctx context.Context, r model.OrchestrationResult)

type subscription struct {
	name string
	fn   Subscriber
}

// Bus 异步分发编排结果。
// Publish 从不阻塞下单路径，队列满时丢弃并计数。
type Bus struct {
	ch      chan model.OrchestrationResult
	mu      sync.RWMutex
	subs    []subscription
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{
		ch:   make(chan model.OrchestrationResult, size),
		done: make(chan struct{}),
	}
}

// Subscribe 需要在 Run 之前注册
func (b *Bus) Subscribe(name string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, fn: fn})
}

func (b *Bus) Publish(r model.OrchestrationResult) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- r:
		return true
	default:
		b.dropped.Add(1)
		logger.Warn("result bus full, event dropped",
			logger.Pair("runId", r.RunID),
			logger.Pair("outcome", r.Outcome))
		return false
	}
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Run 分发直到 Close 后队列取空，或 ctx 结束
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-b.ch:
			if !ok {
				return
			}
			b.dispatch(ctx, r)
		}
	}
}

// Close 停止接收新事件，等待 Run 把已入队的事件分发完
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()
}

// Wait 等待 Run 退出
func (b *Bus) Wait() {
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, r model.OrchestrationResult) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("result subscriber panic", logger.Pair("subscriber", s.name), logger.Pair("panic", p))
				}
			}()
			s.fn(ctx, r)
		}()
	}
}
