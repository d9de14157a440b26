package event

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"signalbridge/internal/consts"
	"signalbridge/internal/model"
)

// Feed 最近的编排结果，新的在前
type Feed interface {
	Push(ctx context.Context, r model.OrchestrationResult) error
	Recent(ctx context.Context, n int) ([]model.OrchestrationResult, error)
}

// MemoryFeed 单实例部署用的环形缓冲
type MemoryFeed struct {
	mu   sync.RWMutex
	buf  []model.OrchestrationResult
	next int
	full bool
}

func NewMemoryFeed(size int) *MemoryFeed {
	if size <= 0 {
		size = 200
	}
	return &MemoryFeed{buf: make([]model.OrchestrationResult, size)}
}

func (f *MemoryFeed) Push(_ context.Context, r model.OrchestrationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = r
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	return nil
}

func (f *MemoryFeed) Recent(_ context.Context, n int) ([]model.OrchestrationResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	count := f.next
	if f.full {
		count = len(f.buf)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]model.OrchestrationResult, 0, n)
	for i := 1; i <= n; i++ {
		idx := (f.next - i + len(f.buf)) % len(f.buf)
		out = append(out, f.buf[idx])
	}
	return out, nil
}

// RedisFeed 多实例共享的结果列表，LPUSH + LTRIM 保持固定长度
type RedisFeed struct {
	client redis.Cmdable
	key    string
	size   int64
}

func NewRedisFeed(client redis.Cmdable, size int) *RedisFeed {
	if size <= 0 {
		size = 200
	}
	return &RedisFeed{client: client, key: consts.ResultFeedKey, size: int64(size)}
}

func (f *RedisFeed) Push(ctx context.Context, r model.OrchestrationResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, f.key, data)
		pipe.LTrim(ctx, f.key, 0, f.size-1)
		return nil
	})
	return err
}

func (f *RedisFeed) Recent(ctx context.Context, n int) ([]model.OrchestrationResult, error) {
	if n <= 0 || int64(n) > f.size {
		n = int(f.size)
	}
	items, err := f.client.LRange(ctx, f.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.OrchestrationResult, 0, len(items))
	for _, item := range items {
		var r model.OrchestrationResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
