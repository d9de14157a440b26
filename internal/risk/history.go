package risk

import (
	"sync"
	"time"
)

// SignalHistory 去重记录：指纹最后出现时间、合约最近一次成交完成时间。
// 条目只插入或整体替换，超过保留时长后在下一次访问时清理。
type SignalHistory struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	completed map[string]time.Time
	retention time.Duration
}

// NewSignalHistory retention 取去重窗口和成交冷却期中较大者
func NewSignalHistory(duplicateWindow, completionCooldown time.Duration) *SignalHistory {
	retention := duplicateWindow
	if completionCooldown > retention {
		retention = completionCooldown
	}
	return &SignalHistory{
		seen:      make(map[string]time.Time),
		completed: make(map[string]time.Time),
		retention: retention,
	}
}

// CheckAndRecord 窗口内见过该指纹返回 false；否则记录并返回 true。
// 检查和记录在同一把锁内完成，同时到达的相同信号只会放行一个。
func (h *SignalHistory) CheckAndRecord(fingerprint string, now time.Time, window time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(now)

	if last, ok := h.seen[fingerprint]; ok && now.Sub(last) < window {
		return false
	}
	h.seen[fingerprint] = now
	return true
}

// MarkCompleted 记录成交完成，仅做记录，不参与放行判断
func (h *SignalHistory) MarkCompleted(symbol string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(at)
	h.completed[symbol] = at
}

func (h *SignalHistory) LastCompleted(symbol string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.completed[symbol]
	return t, ok
}

// ensureRetention 保留时长至少为 d，否则窗口内的指纹会被提前清理
func (h *SignalHistory) ensureRetention(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d > h.retention {
		h.retention = d
	}
}

// Len 当前指纹记录数
func (h *SignalHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *SignalHistory) prune(now time.Time) {
	for fp, t := range h.seen {
		if now.Sub(t) > h.retention {
			delete(h.seen, fp)
		}
	}
	for sym, t := range h.completed {
		if now.Sub(t) > h.retention {
			delete(h.completed, sym)
		}
	}
}
