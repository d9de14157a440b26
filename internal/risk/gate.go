package risk

import (
	"time"

	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// Gate 信号去重。只拦截窗口内指纹完全相同的信号：
// 反向信号、价格不同的同向信号、刚成交完的信号都放行。
type Gate struct {
	history *SignalHistory
	window  time.Duration
	now     func() time.Time
}

type GateOption func(g *Gate)

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

func NewGate(history *SignalHistory, window time.Duration, opts ...GateOption) *Gate {
	g := &Gate{
		history: history,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	history.ensureRetention(window)
	return g
}

// Accept 是否放行该信号，放行时记录指纹
func (g *Gate) Accept(sig model.Signal) bool {
	fp := sig.Fingerprint()
	if !g.history.CheckAndRecord(fp, g.now(), g.window) {
		logger.Warn("duplicate signal ignored",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("direction", sig.Direction),
			logger.Pair("entry", sig.EntryPrice.String()),
			logger.Pair("configId", sig.ConfigID),
			logger.Pair("window", g.window))
		return false
	}
	return true
}

// OnResult 结果事件回调，入场组被接受时记录成交完成
func (g *Gate) OnResult(r model.OrchestrationResult) {
	if r.TradeCompleted() {
		g.history.MarkCompleted(r.Symbol, r.CompletedAt)
	}
}
