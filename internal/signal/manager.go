package signal

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"signalbridge/internal/model"
	"signalbridge/internal/risk"
	"signalbridge/pkg/logger"
)

// Flattener 把账户或合约平到无持仓无挂单
type Flattener interface {
	Flatten(ctx context.Context, instrument string) model.FlattenResult
}

// BracketSubmitter 提交入场联动单
type BracketSubmitter interface {
	SubmitBracket(ctx context.Context, sig model.Signal) model.BracketResult
}

// Publisher 接收每一次编排结果，不能阻塞
type Publisher interface {
	Publish(r model.OrchestrationResult) bool
}

// Manager 信号编排：去重 → 锁账户 → 平仓 → 提交联动单 → 解锁 → 上报
type Manager struct {
	gate      *risk.Gate
	flattener Flattener
	brackets  BracketSubmitter
	publisher Publisher
	account   string
	locks     sync.Map // account → *sync.Mutex
	node      *snowflake.Node
	now       func() time.Time
}

type Option func(m *Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithAccount 账户串行化使用的 key，一个进程对应一个券商账户
func WithAccount(key string) Option {
	return func(m *Manager) { m.account = key }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNode 多实例部署时各实例使用不同的 snowflake 节点号
func WithNode(node *snowflake.Node) Option {
	return func(m *Manager) { m.node = node }
}

func NewManager(gate *risk.Gate, flattener Flattener, brackets BracketSubmitter, opts ...Option) (*Manager, error) {
	m := &Manager{
		gate:      gate,
		flattener: flattener,
		brackets:  brackets,
		account:   "default",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.node == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, err
		}
		m.node = node
	}
	return m, nil
}

// Handle 处理一个信号。只有格式错误返回 error 且不产生结果；
// 其余情况都返回完整结果，error 为 result.Err()，平仓失败时依然会提交联动单。
func (m *Manager) Handle(ctx context.Context, sig model.Signal) (model.OrchestrationResult, error) {
	if err := sig.Validate(); err != nil {
		logger.Warn("malformed signal rejected", logger.Pair("symbol", sig.Symbol), logger.Pair("err", err))
		return model.OrchestrationResult{}, err
	}

	res := model.OrchestrationResult{
		RunID:       m.node.Generate().String(),
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		ConfigID:    sig.ConfigID,
		Fingerprint: sig.Fingerprint(),
		ReceivedAt:  m.now(),
	}

	if !m.gate.Accept(sig) {
		res.Outcome = model.OutcomeDuplicate
		res.CompletedAt = m.now()
		m.report(res)
		return res, res.Err()
	}

	flat, bracket := m.execute(ctx, sig, res.RunID)
	res.Flatten = &flat
	res.Bracket = &bracket
	res.ResidualExposure = !flat.Success
	switch {
	case !bracket.Accepted:
		res.Outcome = model.OutcomeBracketRejected
	case !flat.Success:
		res.Outcome = model.OutcomeLiquidationIncomplete
	default:
		res.Outcome = model.OutcomeAccepted
	}
	res.CompletedAt = m.now()
	m.report(res)
	return res, res.Err()
}

// execute 持有账户锁期间依次平仓和下单
func (m *Manager) execute(ctx context.Context, sig model.Signal, runID string) (model.FlattenResult, model.BracketResult) {
	mu := m.lock(m.account)
	mu.Lock()
	defer mu.Unlock()

	logger.Info("orchestration started",
		logger.Pair("runId", runID),
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("direction", sig.Direction),
		logger.Pair("entry", sig.EntryPrice.String()))

	flat := m.flattener.Flatten(ctx, sig.Symbol)
	if !flat.Success {
		logger.Warn("proceeding with bracket despite residual exposure",
			logger.Pair("runId", runID),
			logger.Pair("finalNetQuantity", flat.FinalNetQuantity))
	}
	return flat, m.brackets.SubmitBracket(ctx, sig)
}

// Startup 启动时清理账户，结果只记录
func (m *Manager) Startup(ctx context.Context) model.FlattenResult {
	mu := m.lock(m.account)
	mu.Lock()
	defer mu.Unlock()

	res := m.flattener.Flatten(ctx, "")
	if res.Success {
		logger.Info("startup flatten done", logger.Pair("attempts", res.AttemptsUsed), logger.Pair("orders", res.OrdersIssued))
	} else {
		logger.Error("startup flatten incomplete", logger.Pair("finalNetQuantity", res.FinalNetQuantity), logger.Pair("detail", res.Detail))
	}
	return res
}

func (m *Manager) lock(account string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(account, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (m *Manager) report(res model.OrchestrationResult) {
	fields := []zap.Field{
		logger.Pair("runId", res.RunID),
		logger.Pair("symbol", res.Symbol),
		logger.Pair("direction", res.Direction),
		logger.Pair("configId", res.ConfigID),
		logger.Pair("outcome", res.Outcome),
		logger.Pair("residualExposure", res.ResidualExposure),
		logger.Pair("elapsed", res.CompletedAt.Sub(res.ReceivedAt)),
	}
	if res.Flatten != nil {
		fields = append(fields,
			logger.Pair("flattenAttempts", res.Flatten.AttemptsUsed),
			logger.Pair("finalNetQuantity", res.Flatten.FinalNetQuantity),
			logger.Pair("flattenState", res.Flatten.FinalState))
	}
	if res.Bracket != nil {
		fields = append(fields, logger.Pair("orderIds", res.Bracket.OrderIDs), logger.Pair("bracketReason", res.Bracket.Reason))
	}
	switch res.Outcome {
	case model.OutcomeAccepted, model.OutcomeDuplicate:
		logger.Info("signal handled", fields...)
	default:
		logger.Error("signal handled with failure", fields...)
	}
	if m.publisher != nil {
		m.publisher.Publish(res)
	}
}
