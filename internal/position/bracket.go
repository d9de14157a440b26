package position

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"signalbridge/internal/exchange"
	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// BracketBuilder 构造并提交 入场 + 止盈 + 止损 联动单
type BracketBuilder struct {
	broker   exchange.Broker
	quantity int
	sweepAll bool
}

type BracketOption func(b *BracketBuilder)

// WithSweepAll 提交结果未知时撤销账户下所有挂单，而不只是信号品种的挂单
func WithSweepAll(all bool) BracketOption {
	return func(b *BracketBuilder) { b.sweepAll = all }
}

func NewBracketBuilder(broker exchange.Broker, quantity int, opts ...BracketOption) *BracketBuilder {
	if quantity < 1 {
		quantity = 1
	}
	b := &BracketBuilder{broker: broker, quantity: quantity}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 入场为 entryPrice 的 Stop 单；止盈为反向 Limit；止损为反向 Stop。
// 每条腿都带完整的账户、方向、数量、有效期和自动化标记。
func (b *BracketBuilder) Build(sig model.Signal) model.BracketGroup {
	account := b.broker.Account()
	inst := model.Instrument{Symbol: sig.Symbol}
	leg := func(action model.Direction, kind model.OrderKind) model.OrderRequest {
		return model.OrderRequest{
			Account:       account,
			ClientOrderID: uuid.NewString(),
			Instrument:    inst,
			Action:        action,
			Quantity:      b.quantity,
			Kind:          kind,
			TimeInForce:   model.TifGTC,
			IsAutomated:   true,
		}
	}

	entry := leg(sig.Direction, model.OrderStop)
	entry.StopPrice = sig.EntryPrice

	tp := leg(sig.Direction.Opposite(), model.OrderLimit)
	tp.Price = sig.TakeProfitPrice

	sl := leg(sig.Direction.Opposite(), model.OrderStop)
	sl.StopPrice = sig.StopLossPrice

	return model.BracketGroup{Entry: entry, TakeProfit: tp, StopLoss: sl}
}

// SubmitBracket 提交联动单。被拒时撤销已接受的腿，保证不留下孤立挂单。
func (b *BracketBuilder) SubmitBracket(ctx context.Context, sig model.Signal) model.BracketResult {
	group := b.Build(sig)
	for _, leg := range group.Legs() {
		if err := leg.Validate(); err != nil {
			return model.BracketResult{Reason: err.Error()}
		}
	}

	resp, err := b.broker.PlaceBracket(ctx, group)
	if err == nil && resp != nil && resp.Complete() {
		ids := resp.AcceptedIDs()
		logger.Info("bracket accepted",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("direction", sig.Direction),
			logger.Pair("orderIds", ids))
		return model.BracketResult{Accepted: true, OrderIDs: ids}
	}
	if err == nil {
		err = fmt.Errorf("bracket response incomplete")
	}

	var accepted []int64
	if resp != nil {
		accepted = resp.AcceptedIDs()
	}
	logger.Error("bracket rejected",
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("acceptedLegs", accepted),
		logger.Pair("err", err))

	result := model.BracketResult{Reason: err.Error()}
	var rbErr error
	if len(accepted) == 0 && model.IsTransport(err) {
		// 结果未知，按挂单列表清理
		result.RolledBack, rbErr = b.sweep(ctx, sig.Symbol)
	} else {
		result.RolledBack, rbErr = b.rollback(ctx, accepted)
	}
	if rbErr != nil {
		result.Reason = fmt.Sprintf("%s; rollback incomplete: %v", result.Reason, rbErr)
		logger.Error("bracket rollback incomplete", logger.Pair("symbol", sig.Symbol), logger.Pair("err", rbErr))
	}
	return result
}

// rollback 撤销已接受的腿，然后查挂单确认，仍在的再撤一次
func (b *BracketBuilder) rollback(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		if err := b.broker.CancelOrder(ctx, id); err != nil {
			logger.Warn("rollback cancel failed", logger.Pair("orderId", id), logger.Pair("err", err))
		}
	}

	open, err := b.broker.ListOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify rollback: %w", err)
	}
	pending := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	var errs error
	for _, o := range open {
		if pending[o.ID] {
			errs = multierr.Append(errs, b.broker.CancelOrder(ctx, o.ID))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return ids, nil
}

// sweep 撤销提交后出现的挂单；提交前已确认无挂单，此时存在的都属于本次联动单
func (b *BracketBuilder) sweep(ctx context.Context, symbol string) ([]int64, error) {
	open, err := b.broker.ListOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders for sweep: %w", err)
	}
	var (
		cancelled []int64
		errs      error
	)
	for _, o := range open {
		if !b.sweepAll && !matchesSymbol(o.Instrument, symbol) {
			continue
		}
		if err := b.broker.CancelOrder(ctx, o.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, errs
}
