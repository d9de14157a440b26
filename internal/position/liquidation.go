package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/conf"
	"signalbridge/internal/exchange"
	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// State 平仓状态机的状态
type State int

const (
	StateCancelPending State = iota
	StateCloseAttempt
	StateVerify
	StateEscalate
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCancelPending:
		return "CancelPending"
	case StateCloseAttempt:
		return "CloseAttempt"
	case StateVerify:
		return "Verify"
	case StateEscalate:
		return "Escalate"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Liquidator 把账户（或单个合约）平到零持仓、零挂单
type Liquidator struct {
	broker      exchange.Broker
	maxAttempts int
	verifyDelay time.Duration
	limitOffset decimal.Decimal
	scope       string
}

type LiquidatorOption func(l *Liquidator)

func WithMaxAttempts(n int) LiquidatorOption {
	return func(l *Liquidator) { l.maxAttempts = n }
}

// WithVerifyDelay 平仓单发出后等待多久再核对持仓
func WithVerifyDelay(d time.Duration) LiquidatorOption {
	return func(l *Liquidator) { l.verifyDelay = d }
}

func WithLimitOffsetPct(pct float64) LiquidatorOption {
	return func(l *Liquidator) { l.limitOffset = decimal.NewFromFloat(pct) }
}

// WithScope conf.FlattenScopeAccount 平掉整个账户，conf.FlattenScopeInstrument 只处理信号品种
func WithScope(scope string) LiquidatorOption {
	return func(l *Liquidator) { l.scope = scope }
}

func NewLiquidator(b exchange.Broker, opts ...LiquidatorOption) *Liquidator {
	l := &Liquidator{
		broker:      b,
		maxAttempts: 3,
		verifyDelay: 500 * time.Millisecond,
		limitOffset: decimal.NewFromInt(2),
		scope:       conf.FlattenScopeAccount,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxAttempts < 1 {
		l.maxAttempts = 1
	}
	return l
}

// flattenRun 单次 Flatten 的上下文
type flattenRun struct {
	symbol       string
	positions    []model.BrokerPosition
	positionsErr error
	attempt      int
	noLiquidate  bool
	// closeOrders 本轮已被接受的平仓单，升级或失败前撤掉
	closeOrders  []int64
	result       model.FlattenResult
}

// Flatten 撤单、平仓并核对，最多 maxAttempts 轮平仓。失败通过结果返回，不返回 error。
// 已经是空仓且无挂单时直接返回 Done，不发出任何订单。
func (l *Liquidator) Flatten(ctx context.Context, instrument string) model.FlattenResult {
	run := &flattenRun{symbol: instrument, result: model.FlattenResult{Instrument: instrument}}

	run.positions, run.positionsErr = l.openPositions(ctx, instrument)
	orders, ordersErr := l.openOrders(ctx, instrument)
	if run.positionsErr == nil && ordersErr == nil && len(run.positions) == 0 && len(orders) == 0 {
		logger.Info("account already flat", logger.Pair("instrument", instrument))
		return l.finish(run, StateDone)
	}

	state := StateCancelPending
	for {
		if err := ctx.Err(); err != nil && state != StateDone && state != StateFailed {
			run.result.Detail = err.Error()
			state = StateFailed
		}
		logger.Debug("flatten state", logger.Pair("instrument", instrument), logger.Pair("state", state.String()),
			logger.Pair("attempt", run.attempt))

		switch state {
		case StateCancelPending:
			l.cancelPending(ctx, instrument, orders, ordersErr)
			state = StateCloseAttempt

		case StateCloseAttempt:
			if run.positionsErr != nil {
				run.positions, run.positionsErr = l.openPositions(ctx, instrument)
			}
			if run.positionsErr == nil && len(run.positions) == 0 {
				state = StateVerify
				continue
			}
			run.attempt++
			run.result.AttemptsUsed = run.attempt
			if run.positionsErr != nil {
				logger.Warn("close attempt skipped, positions unavailable",
					logger.Pair("attempt", run.attempt), logger.Pair("err", run.positionsErr))
			} else {
				run.result.OrdersIssued += l.closeAttempt(ctx, run)
			}
			state = StateVerify

		case StateVerify:
			if run.attempt > 0 {
				l.wait(ctx)
			}
			run.positions, run.positionsErr = l.openPositions(ctx, instrument)
			switch {
			case run.positionsErr == nil && len(run.positions) == 0:
				state = StateDone
			case run.attempt >= l.maxAttempts:
				l.cancelResting(ctx, run)
				state = StateFailed
			default:
				state = StateEscalate
			}

		case StateEscalate:
			logger.Warn("position still open, escalating",
				logger.Pair("instrument", instrument),
				logger.Pair("attempt", run.attempt),
				logger.Pair("residual", residual(run.positions)),
				logger.Pair("err", run.positionsErr))
			l.cancelResting(ctx, run)
			state = StateCloseAttempt

		case StateDone, StateFailed:
			return l.finish(run, state)
		}
	}
}

func (l *Liquidator) finish(run *flattenRun, state State) model.FlattenResult {
	res := run.result
	res.FinalState = state.String()
	if state == StateDone {
		res.Success = true
		res.FinalNetQuantity = 0
		return res
	}
	res.FinalNetQuantity = residual(run.positions)
	if res.Detail == "" {
		if run.positionsErr != nil {
			res.Detail = fmt.Sprintf("position state unknown after %d attempts: %v", run.attempt, run.positionsErr)
		} else {
			res.Detail = fmt.Sprintf("%d position(s) still open after %d attempts", len(run.positions), run.attempt)
		}
	}
	logger.Error("liquidation incomplete",
		logger.Pair("instrument", run.symbol),
		logger.Pair("attempts", res.AttemptsUsed),
		logger.Pair("finalNetQuantity", res.FinalNetQuantity),
		logger.Pair("detail", res.Detail))
	return res
}

// cancelPending 撤销挂单，失败只记录
func (l *Liquidator) cancelPending(ctx context.Context, instrument string, orders []model.Order, listErr error) {
	if l.scope == conf.FlattenScopeAccount || listErr != nil {
		key := ""
		if l.scope == conf.FlattenScopeInstrument {
			key = instrument
		}
		if err := l.broker.CancelAllOrders(ctx, key); err != nil {
			logger.Warn("cancel pending orders failed", logger.Pair("instrument", instrument), logger.Pair("err", err))
		}
		return
	}
	for _, o := range orders {
		if err := l.broker.CancelOrder(ctx, o.ID); err != nil {
			logger.Warn("cancel order failed", logger.Pair("orderId", o.ID), logger.Pair("err", err))
		}
	}
}

// cancelResting 撤掉上一轮留下的平仓单，避免和下一轮叠加
// 结果未知的平仓单没有订单号，靠重新拉取挂单兜底
func (l *Liquidator) cancelResting(ctx context.Context, run *flattenRun) {
	for _, id := range run.closeOrders {
		if err := l.broker.CancelOrder(ctx, id); err != nil {
			// IOC/FOK 已经失效时撤单会被拒绝
			logger.Debug("cancel close order failed", logger.Pair("orderId", id), logger.Pair("err", err))
		}
	}
	run.closeOrders = run.closeOrders[:0]

	orders, err := l.openOrders(ctx, run.symbol)
	if err == nil && len(orders) == 0 {
		return
	}
	l.cancelPending(ctx, run.symbol, orders, err)
}

// closeAttempt 对每个持仓先尝试券商一键平仓，再按阶梯依次下单直到有一笔被接受，返回发出的订单数。
// 只有被券商明确拒绝才换下一种订单；超时或网络错误时结果未知，停止该持仓的阶梯等待核对。
func (l *Liquidator) closeAttempt(ctx context.Context, run *flattenRun) int {
	issued := 0
	ladder := Ladder(run.attempt, l.maxAttempts, l.limitOffset)
	account := l.broker.Account()

	for _, pos := range run.positions {
		if !run.noLiquidate {
			switch l.liquidate(ctx, run, pos) {
			case liquidateAccepted, liquidateUnknown:
				continue
			}
		}

		inst, ok := ResolveInstrument(pos)
		if !ok {
			logger.Error("position has no usable identifier", logger.Pair("positionId", pos.ID))
			continue
		}
		target := CloseTarget{
			Account:        account,
			Instrument:     inst,
			NetQuantity:    pos.NetPos,
			ReferencePrice: pos.NetPrice,
		}
		for _, strategy := range ladder {
			req := strategy.Build(target)
			req.ClientOrderID = uuid.NewString()
			if err := req.Validate(); err != nil {
				logger.Warn("close order skipped", logger.Pair("strategy", strategy.Name), logger.Pair("err", err))
				continue
			}
			issued++
			resp, err := l.broker.PlaceOrder(ctx, req)
			if err != nil && model.IsRejected(err) {
				logger.Warn("close order rejected",
					logger.Pair("instrument", inst.Key()),
					logger.Pair("strategy", strategy.Name),
					logger.Pair("attempt", run.attempt),
					logger.Pair("err", err))
				continue
			}
			if err != nil {
				logger.Warn("close order outcome unknown, verifying before next order",
					logger.Pair("instrument", inst.Key()),
					logger.Pair("strategy", strategy.Name),
					logger.Pair("attempt", run.attempt),
					logger.Pair("err", err))
				break
			}
			run.closeOrders = append(run.closeOrders, resp.OrderID)
			logger.Info("close order accepted",
				logger.Pair("instrument", inst.Key()),
				logger.Pair("strategy", strategy.Name),
				logger.Pair("action", req.Action),
				logger.Pair("qty", req.Quantity),
				logger.Pair("orderId", resp.OrderID))
			break
		}
	}
	return issued
}

type liquidateOutcome int

const (
	liquidateAccepted liquidateOutcome = iota
	// liquidateUnknown 请求可能已执行，本轮不再对该持仓下单
	liquidateUnknown
	liquidateFallback
)

// liquidate 券商一键平仓。不支持或结果未知时本次 Flatten 后续不再使用，被拒绝时退回阶梯下单
func (l *Liquidator) liquidate(ctx context.Context, run *flattenRun, pos model.BrokerPosition) liquidateOutcome {
	liq, ok := l.broker.(exchange.PositionLiquidator)
	if !ok {
		run.noLiquidate = true
		return liquidateFallback
	}
	err := liq.LiquidatePosition(ctx, pos)
	switch {
	case err == nil:
		logger.Info("liquidate position accepted", logger.Pair("positionId", pos.ID), logger.Pair("netPos", pos.NetPos))
		return liquidateAccepted
	case errors.Is(err, exchange.ErrUnsupported):
		run.noLiquidate = true
		return liquidateFallback
	case model.IsRejected(err):
		logger.Warn("liquidate position rejected, falling back to close orders", logger.Pair("err", err))
		return liquidateFallback
	}
	run.noLiquidate = true
	logger.Warn("liquidate position outcome unknown, verifying", logger.Pair("positionId", pos.ID), logger.Pair("err", err))
	return liquidateUnknown
}

func (l *Liquidator) openPositions(ctx context.Context, instrument string) ([]model.BrokerPosition, error) {
	all, err := l.broker.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	if l.scope == conf.FlattenScopeAccount {
		return all, nil
	}
	var out []model.BrokerPosition
	for _, p := range all {
		inst, ok := ResolveInstrument(p)
		if !ok || matchesSymbol(inst, instrument) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (l *Liquidator) openOrders(ctx context.Context, instrument string) ([]model.Order, error) {
	all, err := l.broker.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	if l.scope == conf.FlattenScopeAccount {
		return all, nil
	}
	var out []model.Order
	for _, o := range all {
		if matchesSymbol(o.Instrument, instrument) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *Liquidator) wait(ctx context.Context) {
	if l.verifyDelay <= 0 {
		return
	}
	t := time.NewTimer(l.verifyDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// residual 单个持仓返回带符号净持仓，多个持仓返回合约总数
func residual(positions []model.BrokerPosition) int {
	if len(positions) == 1 {
		return positions[0].NetPos
	}
	total := 0
	for _, p := range positions {
		if p.NetPos < 0 {
			total -= p.NetPos
		} else {
			total += p.NetPos
		}
	}
	return total
}
