package exchange

import (
	"context"
	"errors"
	"time"

	"signalbridge/internal/model"
	"signalbridge/pkg/metrics"
)

// Guarded 给每个券商调用加固定超时并记录耗时。
// 底层调用不响应 ctx 时也能按时返回，超时视为 transport 失败。
type Guarded struct {
	broker  Broker
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewGuarded(b Broker, timeout time.Duration, m *metrics.Metrics) *Guarded {
	return &Guarded{broker: b, timeout: timeout, metrics: m}
}

type callResult[T any] struct {
	val T
	err error
}

func guard[T any](ctx context.Context, g *Guarded, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan callResult[T], 1)
	go func() {
		v, err := fn(timeoutCtx)
		ch <- callResult[T]{v, err}
	}()

	var (
		val T
		err error
	)
	select {
	case <-timeoutCtx.Done():
		err = model.NewTransportError(op, timeoutCtx.Err())
	case res := <-ch:
		val, err = res.val, res.err
		var be *model.BrokerError
		if err != nil && !errors.As(err, &be) && !errors.Is(err, ErrUnsupported) {
			err = model.NewTransportError(op, err)
		}
	}
	g.metrics.ObserveBrokerCall(op, err, time.Since(start))
	return val, err
}

func (g *Guarded) Account() model.Account {
	return g.broker.Account()
}

func (g *Guarded) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	return guard(ctx, g, "placeorder", func(ctx context.Context) (*model.OrderResponse, error) {
		return g.broker.PlaceOrder(ctx, req)
	})
}

func (g *Guarded) PlaceBracket(ctx context.Context, group model.BracketGroup) (*model.BracketResponse, error) {
	return guard(ctx, g, "placeoso", func(ctx context.Context) (*model.BracketResponse, error) {
		return g.broker.PlaceBracket(ctx, group)
	})
}

func (g *Guarded) CancelOrder(ctx context.Context, orderID int64) error {
	_, err := guard(ctx, g, "cancelorder", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.broker.CancelOrder(ctx, orderID)
	})
	return err
}

func (g *Guarded) CancelAllOrders(ctx context.Context, instrument string) error {
	_, err := guard(ctx, g, "cancelall", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.broker.CancelAllOrders(ctx, instrument)
	})
	return err
}

func (g *Guarded) ListPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	return guard(ctx, g, "positionlist", func(ctx context.Context) ([]model.BrokerPosition, error) {
		return g.broker.ListPositions(ctx)
	})
}

func (g *Guarded) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	return guard(ctx, g, "orderlist", func(ctx context.Context) ([]model.Order, error) {
		return g.broker.ListOpenOrders(ctx)
	})
}

// LiquidatePosition 底层不支持时返回 ErrUnsupported
func (g *Guarded) LiquidatePosition(ctx context.Context, pos model.BrokerPosition) error {
	liq, ok := g.broker.(PositionLiquidator)
	if !ok {
		return ErrUnsupported
	}
	_, err := guard(ctx, g, "liquidateposition", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, liq.LiquidatePosition(ctx, pos)
	})
	return err
}
