package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/conf"
	"signalbridge/internal/exchange"
	"signalbridge/internal/model"
)

// plainBroker 隐藏模拟券商的一键平仓
type plainBroker struct{ exchange.Broker }

type orderCapture struct {
	mu   sync.Mutex
	reqs []model.OrderRequest
}

func (c *orderCapture) hook(reject error) func(req model.OrderRequest) error {
	return func(req model.OrderRequest) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.reqs = append(c.reqs, req)
		return reject
	}
}

func (c *orderCapture) all() []model.OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.OrderRequest(nil), c.reqs...)
}

// lateBroker 订单已经成交，但响应在 delay 之后才返回
type lateBroker struct {
	exchange.Broker
	delay time.Duration
}

func (b lateBroker) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	resp, err := b.Broker.PlaceOrder(ctx, req)
	time.Sleep(b.delay)
	return resp, err
}

// lateLiquidator 一键平仓已执行，响应超时
type lateLiquidator struct {
	*exchange.SimulatedExchange
	delay time.Duration
}

func (b lateLiquidator) LiquidatePosition(ctx context.Context, pos model.BrokerPosition) error {
	err := b.SimulatedExchange.LiquidatePosition(ctx, pos)
	time.Sleep(b.delay)
	return err
}

func newLiquidator(b exchange.Broker, opts ...LiquidatorOption) *Liquidator {
	return NewLiquidator(b, append([]LiquidatorOption{WithVerifyDelay(0), WithMaxAttempts(3)}, opts...)...)
}

func TestFlatten_AlreadyFlatIsNoop(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	l := newLiquidator(ex)

	for i := 0; i < 2; i++ {
		res := l.Flatten(context.Background(), "NQ")
		assert.True(t, res.Success)
		assert.Equal(t, "Done", res.FinalState)
		assert.Zero(t, res.AttemptsUsed)
		assert.Zero(t, res.OrdersIssued)
	}
	assert.Zero(t, ex.CallCount("placeorder"))
	assert.Zero(t, ex.CallCount("cancel"))
}

func TestFlatten_StaleLongClosedWithIOC(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 2, NetPrice: decimal.NewFromInt(18490)})
	capture := &orderCapture{}
	ex.OnPlaceOrder(capture.hook(nil))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	require.True(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
	assert.Equal(t, 0, res.FinalNetQuantity)
	reqs := capture.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, model.TifIOC, reqs[0].TimeInForce)
	assert.Equal(t, model.OrderMarket, reqs[0].Kind)
	assert.Equal(t, model.Sell, reqs[0].Action)
	assert.Equal(t, 2, reqs[0].Quantity)
	assert.NotEmpty(t, reqs[0].ClientOrderID)
}

func TestFlatten_UsesLiquidatePrimitiveFirst(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: -1})

	res := newLiquidator(exchange.NewGuarded(ex, time.Second, nil)).
		Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, ex.CallCount("liquidateposition"))
	assert.Zero(t, ex.CallCount("placeorder"))
}

func TestFlatten_FallsBackWhenLiquidateFails(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.FailLiquidate(model.NewRejectedError("liquidateposition", 400, "not allowed"))

	res := newLiquidator(ex).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, ex.CallCount("liquidateposition"))
	assert.Equal(t, 1, ex.CallCount("placeorder:Market:IOC"))
}

func TestFlatten_GTCFallbackWhenIOCRejected(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.OnPlaceOrder(func(req model.OrderRequest) error {
		if req.TimeInForce == model.TifIOC {
			return model.NewRejectedError("placeorder", 400, "IOC not supported")
		}
		return nil
	})

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, []string{"positionlist", "orderlist", "cancelall", "placeorder:Market:IOC",
		"placeorder:Market:GTC", "positionlist"}, ex.Calls())
}

func TestFlatten_FailsAfterMaxAttempts(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 2, NetPrice: decimal.NewFromInt(18490)})
	capture := &orderCapture{}
	ex.OnPlaceOrder(capture.hook(model.NewRejectedError("placeorder", 400, "market closed")))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.False(t, res.Success)
	assert.Equal(t, "Failed", res.FinalState)
	assert.Equal(t, 3, res.AttemptsUsed)
	assert.Equal(t, 2, res.FinalNetQuantity)
	assert.NotEmpty(t, res.Detail)

	// 2 + 2 + 4
	assert.Equal(t, 8, res.OrdersIssued)
	assert.Len(t, capture.all(), 8)
	assert.Equal(t, 1, ex.CallCount("placeorder:Market:FOK"))
	assert.Equal(t, 1, ex.CallCount("placeorder:Limit:IOC"))
}

func TestFlatten_AcceptedButUnfilledEscalates(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.HoldCloses(true)

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.AttemptsUsed)
	assert.LessOrEqual(t, ex.CallCount("placeorder"), 3, "one accepted close per attempt")
	assert.Equal(t, 1, res.FinalNetQuantity)
}

func TestFlatten_CancelFailureIsNotFatal(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.AddOpenOrder(model.Order{Instrument: model.Instrument{Symbol: "NQZ5"}, Kind: model.OrderLimit})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: -2})
	ex.FailCancels(errors.New("cancel endpoint unavailable"))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, ex.CallCount("cancelall"))
	assert.Equal(t, 0, ex.NetPosition("NQZ5"))
}

func TestFlatten_ContractIDOnlyPosition(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{ContractID: 3570918, NetPos: -1})
	capture := &orderCapture{}
	ex.OnPlaceOrder(capture.hook(nil))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	require.True(t, res.Success)
	reqs := capture.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, model.Instrument{ContractID: 3570918}, reqs[0].Instrument)
	assert.Equal(t, model.Buy, reqs[0].Action)
}

func TestFlatten_SnapshotFailureStillCloses(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.FailPositionLists(1, model.NewTransportError("positionlist", context.DeadlineExceeded))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
}

func TestFlatten_InstrumentScope(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.SetPosition(model.BrokerPosition{Symbol: "ESZ5", NetPos: 3})
	esOrder := ex.AddOpenOrder(model.Order{Instrument: model.Instrument{Symbol: "ESZ5"}})

	res := newLiquidator(plainBroker{ex}, WithScope(conf.FlattenScopeInstrument)).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 0, ex.NetPosition("NQZ5"))
	assert.Equal(t, 3, ex.NetPosition("ESZ5"))
	orders, _ := ex.ListOpenOrders(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, esOrder, orders[0].ID)
}

func TestFlatten_CancelledContext(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newLiquidator(plainBroker{ex}).Flatten(ctx, "NQ")
	assert.False(t, res.Success)
	assert.Zero(t, ex.CallCount("placeorder"))
}

func TestFlatten_TimedOutCloseVerifiedBeforeNextOrder(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 2})
	b := exchange.NewGuarded(lateBroker{Broker: ex, delay: 80 * time.Millisecond}, 20*time.Millisecond, nil)

	res := newLiquidator(b).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
	assert.Equal(t, 0, ex.NetPosition("NQZ5"), "timed out close must not be followed by another close")
	assert.Equal(t, 1, ex.CallCount("placeorder:Market:IOC"))
	assert.Zero(t, ex.CallCount("placeorder:Market:GTC"))
}

func TestFlatten_TransportErrorOnCloseStopsLadder(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	capture := &orderCapture{}
	ex.OnPlaceOrder(capture.hook(model.NewTransportError("placeorder", context.DeadlineExceeded)))

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.AttemptsUsed)
	// 每轮只发第一种订单
	assert.Equal(t, 3, res.OrdersIssued)
	assert.Equal(t, 3, ex.CallCount("placeorder:Market:IOC"))
	assert.Zero(t, ex.CallCount("placeorder:Market:GTC"))
	assert.Zero(t, ex.CallCount("placeorder:Market:FOK"))
	assert.Equal(t, 1, ex.NetPosition("NQZ5"))
}

func TestFlatten_LiquidateTimeoutVerifiesFirst(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: -2})
	b := exchange.NewGuarded(lateLiquidator{SimulatedExchange: ex, delay: 80 * time.Millisecond}, 20*time.Millisecond, nil)

	res := newLiquidator(b).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
	assert.Equal(t, 1, ex.CallCount("liquidateposition"))
	assert.Zero(t, ex.CallCount("placeorder"))
	assert.Equal(t, 0, ex.NetPosition("NQZ5"))
}

func TestFlatten_LiquidateTransportErrorFallsBackNextAttempt(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.FailLiquidate(model.NewTransportError("liquidateposition", context.DeadlineExceeded))

	res := newLiquidator(ex).Flatten(context.Background(), "NQ")

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AttemptsUsed)
	assert.Equal(t, 1, ex.CallCount("liquidateposition"))
	assert.Equal(t, 1, ex.CallCount("placeorder:Market:IOC"))
	assert.Equal(t, 0, ex.NetPosition("NQZ5"))
}

func TestFlatten_EscalationCancelsRestingCloses(t *testing.T) {
	ex := exchange.NewSimulatedExchange(model.Account{})
	ex.SetPosition(model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	ex.HoldCloses(true)
	ex.OnPlaceOrder(func(req model.OrderRequest) error {
		if req.TimeInForce == model.TifIOC {
			return model.NewRejectedError("placeorder", 400, "IOC not supported")
		}
		return nil
	})

	res := newLiquidator(plainBroker{ex}).Flatten(context.Background(), "NQ")

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.AttemptsUsed)
	assert.Equal(t, 1, res.FinalNetQuantity)
	assert.Equal(t, 3, ex.CallCount("placeorder:Market:GTC"))
	// 两次升级加一次失败收尾
	assert.Equal(t, 3, ex.CallCount("cancelorder"))
	orders, err := ex.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders, "no close orders left resting")
}
