package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"signalbridge/internal/model"
)

// SimulatedExchange 内存模拟券商，用于模拟盘和测试。
// 市价/限价平仓单立即成交，Stop 单和联动单挂单等待。
type SimulatedExchange struct {
	mu        sync.Mutex
	account   model.Account
	positions []*model.BrokerPosition
	orders    map[int64]*model.Order
	nextID    int64
	calls     []string

	rejectOrder     func(req model.OrderRequest) error
	rejectLeg       int
	holdCloses      bool
	liquidateErr    error
	cancelErr       error
	positionListErr []error
}

func NewSimulatedExchange(account model.Account) *SimulatedExchange {
	if account.ID == 0 {
		account.ID = 1
	}
	if account.Spec == "" {
		account.Spec = "SIM"
	}
	return &SimulatedExchange{
		account: account,
		orders:  make(map[int64]*model.Order),
		nextID:  1000,
	}
}

// ---- 测试/模拟盘控制 ----

// SetPosition 设置持仓，NetPos 为0时移除
func (s *SimulatedExchange) SetPosition(p model.BrokerPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	if existing := s.findPosition(positionKey(p)); existing != nil {
		*existing = cp
	} else {
		s.positions = append(s.positions, &cp)
	}
	s.compact()
}

// AddOpenOrder 直接放入一个挂单
func (s *SimulatedExchange) AddOpenOrder(o model.Order) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	if o.Status == "" {
		o.Status = model.StatusWorking
	}
	s.orders[o.ID] = &o
	return o.ID
}

// OnPlaceOrder 返回非 nil 时该订单被拒绝
func (s *SimulatedExchange) OnPlaceOrder(fn func(req model.OrderRequest) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectOrder = fn
}

// RejectBracketLeg 联动单从第 n 条腿开始被拒（1 入场，2 止盈，3 止损），0 关闭
func (s *SimulatedExchange) RejectBracketLeg(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLeg = n
}

// HoldCloses 平仓单被接受但不成交
func (s *SimulatedExchange) HoldCloses(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdCloses = hold
}

func (s *SimulatedExchange) FailLiquidate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liquidateErr = err
}

func (s *SimulatedExchange) FailCancels(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelErr = err
}

// FailPositionLists 接下来的 n 次持仓查询返回 err
func (s *SimulatedExchange) FailPositionLists(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.positionListErr = append(s.positionListErr, err)
	}
}

// Calls 调用记录，格式 op 或 op:detail
func (s *SimulatedExchange) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *SimulatedExchange) CallCount(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *SimulatedExchange) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// NetPosition 按合约 key 汇总净持仓
func (s *SimulatedExchange) NetPosition(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.findPosition(key); p != nil {
		return p.NetPos
	}
	return 0
}

// ---- Broker ----

func (s *SimulatedExchange) Account() model.Account {
	return s.account
}

func (s *SimulatedExchange) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("placeorder:%s:%s", req.Kind, req.TimeInForce))

	if err := req.Validate(); err != nil {
		return nil, model.NewRejectedError("placeorder", 400, err.Error())
	}
	if s.rejectOrder != nil {
		if err := s.rejectOrder(req); err != nil {
			return nil, err
		}
	}

	s.nextID++
	order := &model.Order{
		ID:         s.nextID,
		Instrument: req.Instrument,
		Action:     req.Action,
		Kind:       req.Kind,
		Quantity:   req.Quantity,
		Status:     model.StatusWorking,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
	}
	s.orders[order.ID] = order

	switch {
	case req.Kind == model.OrderStop:
		// 等待触发
	case s.holdCloses:
		// IOC/FOK 未成交即失效，其余保持挂单
		if req.TimeInForce == model.TifIOC || req.TimeInForce == model.TifFOK {
			order.Status = model.StatusExpired
		}
	case req.Kind == model.OrderMarket || s.reduces(req):
		s.fill(req)
		order.Status = model.StatusFilled
	}
	return &model.OrderResponse{OrderID: order.ID}, nil
}

func (s *SimulatedExchange) PlaceBracket(ctx context.Context, group model.BracketGroup) (*model.BracketResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "placeoso")

	for _, leg := range group.Legs() {
		if err := leg.Validate(); err != nil {
			return nil, model.NewRejectedError("placeoso", 400, err.Error())
		}
	}

	resp := &model.BracketResponse{}
	ids := []*int64{&resp.EntryID, &resp.TakeProfitID, &resp.StopLossID}
	for i, leg := range group.Legs() {
		if s.rejectLeg > 0 && i+1 >= s.rejectLeg {
			return resp, model.NewRejectedError("placeoso", 200, fmt.Sprintf("leg %d rejected", i+1))
		}
		s.nextID++
		s.orders[s.nextID] = &model.Order{
			ID:         s.nextID,
			Instrument: leg.Instrument,
			Action:     leg.Action,
			Kind:       leg.Kind,
			Quantity:   leg.Quantity,
			Status:     model.StatusWorking,
			Price:      leg.Price,
			StopPrice:  leg.StopPrice,
		}
		*ids[i] = s.nextID
	}
	return resp, nil
}

func (s *SimulatedExchange) CancelOrder(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "cancelorder:"+strconv.FormatInt(orderID, 10))
	return s.cancel(orderID)
}

func (s *SimulatedExchange) CancelAllOrders(ctx context.Context, instrument string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "cancelall")

	var errs error
	for id, o := range s.orders {
		if o.Status.IsOpen() && MatchOrder(*o, instrument) {
			errs = multierr.Append(errs, s.cancel(id))
		}
	}
	return errs
}

func (s *SimulatedExchange) ListPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "positionlist")

	if len(s.positionListErr) > 0 {
		err := s.positionListErr[0]
		s.positionListErr = s.positionListErr[1:]
		return nil, err
	}
	out := make([]model.BrokerPosition, 0, len(s.positions))
	for _, p := range s.positions {
		if p.NetPos != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *SimulatedExchange) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "orderlist")

	var out []model.Order
	for _, o := range s.orders {
		if o.Status.IsOpen() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *SimulatedExchange) LiquidatePosition(ctx context.Context, pos model.BrokerPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "liquidateposition")

	if s.liquidateErr != nil {
		return s.liquidateErr
	}
	if s.holdCloses {
		return nil
	}
	if p := s.findPosition(positionKey(pos)); p != nil {
		p.NetPos = 0
	}
	s.compact()
	return nil
}

// ---- 内部 ----

func (s *SimulatedExchange) cancel(orderID int64) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	o, ok := s.orders[orderID]
	if !ok || !o.Status.IsOpen() {
		return model.NewRejectedError("cancelorder", 404, "order not found")
	}
	o.Status = model.StatusCanceled
	return nil
}

// reduces 订单方向与持仓相反
func (s *SimulatedExchange) reduces(req model.OrderRequest) bool {
	p := s.findPosition(req.Instrument.Key())
	if p == nil {
		return false
	}
	return (p.NetPos > 0 && req.Action == model.Sell) || (p.NetPos < 0 && req.Action == model.Buy)
}

func (s *SimulatedExchange) fill(req model.OrderRequest) {
	qty := req.Quantity
	if req.Action == model.Sell {
		qty = -qty
	}
	if p := s.findPosition(req.Instrument.Key()); p != nil {
		p.NetPos += qty
	} else {
		s.positions = append(s.positions, &model.BrokerPosition{
			Symbol:     req.Instrument.Symbol,
			ContractID: req.Instrument.ContractID,
			NetPos:     qty,
			NetPrice:   req.Price,
		})
	}
	s.compact()
}

func (s *SimulatedExchange) findPosition(key string) *model.BrokerPosition {
	if key == "" {
		return nil
	}
	for _, p := range s.positions {
		if p.Symbol == key || p.ContractName == key || p.InstrumentName == key ||
			(p.ContractID != 0 && strconv.FormatInt(p.ContractID, 10) == key) {
			return p
		}
	}
	return nil
}

func (s *SimulatedExchange) compact() {
	kept := s.positions[:0]
	for _, p := range s.positions {
		if p.NetPos != 0 {
			kept = append(kept, p)
		}
	}
	s.positions = kept
}

func positionKey(p model.BrokerPosition) string {
	for _, k := range []string{p.Symbol, p.ContractName, p.InstrumentName} {
		if k != "" {
			return k
		}
	}
	if p.ContractID != 0 {
		return strconv.FormatInt(p.ContractID, 10)
	}
	return ""
}
