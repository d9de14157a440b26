package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	OrderMarket OrderKind = "Market"
	OrderLimit  OrderKind = "Limit"
	OrderStop   OrderKind = "Stop"
)

type TimeInForce string

const (
	TifIOC TimeInForce = "IOC"
	TifGTC TimeInForce = "GTC"
	TifFOK TimeInForce = "FOK"
	TifDay TimeInForce = "Day"
)

// Account 下单路由需要的账户标识
type Account struct {
	ID   int64  `json:"account_id"`
	Spec string `json:"account_spec"`
}

// Instrument 合约标识，symbol 优先，缺失时用 contractId
type Instrument struct {
	Symbol     string `json:"symbol,omitempty"`
	ContractID int64  `json:"contract_id,omitempty"`
}

func (i Instrument) Key() string {
	if i.Symbol != "" {
		return i.Symbol
	}
	if i.ContractID != 0 {
		return strconv.FormatInt(i.ContractID, 10)
	}
	return ""
}

func (i Instrument) IsZero() bool {
	return i.Symbol == "" && i.ContractID == 0
}

// OrderRequest 单个订单请求，每次提交都重新构造
type OrderRequest struct {
	Account       Account         `json:"account"`
	ClientOrderID string          `json:"cl_ord_id,omitempty"`
	Instrument    Instrument      `json:"instrument"`
	Action        Direction       `json:"action"`
	Quantity      int             `json:"quantity"`
	Kind          OrderKind       `json:"kind"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	IsAutomated   bool            `json:"is_automated"`
}

// Validate 券商要求的字段一个都不能少，缺字段的订单会被静默拒绝
func (r OrderRequest) Validate() error {
	var missing []string
	if r.Account.ID == 0 {
		missing = append(missing, "accountId")
	}
	if r.Account.Spec == "" {
		missing = append(missing, "accountSpec")
	}
	if r.Instrument.IsZero() {
		missing = append(missing, "symbol")
	}
	if !r.Action.Valid() {
		missing = append(missing, "action")
	}
	if r.Quantity <= 0 {
		missing = append(missing, "orderQty")
	}
	if r.TimeInForce == "" {
		missing = append(missing, "timeInForce")
	}
	if !r.IsAutomated {
		missing = append(missing, "isAutomated")
	}
	switch r.Kind {
	case OrderMarket:
	case OrderLimit:
		if !r.Price.IsPositive() {
			missing = append(missing, "price")
		}
	case OrderStop:
		if !r.StopPrice.IsPositive() {
			missing = append(missing, "stopPrice")
		}
	default:
		missing = append(missing, "orderType")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete order request: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// BracketGroup 入场单 + 止盈 + 止损，作为一组联动订单提交
type BracketGroup struct {
	Entry      OrderRequest `json:"entry"`
	TakeProfit OrderRequest `json:"take_profit"`
	StopLoss   OrderRequest `json:"stop_loss"`
}

func (g BracketGroup) Legs() []OrderRequest {
	return []OrderRequest{g.Entry, g.TakeProfit, g.StopLoss}
}

type OrderResponse struct {
	OrderID int64 `json:"order_id"`
}

// BracketResponse 各腿的订单号，0 表示该腿未被接受
type BracketResponse struct {
	EntryID      int64 `json:"entry_id"`
	TakeProfitID int64 `json:"take_profit_id"`
	StopLossID   int64 `json:"stop_loss_id"`
}

func (b BracketResponse) AcceptedIDs() []int64 {
	var ids []int64
	for _, id := range []int64{b.EntryID, b.TakeProfitID, b.StopLossID} {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (b BracketResponse) Complete() bool {
	return b.EntryID != 0 && b.TakeProfitID != 0 && b.StopLossID != 0
}

type OrderStatus string

const (
	StatusPendingNew OrderStatus = "PendingNew"
	StatusWorking    OrderStatus = "Working"
	StatusSuspended  OrderStatus = "Suspended"
	StatusFilled     OrderStatus = "Filled"
	StatusCanceled   OrderStatus = "Canceled"
	StatusRejected   OrderStatus = "Rejected"
	StatusExpired    OrderStatus = "Expired"
)

// IsOpen 除了终态之外都视为挂单
func (s OrderStatus) IsOpen() bool {
	switch strings.ToLower(string(s)) {
	case "filled", "canceled", "cancelled", "rejected", "expired":
		return false
	}
	return true
}

// Order 券商返回的订单
type Order struct {
	ID         int64           `json:"id"`
	Instrument Instrument      `json:"instrument"`
	Action     Direction       `json:"action"`
	Kind       OrderKind       `json:"kind"`
	Quantity   int             `json:"quantity"`
	Status     OrderStatus     `json:"status"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
}

// BrokerPosition 券商持仓的原始字段，合约标识由 position.ResolveInstrument 统一解析
type BrokerPosition struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol,omitempty"`
	ContractName   string          `json:"contract_name,omitempty"`
	InstrumentName string          `json:"instrument,omitempty"`
	ContractID     int64           `json:"contract_id,omitempty"`
	NetPos         int             `json:"net_pos"`
	NetPrice       decimal.Decimal `json:"net_price"`
}
