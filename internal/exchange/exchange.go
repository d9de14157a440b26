package exchange

import (
	"context"
	"errors"
	"strconv"

	"signalbridge/internal/model"
)

// ErrUnsupported 券商没有提供该操作
var ErrUnsupported = errors.New("operation not supported by broker")

// Broker 券商网关。不做重试，所有失败以 *model.BrokerError 返回
type Broker interface {
	// 下单路由使用的账户
	Account() model.Account
	// 下单
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error)
	// 入场 + 止盈 + 止损联动下单，部分腿被接受时同时返回响应和错误
	PlaceBracket(ctx context.Context, group model.BracketGroup) (*model.BracketResponse, error)
	// 撤单
	CancelOrder(ctx context.Context, orderID int64) error
	// 撤销合约下的所有挂单，instrument 为空时撤销账户下全部挂单
	CancelAllOrders(ctx context.Context, instrument string) error
	// 当前持仓（净持仓不为0）
	ListPositions(ctx context.Context) ([]model.BrokerPosition, error)
	// 当前挂单
	ListOpenOrders(ctx context.Context) ([]model.Order, error)
}

// PositionLiquidator 券商自带的一键平仓
type PositionLiquidator interface {
	LiquidatePosition(ctx context.Context, pos model.BrokerPosition) error
}

// MatchOrder 挂单是否属于该合约，空 key 匹配所有
func MatchOrder(o model.Order, key string) bool {
	if key == "" {
		return true
	}
	if o.Instrument.Symbol == key {
		return true
	}
	return o.Instrument.ContractID != 0 && strconv.FormatInt(o.Instrument.ContractID, 10) == key
}
