package position

import (
	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

// CloseTarget 需要平掉的仓位
type CloseTarget struct {
	Account        model.Account
	Instrument     model.Instrument
	NetQuantity    int             // 带符号，正数为多头
	ReferencePrice decimal.Decimal // 持仓均价，限价单定价用
}

// CloseStrategy 一种平仓单的构造方式，Build 不做任何 I/O
type CloseStrategy struct {
	Name  string
	Build func(t CloseTarget) model.OrderRequest
}

func baseClose(t CloseTarget) model.OrderRequest {
	action, qty := model.Sell, t.NetQuantity
	if qty < 0 {
		action, qty = model.Buy, -qty
	}
	return model.OrderRequest{
		Account:     t.Account,
		Instrument:  t.Instrument,
		Action:      action,
		Quantity:    qty,
		Kind:        model.OrderMarket,
		IsAutomated: true,
	}
}

func marketClose(tif model.TimeInForce) CloseStrategy {
	return CloseStrategy{
		Name: "market-" + string(tif),
		Build: func(t CloseTarget) model.OrderRequest {
			req := baseClose(t)
			req.TimeInForce = tif
			return req
		},
	}
}

// aggressiveLimitClose 以均价偏移 offsetPct% 的限价平仓，没有参考价时构造出的订单不完整
func aggressiveLimitClose(offsetPct decimal.Decimal) CloseStrategy {
	return CloseStrategy{
		Name: "aggressive-limit",
		Build: func(t CloseTarget) model.OrderRequest {
			req := baseClose(t)
			req.Kind = model.OrderLimit
			req.TimeInForce = model.TifIOC
			shift := offsetPct.Div(decimal.NewFromInt(100))
			if req.Action == model.Sell {
				req.Price = t.ReferencePrice.Mul(decimal.NewFromInt(1).Sub(shift)).Round(2)
			} else {
				req.Price = t.ReferencePrice.Mul(decimal.NewFromInt(1).Add(shift)).Round(2)
			}
			return req
		},
	}
}

// Ladder 第 attempt 次平仓尝试依次使用的订单：IOC 市价、GTC 市价；
// 最后一次额外追加 FOK 市价和激进限价
func Ladder(attempt, maxAttempts int, limitOffsetPct decimal.Decimal) []CloseStrategy {
	ladder := []CloseStrategy{
		marketClose(model.TifIOC),
		marketClose(model.TifGTC),
	}
	if attempt >= maxAttempts {
		ladder = append(ladder,
			marketClose(model.TifFOK),
			aggressiveLimitClose(limitOffsetPct),
		)
	}
	return ladder
}
