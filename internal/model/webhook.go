package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WebhookRequest TradingView 告警的载荷，字段名沿用告警模板里的写法
type WebhookRequest struct {
	Symbol     string  `json:"symbol" validate:"required"`
	Action     string  `json:"action" validate:"required,direction"`
	Price      float64 `json:"PRICE" validate:"gt=0"`
	TakeProfit float64 `json:"T1" validate:"gt=0"`
	StopLoss   float64 `json:"STOP" validate:"gt=0"`
	ConfigID   string  `json:"config_id"`
	Timestamp  string  `json:"timestamp"`
	Comment    string  `json:"comment"`
}

// ToSignal 校验通过后转换为内部信号
func (r WebhookRequest) ToSignal(now time.Time) (Signal, error) {
	dir, err := ParseDirection(r.Action)
	if err != nil {
		return Signal{}, &MalformedSignalError{Problems: []string{err.Error()}}
	}
	ts := now
	if r.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = t
		}
	}
	return Signal{
		Symbol:          strings.TrimSpace(r.Symbol),
		Direction:       dir,
		EntryPrice:      decimal.NewFromFloat(r.Price),
		TakeProfitPrice: decimal.NewFromFloat(r.TakeProfit),
		StopLossPrice:   decimal.NewFromFloat(r.StopLoss),
		ConfigID:        r.ConfigID,
		Timestamp:       ts,
		Comment:         r.Comment,
	}, nil
}
