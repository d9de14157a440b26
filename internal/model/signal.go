package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction 交易方向，取值与券商 action 字段一致
type Direction string

const (
	Buy  Direction = "Buy"
	Sell Direction = "Sell"
)

// ParseDirection 大小写不敏感，long/short 视为 buy/sell
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy, nil
	case "sell", "short":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Signal 外部策略发来的交易信号，创建后不再修改
type Signal struct {
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	ConfigID        string          `json:"config_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"` // 信号源时间，仅记录
	Comment         string          `json:"comment,omitempty"`
}

// Fingerprint 去重用的信号标识：symbol + direction + entry + config
func (s Signal) Fingerprint() string {
	canonical := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(s.Symbol)),
		string(s.Direction),
		s.EntryPrice.String(),
		s.ConfigID,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Validate 在任何券商调用之前检查信号是否完整、价格是否自洽
func (s Signal) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !s.Direction.Valid() {
		problems = append(problems, fmt.Sprintf("direction %q is invalid", s.Direction))
	}
	prices := []struct {
		name  string
		value decimal.Decimal
	}{
		{"entry_price", s.EntryPrice},
		{"take_profit_price", s.TakeProfitPrice},
		{"stop_loss_price", s.StopLossPrice},
	}
	positive := true
	for _, p := range prices {
		if !p.value.IsPositive() {
			problems = append(problems, p.name+" must be positive")
			positive = false
		}
	}

	// 止盈止损需要在入场价两侧
	if positive && s.Direction.Valid() {
		tpAbove := s.TakeProfitPrice.GreaterThan(s.EntryPrice)
		slBelow := s.StopLossPrice.LessThan(s.EntryPrice)
		switch s.Direction {
		case Buy:
			if !tpAbove {
				problems = append(problems, "take_profit_price must be above entry for Buy")
			}
			if !slBelow {
				problems = append(problems, "stop_loss_price must be below entry for Buy")
			}
		case Sell:
			if !s.TakeProfitPrice.LessThan(s.EntryPrice) {
				problems = append(problems, "take_profit_price must be below entry for Sell")
			}
			if !s.StopLossPrice.GreaterThan(s.EntryPrice) {
				problems = append(problems, "stop_loss_price must be above entry for Sell")
			}
		}
	}

	if len(problems) > 0 {
		return &MalformedSignalError{Problems: problems}
	}
	return nil
}
