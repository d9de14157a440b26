package model

import "time"

type Outcome string

const (
	OutcomeAccepted              Outcome = "accepted"
	OutcomeDuplicate             Outcome = "duplicate"
	OutcomeLiquidationIncomplete Outcome = "liquidation_incomplete"
	OutcomeBracketRejected       Outcome = "bracket_rejected"
)

// FlattenResult 一次平仓流程的结果
type FlattenResult struct {
	Instrument       string `json:"instrument"`
	Success          bool   `json:"success"`
	AttemptsUsed     int    `json:"attempts_used"`
	FinalNetQuantity int    `json:"final_net_quantity"`
	OrdersIssued     int    `json:"orders_issued"`
	FinalState       string `json:"final_state"`
	Detail           string `json:"detail,omitempty"`
}

type BracketResult struct {
	Accepted   bool    `json:"accepted"`
	OrderIDs   []int64 `json:"order_ids"`
	RolledBack []int64 `json:"rolled_back,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// OrchestrationResult 一个信号的完整处理结果
type OrchestrationResult struct {
	RunID            string         `json:"run_id"`
	Symbol           string         `json:"symbol"`
	Direction        Direction      `json:"direction"`
	ConfigID         string         `json:"config_id,omitempty"`
	Fingerprint      string         `json:"fingerprint"`
	Outcome          Outcome        `json:"outcome"`
	ResidualExposure bool           `json:"residual_exposure"`
	Flatten          *FlattenResult `json:"flatten,omitempty"`
	Bracket          *BracketResult `json:"bracket,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`
	CompletedAt      time.Time      `json:"completed_at"`
}

// TradeCompleted 入场组已被券商接受
func (r OrchestrationResult) TradeCompleted() bool {
	return r.Bracket != nil && r.Bracket.Accepted
}

// Err 把结果映射为对应的错误类型，accepted 返回 nil
func (r OrchestrationResult) Err() error {
	switch r.Outcome {
	case OutcomeDuplicate:
		return ErrDuplicateSignal
	case OutcomeLiquidationIncomplete:
		return ErrLiquidationIncomplete
	case OutcomeBracketRejected:
		return ErrBracketRejected
	}
	return nil
}
