package model

import (
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
)

// ResultRecord 处理结果落库，供历史查询和汇总
type ResultRecord struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID            string         `gorm:"column:run_id;type:varchar(32);uniqueIndex" json:"run_id"`
	Symbol           string         `gorm:"column:symbol;type:varchar(32);index" json:"symbol"`
	Direction        string         `gorm:"column:direction;type:varchar(8)" json:"direction"`
	ConfigID         string         `gorm:"column:config_id;type:varchar(64);index" json:"config_id"`
	Fingerprint      string         `gorm:"column:fingerprint;type:char(64)" json:"fingerprint"`
	Outcome          string         `gorm:"column:outcome;type:varchar(32);index" json:"outcome"`
	ResidualExposure bool           `gorm:"column:residual_exposure" json:"residual_exposure"`
	FlattenAttempts  int            `gorm:"column:flatten_attempts" json:"flatten_attempts"`
	FinalNetQuantity int            `gorm:"column:final_net_quantity" json:"final_net_quantity"`
	OrderIDs         datatypes.JSON `gorm:"column:order_ids" json:"order_ids"`
	Detail           datatypes.JSON `gorm:"column:detail" json:"detail"`
	ReceivedAt       time.Time      `gorm:"column:received_at" json:"received_at"`
	CompletedAt      time.Time      `gorm:"column:completed_at;index" json:"completed_at"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (ResultRecord) TableName() string {
	return "signal_results"
}

// OutcomeCount 按配置和结果分组计数
type OutcomeCount struct {
	ConfigID string `json:"config_id"`
	Outcome  string `json:"outcome"`
	Count    int64  `json:"count"`
}

// NewResultRecord 编排结果转为落库记录，平仓和联动单详情存为 JSON
func NewResultRecord(r OrchestrationResult) (*ResultRecord, error) {
	rec := &ResultRecord{
		RunID:            r.RunID,
		Symbol:           r.Symbol,
		Direction:        string(r.Direction),
		ConfigID:         r.ConfigID,
		Fingerprint:      r.Fingerprint,
		Outcome:          string(r.Outcome),
		ResidualExposure: r.ResidualExposure,
		ReceivedAt:       r.ReceivedAt,
		CompletedAt:      r.CompletedAt,
	}
	orderIDs := []int64{}
	if r.Flatten != nil {
		rec.FlattenAttempts = r.Flatten.AttemptsUsed
		rec.FinalNetQuantity = r.Flatten.FinalNetQuantity
	}
	if r.Bracket != nil && r.Bracket.OrderIDs != nil {
		orderIDs = r.Bracket.OrderIDs
	}
	ids, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, err
	}
	rec.OrderIDs = datatypes.JSON(ids)

	detail, err := json.Marshal(struct {
		Flatten *FlattenResult `json:"flatten,omitempty"`
		Bracket *BracketResult `json:"bracket,omitempty"`
	}{r.Flatten, r.Bracket})
	if err != nil {
		return nil, err
	}
	rec.Detail = datatypes.JSON(detail)
	return rec, nil
}

// ResultQueryReq 结果查询参数
type ResultQueryReq struct {
	Symbol   string `form:"symbol" json:"symbol"`
	ConfigID string `form:"config_id" json:"config_id"`
	Outcome  string `form:"outcome" json:"outcome" validate:"omitempty,oneof=accepted duplicate liquidation_incomplete bracket_rejected"`
	Limit    int    `form:"limit" json:"limit" validate:"omitempty,min=1,max=500"`
}
