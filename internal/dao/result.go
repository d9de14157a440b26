package dao

import (
	"context"

	"signalbridge/internal/model"
)

// ResultFilter 历史查询条件，空字段不过滤
type ResultFilter struct {
	Symbol   string
	ConfigID string
	Outcome  string
	Limit    int
}

type ResultDao interface {
	// 保存一次编排结果，run_id 重复时忽略
	Create(ctx context.Context, rec *model.ResultRecord) error
	// 按完成时间倒序查询
	List(ctx context.Context, filter ResultFilter) ([]model.ResultRecord, error)
	// 按配置和结果分组计数，configID 为空时统计全部
	CountByOutcome(ctx context.Context, configID string) ([]model.OutcomeCount, error)
}
