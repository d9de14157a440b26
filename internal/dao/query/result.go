package query

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalbridge/internal/dao"
	"signalbridge/internal/model"
)

const maxListLimit = 500

// ResultDaoImpl Gorm 实现
type ResultDaoImpl struct {
	db *gorm.DB
}

func NewResultDao(db *gorm.DB) dao.ResultDao {
	return &ResultDaoImpl{db: db}
}

func (d *ResultDaoImpl) Create(ctx context.Context, rec *model.ResultRecord) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "run_id"}}, DoNothing: true}).
		Create(rec).Error
}

func (d *ResultDaoImpl) List(ctx context.Context, filter dao.ResultFilter) ([]model.ResultRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = 100
	}
	q := d.db.WithContext(ctx).Model(&model.ResultRecord{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.ConfigID != "" {
		q = q.Where("config_id = ?", filter.ConfigID)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	var records []model.ResultRecord
	if err := q.Order("completed_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return records, nil
}

func (d *ResultDaoImpl) CountByOutcome(ctx context.Context, configID string) ([]model.OutcomeCount, error) {
	q := d.db.WithContext(ctx).Model(&model.ResultRecord{}).
		Select("config_id, outcome, COUNT(*) AS count")
	if configID != "" {
		q = q.Where("config_id = ?", configID)
	}
	var counts []model.OutcomeCount
	if err := q.Group("config_id, outcome").Order("config_id, outcome").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return counts, nil
}
