package service

import (
	"context"

	"signalbridge/internal/dao"
	"signalbridge/internal/event"
	"signalbridge/internal/model"
	"signalbridge/pkg/errors"
	"signalbridge/pkg/errors/ecode"
	"signalbridge/pkg/logger"
)

var _ ResultService = (*resultService)(nil)

// ResultService 编排结果的查询和落库
type ResultService interface {
	Recent(ctx context.Context, limit int) ([]model.OrchestrationResult, error)
	History(ctx context.Context, filter dao.ResultFilter) ([]model.ResultRecord, error)
	Summary(ctx context.Context, configID string) ([]model.OutcomeCount, error)
	// Record 结果总线的订阅者
	Record(ctx context.Context, r model.OrchestrationResult)
}

type resultService struct {
	feed event.Feed
	d    dao.ResultDao
}

// NewResultService d 为 nil 时不落库，历史和汇总接口不可用
func NewResultService(feed event.Feed, d dao.ResultDao) *resultService {
	return &resultService{feed: feed, d: d}
}

func (s *resultService) Recent(ctx context.Context, limit int) ([]model.OrchestrationResult, error) {
	res, err := s.feed.Recent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, ecode.FeedUnavailableErr, "recent results unavailable")
	}
	return res, nil
}

func (s *resultService) History(ctx context.Context, filter dao.ResultFilter) ([]model.ResultRecord, error) {
	if s.d == nil {
		return nil, errors.New(ecode.FeedUnavailableErr, "result history is not enabled")
	}
	return s.d.List(ctx, filter)
}

func (s *resultService) Summary(ctx context.Context, configID string) ([]model.OutcomeCount, error) {
	if s.d == nil {
		return nil, errors.New(ecode.FeedUnavailableErr, "result history is not enabled")
	}
	return s.d.CountByOutcome(ctx, configID)
}

func (s *resultService) Record(ctx context.Context, r model.OrchestrationResult) {
	if err := s.feed.Push(ctx, r); err != nil {
		logger.Warn("push result to feed failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
	}
	if s.d == nil {
		return
	}
	rec, err := model.NewResultRecord(r)
	if err != nil {
		logger.Error("encode result record failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
		return
	}
	if err := s.d.Create(ctx, rec); err != nil {
		logger.Error("save result record failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
	}
}
