package result

import (
	"github.com/gin-gonic/gin"

	"signalbridge/internal/dao"
	"signalbridge/internal/model"
	"signalbridge/internal/service"
	"signalbridge/pkg/errors"
	"signalbridge/pkg/errors/ecode"
	"signalbridge/pkg/response"
)

const defaultRecent = 50

type Handler struct {
	svc service.ResultService
}

func NewHandler(svc service.ResultService) *Handler {
	return &Handler{svc: svc}
}

// ResultGetRecent 最近的编排结果，新的在前
func (h *Handler) ResultGetRecent() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req model.ResultQueryReq
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ParamErr, "invalid query"), nil)
			return
		}
		if req.Limit == 0 {
			req.Limit = defaultRecent
		}
		list, err := h.svc.Recent(ctx, req.Limit)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, list)
	}
}

func (h *Handler) ResultGetHistory() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req model.ResultQueryReq
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ParamErr, "invalid query"), nil)
			return
		}
		list, err := h.svc.History(ctx, dao.ResultFilter{
			Symbol:   req.Symbol,
			ConfigID: req.ConfigID,
			Outcome:  req.Outcome,
			Limit:    req.Limit,
		})
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, list)
	}
}

// ResultGetSummary 按配置统计各类结果数量
func (h *Handler) ResultGetSummary() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		counts, err := h.svc.Summary(ctx, ctx.Query("config_id"))
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, counts)
	}
}
