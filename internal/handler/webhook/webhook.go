package webhook

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"signalbridge/internal/consts"
	"signalbridge/internal/model"
	"signalbridge/internal/webhook"
	"signalbridge/pkg/errors"
	"signalbridge/pkg/errors/ecode"
	"signalbridge/pkg/logger"
	"signalbridge/pkg/response"
)

type Handler struct {
	receiver *webhook.Receiver
}

func NewHandler(r *webhook.Receiver) *Handler {
	return &Handler{receiver: r}
}

// Reply 成功接收后的响应，status 即结果类型
type Reply struct {
	Status model.Outcome             `json:"status"`
	Result model.OrchestrationResult `json:"result"`
}

func (h *Handler) HandlerWebhook() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		body, err := ctx.GetRawData()
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ParamErr, "read body failed"), nil)
			return
		}
		if h.receiver.SignatureRequired() && !h.receiver.Verify(body, ctx.GetHeader(consts.Signature)) {
			logger.Warn("webhook signature mismatch", logger.Pair("ip", ctx.ClientIP()))
			response.RequireAuthErr(ctx, stderrors.New("signature mismatch"))
			return
		}

		// 客户端断开不能打断平仓和下单
		reqCtx := context.WithoutCancel(ctx.Request.Context())
		res, err := h.receiver.Receive(reqCtx, ctx.ContentType(), body, ctx.Query("config_id"))
		if stderrors.Is(err, model.ErrMalformedSignal) {
			response.JSON(ctx, errors.Wrap(err, ecode.MalformedSignalErr, "malformed signal"), nil)
			return
		}
		response.JSON(ctx, nil, Reply{Status: res.Outcome, Result: res})
	}
}
