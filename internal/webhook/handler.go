package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
	"signalbridge/pkg/utils"
	"signalbridge/pkg/validator"
)

// SignalHandler 编排入口
type SignalHandler interface {
	Handle(ctx context.Context, sig model.Signal) (model.OrchestrationResult, error)
}

// Receiver TradingView Webhook 的接收器：验签、解析、校验，然后交给编排
type Receiver struct {
	handler SignalHandler
	secret  string
	aliases map[string]string
	now     func() time.Time
}

type ReceiverOption func(r *Receiver)

// WithSymbolAliases TradingView ticker 到券商合约的映射，如 NQ1! → NQM5
func WithSymbolAliases(aliases map[string]string) ReceiverOption {
	return func(r *Receiver) { r.aliases = aliases }
}

func NewReceiver(h SignalHandler, secret string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{handler: h, secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SignatureRequired 配置了密钥时需要校验签名
func (r *Receiver) SignatureRequired() bool {
	return r.secret != ""
}

// Verify 签名为 hex(HMAC-SHA256(body))，未配置密钥时总是通过
func (r *Receiver) Verify(body []byte, signature string) bool {
	if r.secret == "" {
		return true
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(r.secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Receive 解析并处理一条告警
func (r *Receiver) Receive(ctx context.Context, contentType string, body []byte, configID string) (model.OrchestrationResult, error) {
	req, err := Parse(contentType, body, configID)
	if err != nil {
		logger.Warn("webhook payload rejected", logger.Pair("contentType", contentType), logger.Pair("err", err))
		return model.OrchestrationResult{}, err
	}
	if err := validator.Struct(req); err != nil {
		return model.OrchestrationResult{}, &model.MalformedSignalError{Problems: validator.Translate(err)}
	}
	if req.ConfigID == "" {
		logger.Warn("no config_id provided, result will not be mapped to a configuration", logger.Pair("symbol", req.Symbol))
	}

	tvSymbol := req.Symbol
	req.Symbol = utils.FormatSymbol(req.Symbol, r.aliases)
	if req.Symbol != tvSymbol {
		logger.Debug("symbol mapped", logger.Pair("from", tvSymbol), logger.Pair("to", req.Symbol))
	}
	sig, err := req.ToSignal(r.now())
	if err != nil {
		return model.OrchestrationResult{}, err
	}
	logger.Info("webhook signal received",
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("direction", sig.Direction),
		logger.Pair("entry", sig.EntryPrice.String()),
		logger.Pair("takeProfit", sig.TakeProfitPrice.String()),
		logger.Pair("stopLoss", sig.StopLossPrice.String()),
		logger.Pair("configId", sig.ConfigID))
	return r.handler.Handle(ctx, sig)
}
