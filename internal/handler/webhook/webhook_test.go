package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/consts"
	"signalbridge/internal/model"
	"signalbridge/internal/webhook"
	"signalbridge/pkg/errors/ecode"
)

type stubHandler struct {
	outcome model.Outcome
	calls   int
}

func (s *stubHandler) Handle(_ context.Context, sig model.Signal) (model.OrchestrationResult, error) {
	s.calls++
	res := model.OrchestrationResult{RunID: "1", Symbol: sig.Symbol, Direction: sig.Direction, Outcome: s.outcome}
	return res, res.Err()
}

type reply struct {
	Code int `json:"code"`
	Data struct {
		Status string `json:"status"`
		Result struct {
			Symbol string `json:"symbol"`
		} `json:"result"`
	} `json:"data"`
}

const validBody = `{"symbol":"NQ","action":"buy","PRICE":18500,"T1":18550,"STOP":18450}`

func serve(t *testing.T, h *stubHandler, secret, body string, header map[string]string) (*httptest.ResponseRecorder, reply) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.POST("/webhook", NewHandler(webhook.NewReceiver(h, secret)).HandlerWebhook())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	var r reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return w, r
}

func TestHandlerWebhook_Accepted(t *testing.T) {
	h := &stubHandler{outcome: model.OutcomeAccepted}
	w, r := serve(t, h, "", validBody, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ecode.Success, r.Code)
	assert.Equal(t, "accepted", r.Data.Status)
	assert.Equal(t, "NQ", r.Data.Result.Symbol)
}

func TestHandlerWebhook_DuplicateIsNotAnError(t *testing.T) {
	w, r := serve(t, &stubHandler{outcome: model.OutcomeDuplicate}, "", validBody, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", r.Data.Status)
}

func TestHandlerWebhook_ProblemOutcomesStillReported(t *testing.T) {
	for _, o := range []model.Outcome{model.OutcomeLiquidationIncomplete, model.OutcomeBracketRejected} {
		w, r := serve(t, &stubHandler{outcome: o}, "", validBody, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(o), r.Data.Status)
	}
}

func TestHandlerWebhook_Malformed(t *testing.T) {
	h := &stubHandler{outcome: model.OutcomeAccepted}
	w, r := serve(t, h, "", `{"symbol":"NQ","action":"buy"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ecode.MalformedSignalErr, r.Code)
	assert.Zero(t, h.calls)
}

func TestHandlerWebhook_Signature(t *testing.T) {
	h := &stubHandler{outcome: model.OutcomeAccepted}

	w, _ := serve(t, h, "s3cret", validBody, map[string]string{consts.Signature: "00"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, h.calls)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(validBody))
	w, _ = serve(t, h, "s3cret", validBody, map[string]string{consts.Signature: hex.EncodeToString(mac.Sum(nil))})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.calls)
}
