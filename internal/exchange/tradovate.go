package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"signalbridge/conf"
	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// TradovateClient Tradovate REST 网关
type TradovateClient struct {
	cfg     conf.TradovateConfig
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	// authMu 串行化登录和续期
	authMu sync.Mutex

	mu      sync.Mutex
	token   string
	expiry  time.Time
	account model.Account
}

type TradovateOption func(c *TradovateClient)

func WithHTTPClient(h *http.Client) TradovateOption {
	return func(c *TradovateClient) { c.http = h }
}

func WithBaseURL(u string) TradovateOption {
	return func(c *TradovateClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func NewTradovateClient(cfg conf.TradovateConfig, opts ...TradovateOption) *TradovateClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	c := &TradovateClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.Endpoint(), "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		account: model.Account{ID: cfg.AccountID, Spec: cfg.AccountSpec},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TradovateClient) Account() model.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// ---- 请求载荷 ----

type orderPayload struct {
	AccountSpec string   `json:"accountSpec"`
	AccountID   int64    `json:"accountId"`
	ClOrdID     string   `json:"clOrdId,omitempty"`
	Action      string   `json:"action"`
	Symbol      string   `json:"symbol"`
	OrderQty    int      `json:"orderQty"`
	OrderType   string   `json:"orderType"`
	Price       *float64 `json:"price,omitempty"`
	StopPrice   *float64 `json:"stopPrice,omitempty"`
	TimeInForce string   `json:"timeInForce"`
	IsAutomated bool     `json:"isAutomated"`
}

type osoPayload struct {
	orderPayload
	Bracket1 *orderPayload `json:"bracket1"`
	Bracket2 *orderPayload `json:"bracket2"`
}

type placeOrderResult struct {
	OrderID       int64  `json:"orderId"`
	Oso1ID        int64  `json:"oso1Id"`
	Oso2ID        int64  `json:"oso2Id"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

func (r placeOrderResult) failed() bool {
	return r.FailureReason != "" && !strings.EqualFold(r.FailureReason, "Success")
}

func (r placeOrderResult) reason() string {
	if r.FailureText != "" {
		return r.FailureReason + ": " + r.FailureText
	}
	return r.FailureReason
}

type orderItem struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	OrdStatus  string  `json:"ordStatus"`
	Status     string  `json:"status"`
	OrderType  string  `json:"orderType"`
	OrderQty   int     `json:"orderQty"`
	Price      float64 `json:"price"`
	StopPrice  float64 `json:"stopPrice"`
}

type positionItem struct {
	ID           int64   `json:"id"`
	AccountID    int64   `json:"accountId"`
	ContractID   int64   `json:"contractId"`
	Symbol       string  `json:"symbol"`
	ContractName string  `json:"contractName"`
	Instrument   string  `json:"instrument"`
	NetPos       int     `json:"netPos"`
	NetPrice     float64 `json:"netPrice"`
}

func toPayload(req model.OrderRequest) *orderPayload {
	p := &orderPayload{
		AccountSpec: req.Account.Spec,
		AccountID:   req.Account.ID,
		ClOrdID:     req.ClientOrderID,
		Action:      string(req.Action),
		Symbol:      req.Instrument.Key(),
		OrderQty:    req.Quantity,
		OrderType:   string(req.Kind),
		TimeInForce: string(req.TimeInForce),
		IsAutomated: req.IsAutomated,
	}
	switch req.Kind {
	case model.OrderLimit:
		price := req.Price.InexactFloat64()
		p.Price = &price
	case model.OrderStop:
		stop := req.StopPrice.InexactFloat64()
		p.StopPrice = &stop
	}
	return p
}

// ---- 网关操作 ----

func (c *TradovateClient) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewRejectedError("placeorder", 0, err.Error())
	}
	var res placeOrderResult
	if err := c.do(ctx, http.MethodPost, "/order/placeorder", toPayload(req), &res); err != nil {
		return nil, err
	}
	if res.failed() || res.OrderID == 0 {
		return nil, model.NewRejectedError("placeorder", http.StatusOK, res.reason())
	}
	return &model.OrderResponse{OrderID: res.OrderID}, nil
}

func (c *TradovateClient) PlaceBracket(ctx context.Context, group model.BracketGroup) (*model.BracketResponse, error) {
	for _, leg := range group.Legs() {
		if err := leg.Validate(); err != nil {
			return nil, model.NewRejectedError("placeoso", 0, err.Error())
		}
	}
	payload := osoPayload{
		orderPayload: *toPayload(group.Entry),
		Bracket1:     toPayload(group.TakeProfit),
		Bracket2:     toPayload(group.StopLoss),
	}
	var res placeOrderResult
	if err := c.do(ctx, http.MethodPost, "/order/placeoso", payload, &res); err != nil {
		return nil, err
	}
	resp := &model.BracketResponse{EntryID: res.OrderID, TakeProfitID: res.Oso1ID, StopLossID: res.Oso2ID}
	if res.failed() {
		return resp, model.NewRejectedError("placeoso", http.StatusOK, res.reason())
	}
	if !resp.Complete() {
		return resp, model.NewRejectedError("placeoso", http.StatusOK, "bracket partially accepted")
	}
	return resp, nil
}

func (c *TradovateClient) CancelOrder(ctx context.Context, orderID int64) error {
	body := map[string]any{"orderId": orderID, "isAutomated": true}
	var res placeOrderResult
	if err := c.do(ctx, http.MethodPost, "/order/cancelorder", body, &res); err != nil {
		return err
	}
	if res.failed() {
		return model.NewRejectedError("cancelorder", http.StatusOK, res.reason())
	}
	return nil
}

// CancelAllOrders 逐个撤销，单个失败不影响其它
func (c *TradovateClient) CancelAllOrders(ctx context.Context, instrument string) error {
	orders, err := c.ListOpenOrders(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, o := range orders {
		if !MatchOrder(o, instrument) {
			continue
		}
		if err := c.CancelOrder(ctx, o.ID); err != nil {
			logger.Warn("cancel order failed", logger.Pair("orderId", o.ID), logger.Pair("err", err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *TradovateClient) ListPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var items []positionItem
	if err := c.do(ctx, http.MethodGet, "/position/list", nil, &items); err != nil {
		return nil, err
	}
	acct := c.Account()
	positions := make([]model.BrokerPosition, 0, len(items))
	for _, it := range items {
		if it.NetPos == 0 || (acct.ID != 0 && it.AccountID != 0 && it.AccountID != acct.ID) {
			continue
		}
		positions = append(positions, model.BrokerPosition{
			ID:             it.ID,
			Symbol:         it.Symbol,
			ContractName:   it.ContractName,
			InstrumentName: it.Instrument,
			ContractID:     it.ContractID,
			NetPos:         it.NetPos,
			NetPrice:       decimal.NewFromFloat(it.NetPrice),
		})
	}
	return positions, nil
}

func (c *TradovateClient) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	var items []orderItem
	if err := c.do(ctx, http.MethodGet, "/order/list", nil, &items); err != nil {
		return nil, err
	}
	acct := c.Account()
	orders := make([]model.Order, 0, len(items))
	for _, it := range items {
		status := it.OrdStatus
		if status == "" {
			status = it.Status
		}
		if !model.OrderStatus(status).IsOpen() {
			continue
		}
		if acct.ID != 0 && it.AccountID != 0 && it.AccountID != acct.ID {
			continue
		}
		orders = append(orders, model.Order{
			ID:         it.ID,
			Instrument: model.Instrument{Symbol: it.Symbol, ContractID: it.ContractID},
			Action:     model.Direction(it.Action),
			Kind:       model.OrderKind(it.OrderType),
			Quantity:   it.OrderQty,
			Status:     model.OrderStatus(status),
			Price:      decimal.NewFromFloat(it.Price),
			StopPrice:  decimal.NewFromFloat(it.StopPrice),
		})
	}
	return orders, nil
}

// LiquidatePosition 券商一键平仓，优先按 contractId
func (c *TradovateClient) LiquidatePosition(ctx context.Context, pos model.BrokerPosition) error {
	acct := c.Account()
	body := map[string]any{"accountId": acct.ID, "admin": false}
	if pos.ContractID != 0 {
		body["contractId"] = pos.ContractID
	} else {
		body["symbol"] = pos.Symbol
	}
	var res placeOrderResult
	if err := c.do(ctx, http.MethodPost, "/order/liquidateposition", body, &res); err != nil {
		return err
	}
	if res.failed() {
		return model.NewRejectedError("liquidateposition", http.StatusOK, res.reason())
	}
	return nil
}

// ---- HTTP ----

func (c *TradovateClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	return c.send(ctx, method, path, body, out, true)
}

// send 发送请求；网络错误、限流、5xx 归为 transport，其余 4xx 归为 rejected
func (c *TradovateClient) send(ctx context.Context, method, path string, body, out any, auth bool) error {
	op := strings.TrimPrefix(path, "/")
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewTransportError(op, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.mu.Unlock()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewTransportError(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		e := model.NewTransportError(op, fmt.Errorf("http %d", resp.StatusCode))
		e.Status = resp.StatusCode
		e.Reason = strings.TrimSpace(string(data))
		return e
	case resp.StatusCode >= 400:
		return model.NewRejectedError(op, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewTransportError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
