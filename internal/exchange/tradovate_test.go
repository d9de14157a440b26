package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/conf"
	"signalbridge/internal/model"
)

type fakeTradovate struct {
	mu     sync.Mutex
	bodies map[string]map[string]any
	routes map[string]func(w http.ResponseWriter)
}

func newFakeTradovate(t *testing.T) (*fakeTradovate, *httptest.Server) {
	f := &fakeTradovate{
		bodies: make(map[string]map[string]any),
		routes: map[string]func(w http.ResponseWriter){
			"/auth/accesstokenrequest": func(w http.ResponseWriter) {
				_, _ = io.WriteString(w, `{"accessToken":"tok-1","expirationTime":"2099-01-01T00:00:00Z","userId":9}`)
			},
			"/account/list": func(w http.ResponseWriter) {
				_, _ = io.WriteString(w, `[{"id":77,"name":"DEMO123","active":true}]`)
			},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/accesstokenrequest" && r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			var body map[string]any
			_ = json.Unmarshal(data, &body)
			f.mu.Lock()
			f.bodies[r.URL.Path] = body
			f.mu.Unlock()
		}
		f.mu.Lock()
		route, ok := f.routes[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		route(w)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTradovate) handle(path string, fn func(w http.ResponseWriter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = fn
}

func (f *fakeTradovate) body(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func connectedClient(t *testing.T, srv *httptest.Server) *TradovateClient {
	c := NewTradovateClient(conf.TradovateConfig{
		Username:     "user",
		Password:     "pass",
		AppID:        "relay",
		ClientSecret: "sec",
		RateLimit:    100,
	}, WithBaseURL(srv.URL))
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestTradovate_ConnectResolvesAccount(t *testing.T) {
	_, srv := newFakeTradovate(t)
	c := connectedClient(t, srv)

	assert.Equal(t, model.Account{ID: 77, Spec: "DEMO123"}, c.Account())
}

func TestTradovate_PlaceBracketCarriesFullLegs(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	fake.handle("/order/placeoso", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"orderId":101,"oso1Id":102,"oso2Id":103}`)
	})
	c := connectedClient(t, srv)
	acct := c.Account()

	leg := func(action model.Direction, kind model.OrderKind) model.OrderRequest {
		return model.OrderRequest{
			Account: acct, Instrument: model.Instrument{Symbol: "NQZ5"}, Action: action,
			Quantity: 1, Kind: kind, TimeInForce: model.TifGTC, IsAutomated: true,
		}
	}
	entry := leg(model.Buy, model.OrderStop)
	entry.StopPrice = decimal.NewFromInt(18500)
	tp := leg(model.Sell, model.OrderLimit)
	tp.Price = decimal.NewFromInt(18550)
	sl := leg(model.Sell, model.OrderStop)
	sl.StopPrice = decimal.NewFromInt(18450)

	resp, err := c.PlaceBracket(context.Background(), model.BracketGroup{Entry: entry, TakeProfit: tp, StopLoss: sl})
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 102, 103}, resp.AcceptedIDs())

	body := fake.body("/order/placeoso")
	require.NotNil(t, body)
	assert.Equal(t, "Stop", body["orderType"])
	assert.Equal(t, 18500.0, body["stopPrice"])
	for _, key := range []string{"bracket1", "bracket2"} {
		b, ok := body[key].(map[string]any)
		require.True(t, ok, key)
		for _, field := range []string{"accountSpec", "accountId", "action", "symbol", "orderQty", "orderType", "timeInForce", "isAutomated"} {
			assert.Contains(t, b, field, "%s.%s", key, field)
		}
		assert.Equal(t, "Sell", b["action"])
		assert.Equal(t, true, b["isAutomated"])
	}
	assert.Equal(t, 18550.0, body["bracket1"].(map[string]any)["price"])
	assert.Equal(t, 18450.0, body["bracket2"].(map[string]any)["stopPrice"])
}

func TestTradovate_PartialBracketReturnsAcceptedLegs(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	fake.handle("/order/placeoso", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"orderId":101,"failureReason":"UnknownReason","failureText":"bracket2 rejected"}`)
	})
	c := connectedClient(t, srv)
	acct := c.Account()

	stop := model.OrderRequest{Account: acct, Instrument: model.Instrument{Symbol: "NQZ5"}, Action: model.Buy,
		Quantity: 1, Kind: model.OrderStop, TimeInForce: model.TifGTC, IsAutomated: true, StopPrice: decimal.NewFromInt(10)}
	limit := stop
	limit.Kind, limit.Price, limit.Action = model.OrderLimit, decimal.NewFromInt(20), model.Sell

	resp, err := c.PlaceBracket(context.Background(), model.BracketGroup{Entry: stop, TakeProfit: limit, StopLoss: stop})
	require.Error(t, err)
	assert.True(t, model.IsRejected(err))
	require.NotNil(t, resp)
	assert.Equal(t, []int64{101}, resp.AcceptedIDs())
}

func TestTradovate_ErrorClassification(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	c := connectedClient(t, srv)
	req := model.OrderRequest{Account: c.Account(), Instrument: model.Instrument{Symbol: "NQZ5"}, Action: model.Sell,
		Quantity: 1, Kind: model.OrderMarket, TimeInForce: model.TifIOC, IsAutomated: true}

	fake.handle("/order/placeorder", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"failureReason":"RiskCheck","failureText":"insufficient margin"}`)
	})
	_, err := c.PlaceOrder(context.Background(), req)
	assert.True(t, model.IsRejected(err))

	fake.handle("/order/placeorder", func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) })
	_, err = c.PlaceOrder(context.Background(), req)
	assert.True(t, model.IsTransport(err))

	fake.handle("/order/placeorder", func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) })
	_, err = c.PlaceOrder(context.Background(), req)
	assert.True(t, model.IsTransport(err))

	fake.handle("/order/placeorder", func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "bad symbol")
	})
	_, err = c.PlaceOrder(context.Background(), req)
	assert.True(t, model.IsRejected(err))
}

func TestTradovate_ListFilters(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	fake.handle("/order/list", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `[
			{"id":1,"accountId":77,"contractId":5,"ordStatus":"Working","action":"Buy"},
			{"id":2,"accountId":77,"contractId":5,"ordStatus":"Filled"},
			{"id":3,"accountId":77,"contractId":5,"ordStatus":"Canceled"},
			{"id":4,"accountId":12,"contractId":5,"ordStatus":"Working"},
			{"id":5,"accountId":77,"symbol":"NQZ5","status":"Accepted"}
		]`)
	})
	fake.handle("/position/list", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `[
			{"id":1,"accountId":77,"contractId":5,"netPos":2,"netPrice":18490.25},
			{"id":2,"accountId":77,"contractId":6,"netPos":0}
		]`)
	})
	c := connectedClient(t, srv)

	orders, err := c.ListOpenOrders(context.Background())
	require.NoError(t, err)
	var ids []int64
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{1, 5}, ids)

	positions, err := c.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].ContractID)
	assert.Equal(t, 2, positions[0].NetPos)
}

func TestTradovate_LiquidateByContract(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	fake.handle("/order/liquidateposition", func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"orderId":900}`)
	})
	c := connectedClient(t, srv)

	require.NoError(t, c.LiquidatePosition(context.Background(), model.BrokerPosition{ContractID: 5, NetPos: 2}))
	body := fake.body("/order/liquidateposition")
	assert.Equal(t, 5.0, body["contractId"])
	assert.Equal(t, 77.0, body["accountId"])
}

type slowBroker struct {
	*SimulatedExchange
	delay time.Duration
}

func (s slowBroker) ListPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	time.Sleep(s.delay)
	return s.SimulatedExchange.ListPositions(ctx)
}

func TestGuarded_TimeoutIsTransportFailure(t *testing.T) {
	g := NewGuarded(slowBroker{NewSimulatedExchange(model.Account{}), 200 * time.Millisecond}, 20*time.Millisecond, nil)

	start := time.Now()
	_, err := g.ListPositions(context.Background())
	assert.True(t, model.IsTransport(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

type noLiquidate struct{ Broker }

func TestGuarded_LiquidateUnsupported(t *testing.T) {
	g := NewGuarded(noLiquidate{NewSimulatedExchange(model.Account{})}, time.Second, nil)
	err := g.LiquidatePosition(context.Background(), model.BrokerPosition{Symbol: "NQZ5", NetPos: 1})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTradovate_ConcurrentCallsLoginOnce(t *testing.T) {
	fake, srv := newFakeTradovate(t)
	var logins atomic.Int32
	fake.handle("/auth/accesstokenrequest", func(w http.ResponseWriter) {
		logins.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"accessToken":"tok-1","expirationTime":"2099-01-01T00:00:00Z","userId":9}`)
	})
	c := NewTradovateClient(conf.TradovateConfig{Username: "user", Password: "pass", RateLimit: 100},
		WithBaseURL(srv.URL))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.ensureToken(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), logins.Load())
}
