package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/conf"
	"signalbridge/internal/middleware"
	"signalbridge/pkg/validator"
)

func TestInitApp_SimulatedEndToEnd(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "results.jsonl")
	cfg := conf.Config{
		Broker:       conf.BrokerConfig{Mode: conf.BrokerSimulated},
		Orchestrator: conf.OrchestratorConfig{VerifyDelay: time.Millisecond, StartupFlatten: true},
		Feed:         conf.FeedConfig{Journal: journal},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	validator.LazyInitGinValidator("en")

	app, err := InitApp(context.Background(), &cfg)
	require.NoError(t, err)
	app.Startup(context.Background())

	gin.SetMode(gin.TestMode)
	g := gin.New()
	middleware.NewMiddleware().Load(g)
	app.Router.Load(g)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook?config_id=nq",
			strings.NewReader(`{"symbol":"NQ","action":"buy","PRICE":18500,"T1":18550,"STOP":18450}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		g.ServeHTTP(w, req)
		return w
	}

	w := post()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"accepted"`)

	w = post()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"duplicate"`)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/results", nil))
		return strings.Count(w.Body.String(), `"run_id"`) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `signalbridge_signals_total{outcome="accepted"} 1`)

	require.NoError(t, app.Close())
	data, err := os.ReadFile(journal)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
