package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalbridge/conf"
	"signalbridge/internal/handler/ping"
	"signalbridge/internal/handler/result"
	"signalbridge/internal/handler/webhook"
	"signalbridge/internal/middleware"
)

type ApiRouter struct {
	cfg      conf.WebhookConfig
	wh       *webhook.Handler
	results  *result.Handler
	hub      *result.Hub
	gatherer prometheus.Gatherer
}

func NewApiRouter(cfg conf.WebhookConfig, wh *webhook.Handler, results *result.Handler, hub *result.Hub, gatherer prometheus.Gatherer) *ApiRouter {
	return &ApiRouter{cfg: cfg, wh: wh, results: results, hub: hub, gatherer: gatherer}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.GET("/ping", ping.Ping())
	if api.gatherer != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{})))
	}

	hooks := []gin.HandlerFunc{api.wh.HandlerWebhook()}
	if api.cfg.RateLimit > 0 {
		hooks = append([]gin.HandlerFunc{middleware.RateLimit(api.cfg.RateLimit, api.cfg.Burst)}, hooks...)
	}
	// TradingView 只能配置完整 URL，根路径也接收告警
	g.POST("/webhook", hooks...)
	g.POST("/", hooks...)

	base := g.Group("/api/v1")
	r := base.Group("/results")
	{
		r.GET("", api.results.ResultGetRecent())
		r.GET("/history", api.results.ResultGetHistory())
		r.GET("/summary", api.results.ResultGetSummary())
		// 通过 websocket 实时推送编排结果
		r.GET("/ws", api.hub.ServeWS)
	}
}
