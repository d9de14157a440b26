package api

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"signalbridge/conf"
	"signalbridge/internal/dao"
	"signalbridge/internal/dao/query"
	"signalbridge/internal/event"
	"signalbridge/internal/exchange"
	"signalbridge/internal/handler/result"
	"signalbridge/internal/handler/webhook"
	"signalbridge/internal/model"
	"signalbridge/internal/position"
	"signalbridge/internal/risk"
	"signalbridge/internal/router"
	"signalbridge/internal/service"
	"signalbridge/internal/signal"
	hook "signalbridge/internal/webhook"
	"signalbridge/pkg/cache"
	"signalbridge/pkg/db"
	"signalbridge/pkg/kafka"
	"signalbridge/pkg/logger"
	"signalbridge/pkg/mail"
	"signalbridge/pkg/metrics"
	"signalbridge/pkg/recorder"
	"signalbridge/pkg/utils"
)

// App 组装好的服务，Close 按依赖的反方向释放资源
type App struct {
	Router  Router
	Manager *signal.Manager

	bus     *event.Bus
	cancel  context.CancelFunc
	closers []func() error
	startup bool
}

func InitApp(ctx context.Context, cfg *conf.Config) (*App, error) {
	app := &App{startup: cfg.Orchestrator.StartupFlatten}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 结果历史，未启用数据库时只保留内存或 redis 中的最近结果
	var resultDao dao.ResultDao
	if cfg.Db.Enabled {
		datasource, err := db.Init(db.NewConfig(cfg.Db.Username, cfg.Db.Password, cfg.Db.Host, cfg.Db.Port, cfg.Db.DbName),
			&model.ResultRecord{})
		if err != nil {
			return nil, err
		}
		resultDao = query.NewResultDao(datasource)
		app.closers = append(app.closers, func() error { db.Close(); return nil })
	}

	var feed event.Feed = event.NewMemoryFeed(cfg.Feed.Size)
	if cfg.Redis.Addr != "" {
		if err := cache.InitRedis(ctx, cfg.Redis); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		feed = event.NewRedisFeed(cache.GetRedisClient(), cfg.Feed.Size)
		app.closers = append(app.closers, func() error { cache.CloseRedis(); return nil })
	}

	broker, err := newBroker(ctx, cfg, m)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	o := cfg.Orchestrator
	liquidator := position.NewLiquidator(broker,
		position.WithMaxAttempts(o.MaxAttempts),
		position.WithVerifyDelay(o.VerifyDelay),
		position.WithLimitOffsetPct(o.LimitOffsetPct),
		position.WithScope(o.FlattenScope))
	brackets := position.NewBracketBuilder(broker, o.DefaultQuantity,
		position.WithSweepAll(o.FlattenScope == conf.FlattenScopeAccount))
	gate := risk.NewGate(risk.NewSignalHistory(o.DuplicateWindow, o.CompletionCooldown), o.DuplicateWindow)

	// 结果总线：订阅者在独立协程里依次执行
	resultSvc := service.NewResultService(feed, resultDao)
	hub := result.NewHub(resultSvc)
	bus := event.NewBus(0)
	bus.Subscribe("gate", func(_ context.Context, r model.OrchestrationResult) { gate.OnResult(r) })
	bus.Subscribe("metrics", func(_ context.Context, r model.OrchestrationResult) { m.ObserveResult(r) })
	bus.Subscribe("store", resultSvc.Record)
	bus.Subscribe("ws", hub.Broadcast)
	if cfg.Feed.Journal != "" {
		bus.Subscribe("journal", event.JournalSink(recorder.NewJSONFileRecorder(cfg.Feed.Journal)))
	}
	if cfg.Kafka.Broker != "" {
		producer := kafka.NewKafkaProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		bus.Subscribe("kafka", event.KafkaSink(producer))
		app.closers = append(app.closers, func() error { producer.Close(); return nil })
	}
	if notifier := mail.NewNotifier(cfg.Email); notifier != nil {
		bus.Subscribe("alert", event.AlertSink(notifier))
	}
	busCtx, cancel := context.WithCancel(context.Background())
	go bus.Run(busCtx)
	app.bus, app.cancel = bus, cancel

	account := broker.Account()
	manager, err := signal.NewManager(gate, liquidator, brackets,
		signal.WithPublisher(bus),
		signal.WithAccount(fmt.Sprintf("%d", account.ID)))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Manager = manager

	receiver := hook.NewReceiver(manager, cfg.Webhook.Secret, hook.WithSymbolAliases(cfg.Webhook.SymbolMap))
	if !receiver.SignatureRequired() {
		logger.Warn("webhook secret not configured, X-Signature is not checked")
	}
	app.Router = router.NewApiRouter(cfg.Webhook, webhook.NewHandler(receiver), result.NewHandler(resultSvc), hub, reg)
	return app, nil
}

func newBroker(ctx context.Context, cfg *conf.Config, m *metrics.Metrics) (exchange.Broker, error) {
	var b exchange.Broker
	switch cfg.Broker.Mode {
	case conf.BrokerSimulated:
		logger.Warn("broker running in simulated mode, no orders reach the exchange")
		b = exchange.NewSimulatedExchange(model.Account{ID: 1, Spec: "simulated"})
	default:
		client := exchange.NewTradovateClient(cfg.Tradovate)
		err := utils.Retry(ctx, 3, 2*time.Second, true, func() error { return client.Connect(ctx) })
		if err != nil {
			return nil, fmt.Errorf("connect tradovate: %w", err)
		}
		b = client
	}
	return exchange.NewGuarded(b, cfg.Orchestrator.CallTimeout, m), nil
}

// Startup 启动时清空账户上遗留的持仓和挂单
func (a *App) Startup(ctx context.Context) {
	if a.startup {
		a.Manager.Startup(ctx)
	}
}

// Close 先排空结果总线再关闭存储
func (a *App) Close() error {
	if a.bus != nil {
		a.bus.Close()
		a.bus.Wait()
		a.cancel()
	}
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}
