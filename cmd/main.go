package main

import (
	"context"
	"flag"
	"log"

	api "signalbridge/cmd/signalbridge"
	"signalbridge/conf"
	"signalbridge/internal/middleware"
	"signalbridge/pkg/logger"
	"signalbridge/pkg/validator"
)

// 启动服务（监听 TradingView webhook）

/*
测试

BODY='{"symbol":"NQ1!","action":"buy","PRICE":18500.25,"T1":18550,"STOP":18450}'
SIGNATURE=$(echo -n $BODY | openssl dgst -sha256 -hmac $WEBHOOK_SECRET | sed 's/^.* //')

curl -X POST "http://localhost:8080/webhook?config_id=nq-breakout" \
  -H "Content-Type: application/json" \
  -H "X-Signature: $SIGNATURE" \
  -d "$BODY"

printf 'PRICE=18500.25\nT1=18550\nSTOP=18450\nSELL\n' | curl -X POST http://localhost:8080/ \
  -H "Content-Type: text/plain" --data-binary @-
*/

func main() {
	configPath := flag.String("config", "conf/config.yaml", "config file path")
	flag.Parse()

	conf.LoadEnv()
	// 加载配置文件
	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := conf.AppConfig
	logger.InitLogger(&appCfg.Log, appCfg.AppName)
	defer logger.Sync()
	// gin validator替换
	validator.LazyInitGinValidator(appCfg.Language)

	ctx := context.Background()
	app, err := api.InitApp(ctx, &appCfg)
	if err != nil {
		logger.Fatalf("init app failed: %v", err)
	}
	app.Startup(ctx)

	// 创建并启动服务
	srv := api.NewServer(&appCfg)
	srv.RegisterOnShutdown(func() {
		if err := app.Close(); err != nil {
			logger.Errorf("release resources: %v", err)
		}
	})
	srv.Run(middleware.NewMiddleware(), app.Router)
}
