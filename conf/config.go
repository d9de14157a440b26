package conf

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 配置加载（券商凭证、去重窗口等）

type WebhookConfig struct {
	Secret    string  `yaml:"secret"`     // 为空时不校验 X-Signature
	RateLimit float64 `yaml:"rate-limit"` // 每秒请求数，0 不限流
	Burst     int     `yaml:"burst"`

	// TradingView ticker 到券商合约，如 NQ1! → NQM5
	SymbolMap map[string]string `yaml:"symbol-map"`
}

// TradovateConfig 券商连接参数
type TradovateConfig struct {
	Demo           bool          `yaml:"demo"`
	BaseURL        string        `yaml:"base-url"` // 为空时根据 demo 选择
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	AppID          string        `yaml:"app-id"`
	AppVersion     string        `yaml:"app-version"`
	ClientID       string        `yaml:"client-id"`
	ClientSecret   string        `yaml:"client-secret"`
	DeviceID       string        `yaml:"device-id"`
	AccountID      int64         `yaml:"account-id"`   // 为0时登录后取第一个账户
	AccountSpec    string        `yaml:"account-spec"` // 账户名
	RequestTimeout time.Duration `yaml:"request-timeout"`
	RateLimit      float64       `yaml:"rate-limit"` // 每秒请求数
}

func (t TradovateConfig) Endpoint() string {
	if t.BaseURL != "" {
		return t.BaseURL
	}
	if t.Demo {
		return "https://demo-api.tradovate.com/v1"
	}
	return "https://live-api.tradovate.com/v1"
}

type BrokerConfig struct {
	Mode string `yaml:"mode"` // tradovate | simulated
}

const (
	BrokerTradovate = "tradovate"
	BrokerSimulated = "simulated"

	FlattenScopeAccount    = "account"
	FlattenScopeInstrument = "instrument"
)

// OrchestratorConfig 信号处理流程参数
type OrchestratorConfig struct {
	DuplicateWindow    time.Duration `yaml:"duplicate-window"`    // 相同指纹的去重窗口
	CompletionCooldown time.Duration `yaml:"completion-cooldown"` // 成交完成记录的保留时长
	MaxAttempts        int           `yaml:"max-attempts"`        // 平仓最大尝试次数
	DefaultQuantity    int           `yaml:"default-quantity"`
	CallTimeout        time.Duration `yaml:"call-timeout"` // 单次券商调用超时
	VerifyDelay        time.Duration `yaml:"verify-delay"` // 平仓后等待多久再核对持仓
	LimitOffsetPct     float64       `yaml:"limit-offset-pct"`
	FlattenScope       string        `yaml:"flatten-scope"`
	StartupFlatten     bool          `yaml:"startup-flatten"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type Db struct {
	Enabled  bool   `yaml:"enabled"`
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type EmailConfig struct {
	Host       string   `yaml:"smtp-host"`
	Port       int      `yaml:"smtp-port"`
	Username   string   `yaml:"smtp-user"`
	Password   string   `yaml:"smtp-password"`
	Sender     string   `yaml:"smtp-sender"`
	Recipients []string `yaml:"recipients"`
}

type FeedConfig struct {
	Size    int    `yaml:"size"`    // 最近结果保留条数
	Journal string `yaml:"journal"` // 本地 jsonl 结果日志，为空不记录
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	Language     string `yaml:"language"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Webhook      WebhookConfig      `yaml:"webhook"`
	Tradovate    TradovateConfig    `yaml:"tradovate"`
	Broker       BrokerConfig       `yaml:"broker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Db           `yaml:"database"`
	Log          LogConfig   `yaml:"log"`
	Redis        RedisConfig `yaml:"redis"`
	Kafka        KafkaConfig `yaml:"kafka"`
	Email        EmailConfig `yaml:"email"`
	Feed         FeedConfig  `yaml:"feed"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	cfg.ApplyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// LoadEnv 读取 .env，文件不存在时忽略
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv 环境变量覆盖配置文件中的敏感信息
func (c *Config) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("WEBHOOK_SECRET", &c.Webhook.Secret)
	setString("TRADOVATE_USERNAME", &c.Tradovate.Username)
	setString("TRADOVATE_PASSWORD", &c.Tradovate.Password)
	setString("TRADOVATE_APP_ID", &c.Tradovate.AppID)
	setString("TRADOVATE_APP_VERSION", &c.Tradovate.AppVersion)
	setString("TRADOVATE_CLIENT_ID", &c.Tradovate.ClientID)
	setString("TRADOVATE_CLIENT_SECRET", &c.Tradovate.ClientSecret)
	setString("TRADOVATE_DEVICE_ID", &c.Tradovate.DeviceID)
	setString("TRADOVATE_ACCOUNT_SPEC", &c.Tradovate.AccountSpec)
	if v := os.Getenv("TRADOVATE_ACCOUNT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Tradovate.AccountID = id
		}
	}
	if v := os.Getenv("TRADOVATE_DEMO"); v != "" {
		if demo, err := strconv.ParseBool(v); err == nil {
			c.Tradovate.Demo = demo
		}
	}

	setString("DB_USER", &c.Db.Username)
	setString("DB_PASSWORD", &c.Db.Password)
	setString("DB_HOST", &c.Db.Host)
	setString("DB_PORT", &c.Db.Port)
	setString("DB_NAME", &c.Db.DbName)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		c.Redis.Addr = host + ":" + port
	}
}

func (c *Config) SetDefaults() {
	if c.AppName == "" {
		c.AppName = "signalbridge"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MaxPingCount <= 0 {
		c.MaxPingCount = 10
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = BrokerTradovate
	}
	if c.Tradovate.RequestTimeout <= 0 {
		c.Tradovate.RequestTimeout = 10 * time.Second
	}
	if c.Tradovate.RateLimit <= 0 {
		c.Tradovate.RateLimit = 5
	}

	o := &c.Orchestrator
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 30 * time.Second
	}
	if o.CompletionCooldown <= 0 {
		o.CompletionCooldown = 5 * time.Minute
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.DefaultQuantity == 0 {
		o.DefaultQuantity = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	if o.VerifyDelay <= 0 {
		o.VerifyDelay = 500 * time.Millisecond
	}
	if o.LimitOffsetPct <= 0 {
		o.LimitOffsetPct = 2
	}
	if o.FlattenScope == "" {
		o.FlattenScope = FlattenScopeAccount
	}

	if c.Webhook.RateLimit > 0 && c.Webhook.Burst <= 0 {
		c.Webhook.Burst = int(c.Webhook.RateLimit) + 1
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "signalbridge_results"
	}
	if c.Feed.Size <= 0 {
		c.Feed.Size = 200
	}
}

// Validate 不可恢复的配置错误在启动时直接失败
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.MaxAttempts < 1 {
		return errors.New("orchestrator.max-attempts must be >= 1")
	}
	if o.DefaultQuantity < 1 {
		return errors.New("orchestrator.default-quantity must be >= 1")
	}
	if o.FlattenScope != FlattenScopeAccount && o.FlattenScope != FlattenScopeInstrument {
		return fmt.Errorf("orchestrator.flatten-scope %q not supported", o.FlattenScope)
	}

	switch c.Broker.Mode {
	case BrokerSimulated:
	case BrokerTradovate:
		t := c.Tradovate
		if t.Username == "" || t.Password == "" {
			return errors.New("tradovate credentials are required")
		}
		if t.AppID == "" || t.ClientSecret == "" {
			return errors.New("tradovate app-id and client-secret are required")
		}
	default:
		return fmt.Errorf("broker.mode %q not supported", c.Broker.Mode)
	}
	return nil
}
