package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	EnvConfigPath = "AITRADE_CONFIG"
	EnvDBPath     = "AITRADE_DB_PATH"
	EnvLogLevel   = "AITRADE_LOG_LEVEL"
	EnvHTTPAddr   = "AITRADE_HTTP_ADDR"
	EnvAIAPIKey   = "AITRADE_AI_API_KEY"

	DefaultConfigPath = "configs/config.toml"
)

// Config 顶层配置（TOML）。
type Config struct {
	App       AppConfig       `toml:"app"`
	Log       LogConfig       `toml:"log"`
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Risk      RiskConfig      `toml:"risk"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
}

type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"gte=0"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig 控制监督循环的节奏。
type SchedulerConfig struct {
	TickSeconds              int `toml:"tick_seconds" validate:"gte=1"`
	CooldownSeconds          int `toml:"cooldown_seconds" validate:"gte=1"`
	DefaultIntervalSeconds   int `toml:"default_interval_seconds" validate:"gte=1"`
	ReconcileIntervalSeconds int `toml:"reconcile_interval_seconds" validate:"gte=0"`
	MaxConcurrent            int `toml:"max_concurrent" validate:"gte=1"`
}

// RiskConfig 风控阈值；Disabled=true 时使用不做任何限制的空实现。
type RiskConfig struct {
	Disabled        bool    `toml:"disabled"`
	MaxPositions    int     `toml:"max_positions" validate:"gte=1"`
	MaxRiskPerTrade float64 `toml:"max_risk_per_trade" validate:"gt=0,lte=1"`
	MaxTotalRisk    float64 `toml:"max_total_risk" validate:"gt=0,lte=10"`
	MaxLeverage     int     `toml:"max_leverage" validate:"gte=1,lte=125"`
	MinOrderUSD     float64 `toml:"min_order_usd" validate:"gte=0"`
	MaxDailyTrades  int     `toml:"max_daily_trades" validate:"gte=1"`
	MaxDrawdown     float64 `toml:"max_drawdown" validate:"gt=0,lte=1"`
}

// ExchangeConfig 交易所 REST 访问参数（凭证在每个 bot 的模型记录中）。
type ExchangeConfig struct {
	BaseURL                   string `toml:"base_url"`
	TimeoutSeconds            int    `toml:"timeout_seconds" validate:"gte=1"`
	MaxAttempts               int    `toml:"max_attempts" validate:"gte=1,lte=10"`
	CacheSeconds              int    `toml:"cache_seconds" validate:"gte=0"`
	AccountConfigCacheSeconds int    `toml:"account_config_cache_seconds" validate:"gte=0"`
	MinIntervalMs             int    `toml:"min_interval_ms" validate:"gte=0"`
	MaxPerSecond              int    `toml:"max_per_second" validate:"gte=1"`
	MaxPerMinute              int    `toml:"max_per_minute" validate:"gte=1"`
	DefaultRetryAfterSeconds  int    `toml:"default_retry_after_seconds" validate:"gte=1"`
}

type MarketConfig struct {
	BinanceBaseURL    string `toml:"binance_base_url"`
	OKXBaseURL        string `toml:"okx_base_url"`
	PriceCacheSeconds int    `toml:"price_cache_seconds" validate:"gte=0"`
	TimeoutSeconds    int    `toml:"timeout_seconds" validate:"gte=1"`
	IndicatorDays     int    `toml:"indicator_days" validate:"gte=14"`
}

// AIConfig 决策模型调用参数；API 地址/密钥/模型名来自每个 bot 的模型记录。
type AIConfig struct {
	// APIKey 仅来自环境变量，作为模型记录未填密钥时的兜底。
	APIKey         string            `toml:"-"`
	TimeoutSeconds int               `toml:"timeout_seconds" validate:"gte=1"`
	MaxRetries     int               `toml:"max_retries" validate:"gte=0"`
	MaxTokens      int               `toml:"max_tokens" validate:"gte=1"`
	ExpectJSON     bool              `toml:"expect_json"`
	Headers        map[string]string `toml:"headers"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Load 读取并解析 TOML 配置文件，并设置缺省值与基本校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析内存中的 TOML 内容。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv 加载 .env（不存在时忽略），供凭证与路径覆盖使用。
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}
	return nil
}

// Path 返回配置文件路径：环境变量优先。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

func applyEnvOverrides(c *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.App.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIAPIKey)); v != "" {
		c.AI.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		c.HTTP.Addr = strings.TrimSpace(v)
	}
}

// 默认值设置
func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Log.File == "" {
		c.Log.Console = true
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/aitrade.db"
	}

	s := &c.Scheduler
	if s.TickSeconds <= 0 {
		s.TickSeconds = 30
	}
	if s.CooldownSeconds <= 0 {
		s.CooldownSeconds = 60
	}
	if s.DefaultIntervalSeconds <= 0 {
		s.DefaultIntervalSeconds = 180
	}
	if s.ReconcileIntervalSeconds <= 0 {
		s.ReconcileIntervalSeconds = 60
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 4
	}

	r := &c.Risk
	if r.MaxPositions <= 0 {
		r.MaxPositions = 3
	}
	if r.MaxRiskPerTrade <= 0 {
		r.MaxRiskPerTrade = 0.05
	}
	if r.MaxTotalRisk <= 0 {
		r.MaxTotalRisk = 0.15
	}
	if r.MaxLeverage <= 0 {
		r.MaxLeverage = 20
	}
	if r.MinOrderUSD <= 0 {
		r.MinOrderUSD = 10
	}
	if r.MaxDailyTrades <= 0 {
		r.MaxDailyTrades = 10
	}
	if r.MaxDrawdown <= 0 {
		r.MaxDrawdown = 0.20
	}

	e := &c.Exchange
	if e.BaseURL == "" {
		e.BaseURL = "https://www.okx.com"
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 30
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.CacheSeconds <= 0 {
		e.CacheSeconds = 5
	}
	if e.AccountConfigCacheSeconds <= 0 {
		e.AccountConfigCacheSeconds = 300
	}
	if e.MinIntervalMs <= 0 {
		e.MinIntervalMs = 100
	}
	if e.MaxPerSecond <= 0 {
		e.MaxPerSecond = 10
	}
	if e.MaxPerMinute <= 0 {
		e.MaxPerMinute = 600
	}
	if e.DefaultRetryAfterSeconds <= 0 {
		e.DefaultRetryAfterSeconds = 60
	}

	m := &c.Market
	if m.OKXBaseURL == "" {
		m.OKXBaseURL = "https://www.okx.com"
	}
	if m.PriceCacheSeconds <= 0 {
		m.PriceCacheSeconds = 30
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = 10
	}
	if m.IndicatorDays < 14 {
		m.IndicatorDays = 14
	}

	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 60
	}
	if c.AI.MaxRetries <= 0 {
		c.AI.MaxRetries = 2
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 4096
	}
}

var structValidator = validator.New()

// 基础校验
func validate(c *Config) error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Exchange.MaxPerSecond > c.Exchange.MaxPerMinute {
		return fmt.Errorf("exchange.max_per_second 不能大于 max_per_minute")
	}
	if c.Risk.MaxRiskPerTrade > c.Risk.MaxTotalRisk {
		return fmt.Errorf("risk.max_risk_per_trade 不能大于 max_total_risk")
	}
	if !strings.HasPrefix(c.Exchange.BaseURL, "http") {
		return fmt.Errorf("exchange.base_url 非法: %s", c.Exchange.BaseURL)
	}
	return nil
}

// Seconds 把配置里的秒数转换为 time.Duration。
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
