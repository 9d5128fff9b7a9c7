package types

import "time"

// OKXCredentials 每个 bot 独立的交易所凭证。
type OKXCredentials struct {
	APIKey     string `json:"-"`
	SecretKey  string `json:"-"`
	Passphrase string `json:"-"`
	Sandbox    bool   `json:"sandbox"`
}

func (c OKXCredentials) Complete() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// Model 一个交易 bot 的配置记录。
type Model struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	APIKey             string         `json:"-"`
	APIURL             string         `json:"api_url"`
	ModelName          string         `json:"model_name"`
	InitialCapital     float64        `json:"initial_capital"`
	OKX                OKXCredentials `json:"okx"`
	TradingFrequency   int            `json:"trading_frequency"`
	TradingCoins       string         `json:"trading_coins"`
	AutoTradingEnabled bool           `json:"auto_trading_enabled"`
	SystemPrompt       string         `json:"system_prompt"`
	StopLossEnabled    bool           `json:"stop_loss_enabled"`
	StopLossPct        float64        `json:"stop_loss_percentage"`
	TakeProfitEnabled  bool           `json:"take_profit_enabled"`
	TakeProfitPct      float64        `json:"take_profit_percentage"`
	CreatedAt          time.Time      `json:"created_at"`
}

const (
	DefaultInitialCapital   = 10000.0
	DefaultTradingFrequency = 180
	DefaultTradingCoins     = "BTC,ETH,SOL,BNB,XRP,DOGE"
	DefaultStopLossPct      = 5.0
	DefaultTakeProfitPct    = 15.0
)

// HasExchange 是否配置了完整的交易所凭证。
func (m Model) HasExchange() bool { return m.OKX.Complete() }

// Interval 交易频率。
func (m Model) Interval(def time.Duration) time.Duration {
	if m.TradingFrequency <= 0 {
		return def
	}
	return time.Duration(m.TradingFrequency) * time.Second
}

// OrderIntent 决策模型对单个币种给出的交易意图，仅存在于一个周期内。
type OrderIntent struct {
	Coin         string  `json:"coin"`
	Signal       Signal  `json:"signal"`
	Quantity     float64 `json:"quantity"`
	Leverage     int     `json:"leverage"`
	ProfitTarget float64 `json:"profit_target,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"justification"`
}

// HoldIntent 默认观望。
func HoldIntent(coin, reason string) OrderIntent {
	return OrderIntent{
		Coin:       coin,
		Signal:     SignalHold,
		Quantity:   0,
		Leverage:   1,
		Confidence: 0.5,
		Rationale:  reason,
	}
}

// Trade 成交记录，只追加。
type Trade struct {
	ID        int64     `json:"id"`
	ModelID   int64     `json:"model_id"`
	Coin      string    `json:"coin"`
	Signal    Signal    `json:"signal"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Leverage  int       `json:"leverage"`
	Side      Side      `json:"side"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 一次决策调用的审计记录。
type Conversation struct {
	ID         int64     `json:"id"`
	ModelID    int64     `json:"model_id"`
	UserPrompt string    `json:"user_prompt"`
	AIResponse string    `json:"ai_response"`
	CoTTrace   string    `json:"cot_trace"`
	Timestamp  time.Time `json:"timestamp"`
}

// AccountValue 账户价值快照。
type AccountValue struct {
	ID             int64     `json:"id"`
	ModelID        int64     `json:"model_id"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Timestamp      time.Time `json:"timestamp"`
}

// SyncKind 对账动作类型。
type SyncKind string

const (
	SyncPhantomLocalCleanup SyncKind = "phantom_local_cleanup"
	SyncPhantomRemoteAdopt  SyncKind = "phantom_remote_adopt"
	SyncSideMismatchCorrect SyncKind = "side_mismatch_correct"
	SyncQuantityCorrect     SyncKind = "quantity_correct"
)

// SyncAction 对账产生的修正动作，仅用于日志/审计。
type SyncAction struct {
	Kind   SyncKind  `json:"kind"`
	Coin   string    `json:"coin"`
	Before *Position `json:"before,omitempty"`
	After  *Position `json:"after,omitempty"`
}

// PriceQuote 最新价格与 24h 涨跌幅（百分比）。
type PriceQuote struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// Indicators 技术指标。
type Indicators struct {
	SMA7          float64 `json:"sma_7"`
	SMA14         float64 `json:"sma_14"`
	RSI14         float64 `json:"rsi_14"`
	CurrentPrice  float64 `json:"current_price"`
	PriceChange7d float64 `json:"price_change_7d"`
}

// MarketSnapshot 单币种行情。
type MarketSnapshot struct {
	Coin       string      `json:"coin"`
	Quote      PriceQuote  `json:"quote"`
	Indicators *Indicators `json:"indicators,omitempty"`
}
