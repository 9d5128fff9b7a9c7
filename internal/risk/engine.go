// Package risk 下单前的风控校验与止盈止损扫描。
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"aitrade/internal/config"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	historyLimit = 100
	// 数量调整保留的小数位，向下截断保证不超过单笔风险上限
	quantityPlaces = 8

	StatusHealthy  = "healthy"
	StatusHighRisk = "high_risk"
	StatusDisabled = "disabled"
)

// Limits 风控阈值。比例均为小数（0.05 = 5%）。
type Limits struct {
	MaxPositions    int
	MaxRiskPerTrade float64
	MaxTotalRisk    float64
	MaxLeverage     int
	MinOrderUSD     float64
	MaxDailyTrades  int
	MaxDrawdown     float64
}

func LimitsFromConfig(c config.RiskConfig) Limits {
	return Limits{
		MaxPositions:    c.MaxPositions,
		MaxRiskPerTrade: c.MaxRiskPerTrade,
		MaxTotalRisk:    c.MaxTotalRisk,
		MaxLeverage:     c.MaxLeverage,
		MinOrderUSD:     c.MinOrderUSD,
		MaxDailyTrades:  c.MaxDailyTrades,
		MaxDrawdown:     c.MaxDrawdown,
	}
}

// History 成交与净值历史，均按时间倒序返回。
type History interface {
	GetTrades(ctx context.Context, modelID int64, limit int) ([]types.Trade, error)
	GetAccountValueHistory(ctx context.Context, modelID int64, limit int) ([]types.AccountValue, error)
}

// OrderRequest 待校验的开仓请求。
type OrderRequest struct {
	ModelID        int64
	Coin           string
	Side           types.Side
	Quantity       float64
	Leverage       int
	Price          float64
	InitialCapital float64
}

// Validation 校验结果；Valid=false 只拦截这一笔订单。
type Validation struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
	AdjustedQuantity float64  `json:"adjusted_quantity"`
	AdjustedLeverage int      `json:"adjusted_leverage"`
}

func (v *Validation) fail(format string, args ...any) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *Validation) warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Metrics 风险概况。
type Metrics struct {
	TotalRisk      float64 `json:"total_risk"`
	Positions      int     `json:"current_positions"`
	MaxPositions   int     `json:"max_positions"`
	DailyTrades    int     `json:"daily_trades"`
	MaxDailyTrades int     `json:"max_daily_trades"`
	Drawdown       float64 `json:"drawdown"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Status         string  `json:"risk_status"`
}

// Engine 风控能力；未启用时使用 Noop。
type Engine interface {
	ValidateOrder(ctx context.Context, req OrderRequest, pf types.Portfolio) Validation
	CheckProtectiveExits(pf types.Portfolio, prices map[string]float64, rules ExitRules, live *types.ExchangeAccount) []ExitAction
	Metrics(ctx context.Context, modelID int64, initialCapital float64, pf types.Portfolio) Metrics
}

// Manager 默认风控实现。
type Manager struct {
	limits  Limits
	history History
	now     func() time.Time
}

func NewManager(limits Limits, history History) *Manager {
	return &Manager{limits: limits, history: history, now: time.Now}
}

// New 按配置选择实现。
func New(cfg config.RiskConfig, history History) Engine {
	if cfg.Disabled {
		return Noop{}
	}
	return NewManager(LimitsFromConfig(cfg), history)
}

// ValidateOrder 依次检查持仓数、杠杆、最小下单额、单笔风险、总风险、日内笔数与回撤。
// 单笔风险超限时按（已收敛的）杠杆重算数量，并对缩减后的名义价值重新检查最小下单额。
func (m *Manager) ValidateOrder(ctx context.Context, req OrderRequest, pf types.Portfolio) Validation {
	v := Validation{Valid: true, AdjustedQuantity: req.Quantity, AdjustedLeverage: req.Leverage}
	if v.AdjustedLeverage < 1 {
		v.AdjustedLeverage = 1
	}
	if req.Quantity <= 0 || req.Price <= 0 {
		v.fail("Invalid order: quantity=%g price=%g", req.Quantity, req.Price)
		return v
	}

	if n := len(pf.Positions); n >= m.limits.MaxPositions {
		v.fail("Maximum positions limit reached (%d)", m.limits.MaxPositions)
	}

	if v.AdjustedLeverage > m.limits.MaxLeverage {
		v.warn("Leverage reduced from %dx to %dx", v.AdjustedLeverage, m.limits.MaxLeverage)
		v.AdjustedLeverage = m.limits.MaxLeverage
	}

	orderValue := req.Quantity * req.Price
	if orderValue < m.limits.MinOrderUSD {
		v.fail("Order size too small ($%.2f < $%.2f)", orderValue, m.limits.MinOrderUSD)
	}

	if account := pf.TotalValue; account > 0 {
		margin := orderValue / float64(v.AdjustedLeverage)
		if margin/account > m.limits.MaxRiskPerTrade {
			adjusted := maxQuantity(account, m.limits.MaxRiskPerTrade, v.AdjustedLeverage, req.Price)
			v.warn("Quantity reduced from %.4f to %.4f to meet risk limit", req.Quantity, adjusted)
			v.AdjustedQuantity = adjusted
			if shrunk := adjusted * req.Price; shrunk < m.limits.MinOrderUSD {
				v.fail("Adjusted order size too small ($%.2f < $%.2f)", shrunk, m.limits.MinOrderUSD)
			}
		}
	}

	if total := TotalRisk(pf); total > m.limits.MaxTotalRisk {
		v.fail("Total portfolio risk too high (%.1f%% > %.1f%%)", total*100, m.limits.MaxTotalRisk*100)
	}

	if daily := m.dailyTrades(ctx, req.ModelID); daily >= m.limits.MaxDailyTrades {
		v.fail("Daily trade limit reached (%d/%d)", daily, m.limits.MaxDailyTrades)
	}

	if dd := m.drawdown(ctx, req.ModelID, req.InitialCapital, pf.TotalValue); dd > m.limits.MaxDrawdown {
		v.fail("Maximum drawdown exceeded (%.1f%% > %.1f%%)", dd*100, m.limits.MaxDrawdown*100)
	}
	return v
}

// maxQuantity account*risk*leverage/price，向下截断。
func maxQuantity(account, riskPct float64, leverage int, price float64) float64 {
	budget := decimal.NewFromFloat(account).
		Mul(decimal.NewFromFloat(riskPct)).
		Mul(decimal.NewFromInt(int64(leverage)))
	q, _ := budget.QuoRem(decimal.NewFromFloat(price), quantityPlaces)
	return q.InexactFloat64()
}

// TotalRisk 全部持仓保证金 / 账户总值。
func TotalRisk(pf types.Portfolio) float64 {
	if pf.TotalValue <= 0 {
		return 0
	}
	margin := 0.0
	for _, p := range pf.Positions {
		if p.Margin > 0 {
			margin += p.Margin
			continue
		}
		margin += p.MarginUsed()
	}
	return margin / pf.TotalValue
}

// dailyTrades 成交按时间倒序，遇到早于今天的记录即停止。
func (m *Manager) dailyTrades(ctx context.Context, modelID int64) int {
	if m.history == nil {
		return 0
	}
	trades, err := m.history.GetTrades(ctx, modelID, historyLimit)
	if err != nil {
		logger.Warnf("[risk] model=%d 读取成交失败: %v", modelID, err)
		return 0
	}
	y, mo, d := m.now().Date()
	count := 0
	for _, t := range trades {
		ty, tm, td := t.Timestamp.In(m.now().Location()).Date()
		if ty != y || tm != mo || td != d {
			break
		}
		count++
	}
	return count
}

// drawdown 相对历史峰值（含初始资金）的回撤。
func (m *Manager) drawdown(ctx context.Context, modelID int64, initial, current float64) float64 {
	if m.history == nil {
		return 0
	}
	history, err := m.history.GetAccountValueHistory(ctx, modelID, historyLimit)
	if err != nil {
		logger.Warnf("[risk] model=%d 读取净值历史失败: %v", modelID, err)
		return 0
	}
	if len(history) == 0 {
		return 0
	}
	peak := initial
	for _, h := range history {
		if h.TotalValue > peak {
			peak = h.TotalValue
		}
	}
	if peak <= 0 {
		return 0
	}
	dd := (peak - current) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

func (m *Manager) Metrics(ctx context.Context, modelID int64, initialCapital float64, pf types.Portfolio) Metrics {
	total := TotalRisk(pf)
	status := StatusHealthy
	if total >= m.limits.MaxTotalRisk {
		status = StatusHighRisk
	}
	return Metrics{
		TotalRisk:      total,
		Positions:      len(pf.Positions),
		MaxPositions:   m.limits.MaxPositions,
		DailyTrades:    m.dailyTrades(ctx, modelID),
		MaxDailyTrades: m.limits.MaxDailyTrades,
		Drawdown:       m.drawdown(ctx, modelID, initialCapital, pf.TotalValue),
		MaxDrawdown:    m.limits.MaxDrawdown,
		Status:         status,
	}
}

// Noop 不做任何限制。
type Noop struct{}

func (Noop) ValidateOrder(_ context.Context, req OrderRequest, _ types.Portfolio) Validation {
	lev := req.Leverage
	if lev < 1 {
		lev = 1
	}
	return Validation{Valid: true, AdjustedQuantity: req.Quantity, AdjustedLeverage: lev}
}

func (Noop) CheckProtectiveExits(types.Portfolio, map[string]float64, ExitRules, *types.ExchangeAccount) []ExitAction {
	return nil
}

func (Noop) Metrics(_ context.Context, _ int64, _ float64, pf types.Portfolio) Metrics {
	return Metrics{TotalRisk: TotalRisk(pf), Positions: len(pf.Positions), Status: StatusDisabled}
}
