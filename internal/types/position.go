package types

import (
	"strings"
	"time"
)

// Position 单个币种、单个方向上的持仓。Quantity 必须 > 0，数量为 0 视为已平仓。
type Position struct {
	Coin          string    `json:"coin"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Margin        float64   `json:"margin"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// PositionKey 同币种同方向唯一。
func PositionKey(coin string, side Side) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + "#" + string(side)
}

func (p Position) Key() string { return PositionKey(p.Coin, p.Side) }

func (p Position) EffectiveLeverage() int {
	if p.Leverage < 1 {
		return 1
	}
	return p.Leverage
}

// Notional 按开仓均价计算的名义价值。
func (p Position) Notional() float64 { return p.Quantity * p.AvgPrice }

// MarginUsed 名义价值 / 杠杆。
func (p Position) MarginUsed() float64 {
	return p.Notional() / float64(p.EffectiveLeverage())
}

// PnLAt 以给定价格计算浮动盈亏（金额）。
func (p Position) PnLAt(price float64) float64 {
	if p.Side == SideShort {
		return (p.AvgPrice - price) * p.Quantity
	}
	return (price - p.AvgPrice) * p.Quantity
}

// Portfolio 每轮根据持仓与价格重新计算，不落库。
type Portfolio struct {
	ModelID        int64      `json:"model_id"`
	Cash           float64    `json:"cash"`
	Positions      []Position `json:"positions"`
	PositionsValue float64    `json:"positions_value"`
	MarginUsed     float64    `json:"margin_used"`
	TotalValue     float64    `json:"total_value"`
	RealizedPnL    float64    `json:"realized_pnl"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	Source         string     `json:"source"`
}

const (
	PortfolioSourceLocal    = "local"
	PortfolioSourceExchange = "exchange"
)

// Find 按币种查找持仓（任一方向）。
func (p Portfolio) Find(coin string) (Position, bool) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	for _, pos := range p.Positions {
		if strings.EqualFold(pos.Coin, coin) {
			return pos, true
		}
	}
	return Position{}, false
}

// BalanceDetail 单币种资产。
type BalanceDetail struct {
	Currency  string  `json:"ccy"`
	Balance   float64 `json:"bal"`
	Available float64 `json:"avail_bal"`
	Frozen    float64 `json:"frozen_bal"`
}

// Balance 交易所账户权益。
type Balance struct {
	TotalEquity float64         `json:"total_equity"`
	Available   float64         `json:"available"`
	Details     []BalanceDetail `json:"details"`
}

// ExchangeAccount 交易所侧的权威快照。
type ExchangeAccount struct {
	Balance   Balance    `json:"balance"`
	Positions []Position `json:"positions"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// UnrealizedPnL 汇总交易所持仓浮盈。
func (a ExchangeAccount) UnrealizedPnL() float64 {
	total := 0.0
	for _, p := range a.Positions {
		total += p.UnrealizedPnL
	}
	return total
}

// HasCoin 交易所是否持有该币种的非零仓位。
func (a ExchangeAccount) HasCoin(coin string) bool {
	for _, p := range a.Positions {
		if strings.EqualFold(p.Coin, coin) && p.Quantity > 0 {
			return true
		}
	}
	return false
}
