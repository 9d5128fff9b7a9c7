package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"aitrade/internal/types"
)

// ExitKind 保护性平仓类型。
type ExitKind string

const (
	ExitStopLoss   ExitKind = "stop_loss"
	ExitTakeProfit ExitKind = "take_profit"
)

// ExitRules 用户配置的止盈止损，百分比为百分数（5 = 5%）。
type ExitRules struct {
	StopLossEnabled   bool
	StopLossPct       float64
	TakeProfitEnabled bool
	TakeProfitPct     float64
}

func ExitRulesFromModel(m types.Model) ExitRules {
	return ExitRules{
		StopLossEnabled:   m.StopLossEnabled,
		StopLossPct:       m.StopLossPct,
		TakeProfitEnabled: m.TakeProfitEnabled,
		TakeProfitPct:     m.TakeProfitPct,
	}
}

func (r ExitRules) Enabled() bool { return r.StopLossEnabled || r.TakeProfitEnabled }

// ExitAction 需要执行的保护性平仓。
type ExitAction struct {
	Kind         ExitKind
	Coin         string
	Side         types.Side
	Quantity     float64
	EntryPrice   float64
	CurrentPrice float64
	PnLPct       float64
	Reason       string
}

// CheckProtectiveExits 止损阈值含边界（pnl <= -sl），止损优先于止盈。
// live 非空时跳过交易所上不存在的持仓，那是对账器的职责。
func (m *Manager) CheckProtectiveExits(pf types.Portfolio, prices map[string]float64, rules ExitRules, live *types.ExchangeAccount) []ExitAction {
	return protectiveExits(pf, prices, rules, live)
}

func protectiveExits(pf types.Portfolio, prices map[string]float64, rules ExitRules, live *types.ExchangeAccount) []ExitAction {
	if !rules.Enabled() {
		return nil
	}
	hundred := decimal.NewFromInt(100)
	sl := decimal.NewFromFloat(rules.StopLossPct).Div(hundred)
	tp := decimal.NewFromFloat(rules.TakeProfitPct).Div(hundred)
	var out []ExitAction
	for _, p := range pf.Positions {
		price, ok := prices[p.Coin]
		if !ok || price <= 0 || p.AvgPrice <= 0 || p.Quantity <= 0 {
			continue
		}
		if live != nil && !live.HasCoin(p.Coin) {
			continue
		}
		pct := pnlPct(p, price)
		pnl := pct.InexactFloat64()
		action := ExitAction{Coin: p.Coin, Side: p.Side, Quantity: p.Quantity, EntryPrice: p.AvgPrice, CurrentPrice: price, PnLPct: pnl}
		switch {
		case rules.StopLossEnabled && pct.LessThanOrEqual(sl.Neg()):
			action.Kind = ExitStopLoss
			action.Reason = fmt.Sprintf("Stop loss triggered: %.1f%% loss (threshold: %.1f%%)", pnl*100, rules.StopLossPct)
		case rules.TakeProfitEnabled && pct.GreaterThanOrEqual(tp):
			action.Kind = ExitTakeProfit
			action.Reason = fmt.Sprintf("Take profit triggered: %.1f%% gain (threshold: %.1f%%)", pnl*100, rules.TakeProfitPct)
		default:
			continue
		}
		out = append(out, action)
	}
	return out
}

// pnlPct 十进制计算盈亏比例，避免 0.665/0.7 这类小数价格在阈值处因浮点误差漏触发。
func pnlPct(p types.Position, price float64) decimal.Decimal {
	entry := decimal.NewFromFloat(p.AvgPrice)
	diff := decimal.NewFromFloat(price).Sub(entry)
	if p.Side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Div(entry)
}
