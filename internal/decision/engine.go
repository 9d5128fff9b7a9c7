// Package decision 决策预言机：构造提示词、调用大模型并在边界处把回复校验为固定结构的下单意图。
package decision

import (
	"context"
	"strings"

	"aitrade/internal/types"
)

// Context 一次决策所需的输入。
type Context struct {
	Coins        []string
	Market       []types.MarketSnapshot
	Portfolio    types.Portfolio
	Account      AccountSummary
	SystemPrompt string
}

// AccountSummary 提示词中展示的账户概况。
type AccountSummary struct {
	InitialCapital float64 `json:"initial_capital"`
	TotalValue     float64 `json:"total_value"`
	Cash           float64 `json:"cash"`
	TotalReturn    float64 `json:"total_return"`
}

// NewAccountSummary 由组合与初始资金计算收益率（百分比）。
func NewAccountSummary(initial float64, p types.Portfolio) AccountSummary {
	out := AccountSummary{InitialCapital: initial, TotalValue: p.TotalValue, Cash: p.Cash}
	if initial > 0 {
		out.TotalReturn = (p.TotalValue - initial) / initial * 100
	}
	return out
}

// Result 决策输出；Prompt/Raw 用于审计，调用失败时也尽量带回。
type Result struct {
	Intents  map[string]types.OrderIntent
	Prompt   string
	Raw      string
	Fallback bool
}

// Decider 决策器接口：将上下文转为每个币种的下单意图。
type Decider interface {
	Decide(ctx context.Context, input Context) (Result, error)
}

// HoldAll 预言机不可用时的默认决策：宇宙内每个币种都 hold。
func HoldAll(coins []string, reason string) map[string]types.OrderIntent {
	if strings.TrimSpace(reason) == "" {
		reason = "AI unavailable - default hold strategy"
	}
	out := make(map[string]types.OrderIntent, len(coins))
	for _, c := range coins {
		out[c] = types.HoldIntent(c, reason)
	}
	return out
}

// HoldDecider 不调用任何模型，总是返回全 hold。
type HoldDecider struct{}

func (HoldDecider) Decide(_ context.Context, input Context) (Result, error) {
	return Result{Intents: HoldAll(input.Coins, "decider disabled"), Fallback: true}, nil
}
