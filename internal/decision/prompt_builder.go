package decision

import (
	"context"
	"fmt"
	"math"
	"strings"

	json "github.com/goccy/go-json"

	"aitrade/internal/pkg/format"
)

// PromptBuilder generates system/user prompts from a decision Context.
type PromptBuilder interface {
	Build(ctx context.Context, input Context) (system string, user string, err error)
}

// SelectPromptBuilder 自定义系统提示词时使用基础模板，否则使用增强模板。
func SelectPromptBuilder(systemPrompt string) PromptBuilder {
	if strings.TrimSpace(systemPrompt) != "" {
		return BasicPromptBuilder{}
	}
	return EnhancedPromptBuilder{}
}

// BasicPromptBuilder 以用户配置的系统提示词为角色，附带精简的行情/账户/持仓段落。
type BasicPromptBuilder struct{}

func (BasicPromptBuilder) Build(_ context.Context, input Context) (string, string, error) {
	var sb strings.Builder
	sb.WriteString("MARKET DATA:\n")
	for _, snap := range input.Market {
		fmt.Fprintf(&sb, "%s: %s (%s)\n", snap.Coin, format.Price(snap.Quote.Price), format.SignedPercent(snap.Quote.Change24h))
		if ind := snap.Indicators; ind != nil {
			fmt.Fprintf(&sb, "  SMA7: %s, SMA14: %s, RSI: %.1f\n", format.Price(ind.SMA7), format.Price(ind.SMA14), ind.RSI14)
		}
	}
	sb.WriteString("\nACCOUNT STATUS:\n")
	fmt.Fprintf(&sb, "- Initial Capital: %s\n", format.USD(input.Account.InitialCapital))
	fmt.Fprintf(&sb, "- Total Value: %s\n", format.USD(input.Portfolio.TotalValue))
	fmt.Fprintf(&sb, "- Cash: %s\n", format.USD(input.Portfolio.Cash))
	fmt.Fprintf(&sb, "- Total Return: %.2f%%\n", input.Account.TotalReturn)
	sb.WriteString("\nCURRENT POSITIONS:\n")
	if len(input.Portfolio.Positions) == 0 {
		sb.WriteString("None\n")
	}
	for _, p := range input.Portfolio.Positions {
		fmt.Fprintf(&sb, "- %s %s: %s @ %s (%dx)\n", p.Coin, p.Side, format.Float(p.Quantity, 4), format.Price(p.AvgPrice), p.EffectiveLeverage())
	}
	sb.WriteString("\n")
	sb.WriteString(basicTradingRules)
	sb.WriteString("\n\n")
	sb.WriteString(decisionOutputFormat)
	sb.WriteString("\n\nAnalyze and output JSON only.")
	return strings.TrimSpace(input.SystemPrompt), sb.String(), nil
}

// EnhancedPromptBuilder 默认模板：K 线摘要、指标 JSON、持仓 JSON 与账户总览。
type EnhancedPromptBuilder struct{}

type indicatorRow struct {
	SMA7          float64 `json:"SMA_7"`
	SMA14         float64 `json:"SMA_14"`
	RSI14         float64 `json:"RSI_14"`
	CurrentPrice  float64 `json:"current_price"`
	PriceChange7d float64 `json:"price_change_7d"`
}

type positionRow struct {
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	Leverage      int     `json:"leverage"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Margin        float64 `json:"margin"`
}

func (EnhancedPromptBuilder) Build(_ context.Context, input Context) (string, string, error) {
	var klines strings.Builder
	indicators := make(map[string]indicatorRow, len(input.Market))
	for _, snap := range input.Market {
		change7d := 0.0
		if ind := snap.Indicators; ind != nil {
			change7d = ind.PriceChange7d
			indicators[snap.Coin] = indicatorRow{
				SMA7:          round(ind.SMA7, 2),
				SMA14:         round(ind.SMA14, 2),
				RSI14:         round(ind.RSI14, 1),
				CurrentPrice:  round(snap.Quote.Price, 2),
				PriceChange7d: round(ind.PriceChange7d, 2),
			}
		}
		fmt.Fprintf(&klines, "%s, %s, %s, %s\n", snap.Coin, format.Price(snap.Quote.Price),
			format.SignedPercent(snap.Quote.Change24h), format.SignedPercent(change7d))
	}
	positions := make([]positionRow, 0, len(input.Portfolio.Positions))
	for _, p := range input.Portfolio.Positions {
		cur := p.CurrentPrice
		if cur <= 0 {
			cur = p.AvgPrice
		}
		positions = append(positions, positionRow{
			Coin:          p.Coin,
			Side:          string(p.Side),
			Quantity:      p.Quantity,
			AvgPrice:      p.AvgPrice,
			CurrentPrice:  cur,
			Leverage:      p.EffectiveLeverage(),
			UnrealizedPnL: p.UnrealizedPnL,
			Margin:        p.Margin,
		})
	}
	indJSON, err := json.MarshalIndent(indicators, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("序列化指标失败: %w", err)
	}
	posJSON, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("序列化持仓失败: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("**1. K线数据:**\n每行格式: 币种, 当前价格, 24h涨跌幅, 7日涨跌幅\n")
	sb.WriteString(klines.String())
	sb.WriteString("\n**2. 技术指标数据:**\n```json\n")
	sb.Write(indJSON)
	sb.WriteString("\n```\n\n**3. 当前持仓信息:**\n```json\n")
	sb.Write(posJSON)
	sb.WriteString("\n```\n\n**4. 账户总览信息:**\n")
	fmt.Fprintf(&sb, "- 初始资金: %s\n", format.USD(input.Account.InitialCapital))
	fmt.Fprintf(&sb, "- 当前总值: %s\n", format.USD(input.Portfolio.TotalValue))
	fmt.Fprintf(&sb, "- 可用现金: %s\n", format.USD(input.Portfolio.Cash))
	fmt.Fprintf(&sb, "- 总收益率: %s\n\n", format.SignedPercent(input.Account.TotalReturn))
	sb.WriteString(enhancedRequirements)
	return defaultSystemRole, sb.String(), nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
