package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

const pathInstruments = "/api/v5/public/instruments"

// InstrumentRules 合约下单约束。
type InstrumentRules struct {
	InstID        string
	LotSize       float64
	MinSize       float64
	ContractValue float64
	TickSize      float64
	MaxLeverage   int
}

type instrumentRow struct {
	InstID string `json:"instId"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	TickSz string `json:"tickSz"`
	Lever  string `json:"lever"`
}

// GetInstrumentRules 读取永续合约的 lot/min/tick 规则；规则极少变化，长期缓存。
func (c *Client) GetInstrumentRules(ctx context.Context, instID string) (InstrumentRules, error) {
	if rules, ok := c.rules.Get(instID); ok {
		return rules, nil
	}
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instID)
	var rows []instrumentRow
	if err := c.pipe.Do(ctx, http.MethodGet, pathInstruments, q, nil, &rows); err != nil {
		return InstrumentRules{}, err
	}
	for _, row := range rows {
		if row.InstID != instID {
			continue
		}
		rules := InstrumentRules{
			InstID:        row.InstID,
			LotSize:       cast.ToFloat64(row.LotSz),
			MinSize:       cast.ToFloat64(row.MinSz),
			ContractValue: cast.ToFloat64(row.CtVal),
			TickSize:      cast.ToFloat64(row.TickSz),
			MaxLeverage:   cast.ToInt(cast.ToFloat64(row.Lever)),
		}
		c.rules.Set(instID, rules)
		return rules, nil
	}
	return InstrumentRules{}, fmt.Errorf("okx 未找到合约 %s", instID)
}

// NormalizeSize 把数量抬到最小下单量并四舍五入到 lot 的整数倍；
// changed=true 表示提交值与请求值不同。
func NormalizeSize(rules InstrumentRules, qty float64) (float64, bool) {
	d, changed := normalizeSize(rules, qty)
	return d.InexactFloat64(), changed
}

func normalizeSize(rules InstrumentRules, qty float64) (decimal.Decimal, bool) {
	requested := decimal.NewFromFloat(qty)
	if rules.LotSize <= 0 {
		return requested, false
	}
	lot := decimal.NewFromFloat(rules.LotSize)
	minSz := decimal.NewFromFloat(rules.MinSize)

	d := requested
	if d.LessThan(minSz) {
		d = minSz
	}
	d = d.Div(lot).Round(0).Mul(lot)
	if d.LessThan(minSz) {
		d = minSz.Div(lot).Ceil().Mul(lot)
	}
	return d, !d.Equal(requested)
}
