package decision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/spf13/cast"

	"aitrade/internal/coins"
	"aitrade/internal/logger"
	"aitrade/internal/pkg/jsonutil"
	"aitrade/internal/types"
)

// ErrNoDecisions 回复中找不到任何可用的决策。
var ErrNoDecisions = errors.New("decision: no usable decisions in response")

// rawIntent 模型输出的宽松结构，数字字段可能是字符串。
type rawIntent struct {
	Signal        string `json:"signal"`
	Quantity      any    `json:"quantity"`
	Leverage      any    `json:"leverage"`
	ProfitTarget  any    `json:"profit_target"`
	StopLoss      any    `json:"stop_loss"`
	Confidence    any    `json:"confidence"`
	Justification string `json:"justification"`
}

// intentFields 转换后的数值，用 validator 做边界校验。
type intentFields struct {
	Quantity     float64 `validate:"gte=0"`
	Leverage     int     `validate:"gte=1,lte=125"`
	ProfitTarget float64 `validate:"gte=0"`
	StopLoss     float64 `validate:"gte=0"`
	Confidence   float64 `validate:"gte=0,lte=1"`
}

var intentValidator = validator.New()

// ParseIntents 把模型回复解析为宇宙内每个币种的意图。
// 支持 {"BTC":{...}} 与 {"trading_decisions":{"BTC":{...}}} 两种形态；
// 单个条目非法时该币种按 hold 处理，宇宙外的币种忽略，缺失的币种补 hold。
func ParseIntents(raw string, universe []string) (map[string]types.OrderIntent, error) {
	body := jsonutil.ExtractObject(raw)
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, fmt.Errorf("decision: malformed json: %w", err)
	}
	if nested, ok := top["trading_decisions"]; ok {
		top = nil
		if err := json.Unmarshal(nested, &top); err != nil {
			return nil, fmt.Errorf("decision: malformed trading_decisions: %w", err)
		}
	}

	allowed := make(map[string]struct{}, len(universe))
	for _, c := range universe {
		allowed[c] = struct{}{}
	}
	out := make(map[string]types.OrderIntent, len(universe))
	for key, msg := range top {
		coin := coins.Normalize(key)
		if _, ok := allowed[coin]; !ok {
			continue
		}
		var ri rawIntent
		if err := json.Unmarshal(msg, &ri); err != nil {
			logger.Warnf("[decision] %s 条目无法解析，按 hold 处理: %v", coin, err)
			out[coin] = types.HoldIntent(coin, "malformed decision")
			continue
		}
		intent, err := toIntent(coin, ri)
		if err != nil {
			logger.Warnf("[decision] %s 条目校验失败，按 hold 处理: %v", coin, err)
			out[coin] = types.HoldIntent(coin, "invalid decision: "+err.Error())
			continue
		}
		out[coin] = intent
	}
	if len(out) == 0 {
		return nil, ErrNoDecisions
	}
	for _, c := range universe {
		if _, ok := out[c]; !ok {
			out[c] = types.HoldIntent(c, "no decision returned")
		}
	}
	return out, nil
}

func toIntent(coin string, ri rawIntent) (types.OrderIntent, error) {
	sig, err := types.ParseSignal(ri.Signal)
	if err != nil {
		return types.OrderIntent{}, err
	}
	f := intentFields{
		Quantity:     cast.ToFloat64(ri.Quantity),
		Leverage:     int(cast.ToFloat64(ri.Leverage) + 0.5),
		ProfitTarget: cast.ToFloat64(ri.ProfitTarget),
		StopLoss:     cast.ToFloat64(ri.StopLoss),
		Confidence:   cast.ToFloat64(ri.Confidence),
	}
	if f.Leverage < 1 {
		f.Leverage = 1
	}
	// 部分模型把信心度写成百分数
	if f.Confidence > 1 && f.Confidence <= 100 {
		f.Confidence /= 100
	}
	if err := intentValidator.Struct(f); err != nil {
		return types.OrderIntent{}, err
	}
	if sig.IsEntry() && f.Quantity <= 0 {
		return types.OrderIntent{}, fmt.Errorf("%s requires quantity > 0", sig)
	}
	if sig == types.SignalHold {
		f.Quantity = 0
	}
	return types.OrderIntent{
		Coin:         coin,
		Signal:       sig,
		Quantity:     f.Quantity,
		Leverage:     f.Leverage,
		ProfitTarget: f.ProfitTarget,
		StopLoss:     f.StopLoss,
		Confidence:   f.Confidence,
		Rationale:    strings.TrimSpace(ri.Justification),
	}, nil
}
