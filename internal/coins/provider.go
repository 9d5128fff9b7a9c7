package coins

import (
	"context"
	"errors"
	"strings"
)

const (
	swapSuffix    = "-USDT-SWAP"
	binanceQuote  = "USDT"
	coinSeparator = ","
)

// SymbolProvider 币种来源接口
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// 默认实现：静态列表（来自 bot 的 trading_coins 配置）
type DefaultSymbolProvider struct{ coins []string }

func NewDefaultProvider(coins []string) *DefaultSymbolProvider {
	return &DefaultSymbolProvider{coins: coins}
}

// FromCSV 解析 "BTC,ETH,SOL" 形式的配置。
func FromCSV(raw string) *DefaultSymbolProvider {
	return NewDefaultProvider(strings.Split(raw, coinSeparator))
}

func (p *DefaultSymbolProvider) Name() string { return "default" }

func (p *DefaultSymbolProvider) List(ctx context.Context) ([]string, error) {
	if len(p.coins) == 0 {
		return nil, errors.New("默认币种列表为空")
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(p.coins))
	for _, s := range p.coins {
		s = Normalize(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("标准化后列表为空")
	}
	return out, nil
}

// Normalize 统一为大写币种代码，兼容 BTCUSDT / BTC-USDT-SWAP 写法。
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, swapSuffix) {
		return strings.TrimSuffix(s, swapSuffix)
	}
	if strings.HasSuffix(s, "-USD-SWAP") {
		return strings.TrimSuffix(s, "-USD-SWAP")
	}
	if strings.HasSuffix(s, "-"+binanceQuote) {
		return strings.TrimSuffix(s, "-"+binanceQuote)
	}
	if strings.HasSuffix(s, binanceQuote) && len(s) > len(binanceQuote) {
		return strings.TrimSuffix(s, binanceQuote)
	}
	return s
}

// InstrumentID 币种对应的 OKX 永续合约 instId。
func InstrumentID(coin string) string {
	coin = Normalize(coin)
	if coin == "" {
		return ""
	}
	return coin + swapSuffix
}

// CoinFromInstrument 由 instId 反推币种。
func CoinFromInstrument(instID string) string {
	return Normalize(instID)
}

// BinanceSymbol 币种对应的币安现货交易对。
func BinanceSymbol(coin string) string {
	coin = Normalize(coin)
	if coin == "" {
		return ""
	}
	return coin + binanceQuote
}
