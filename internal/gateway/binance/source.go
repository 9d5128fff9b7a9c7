// Package binance 币安现货行情源：24h ticker 与日线 K 线。
package binance

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/spf13/cast"

	"aitrade/internal/coins"
	"aitrade/internal/types"
)

// Source 只读公共行情，不需要密钥。
type Source struct {
	client *binance.Client
}

// NewSource baseURL 为空时使用库默认地址。
func NewSource(baseURL string) *Source {
	client := binance.NewClient("", "")
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		client.BaseURL = u
	}
	return &Source{client: client}
}

func (s *Source) Name() string { return "binance" }

// Tickers 批量获取 24h 行情，返回 coin → 报价；未上架的币种不出现在结果中。
func (s *Source) Tickers(ctx context.Context, list []string) (map[string]types.PriceQuote, error) {
	symbols := make([]string, 0, len(list))
	bySymbol := make(map[string]string, len(list))
	for _, coin := range list {
		sym := coins.BinanceSymbol(coin)
		if sym == "" {
			continue
		}
		symbols = append(symbols, sym)
		bySymbol[sym] = coins.Normalize(coin)
	}
	if len(symbols) == 0 {
		return map[string]types.PriceQuote{}, nil
	}
	stats, err := s.client.NewListPriceChangeStatsService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 24h ticker 失败: %w", err)
	}
	out := make(map[string]types.PriceQuote, len(stats))
	for _, st := range stats {
		coin, ok := bySymbol[st.Symbol]
		if !ok {
			continue
		}
		price := cast.ToFloat64(st.LastPrice)
		if price <= 0 {
			continue
		}
		out[coin] = types.PriceQuote{Price: price, Change24h: cast.ToFloat64(st.PriceChangePercent)}
	}
	return out, nil
}

// DailyCloses 最近 days 根日线收盘价，时间升序。
func (s *Source) DailyCloses(ctx context.Context, coin string, days int) ([]float64, error) {
	sym := coins.BinanceSymbol(coin)
	if sym == "" {
		return nil, fmt.Errorf("非法币种: %q", coin)
	}
	klines, err := s.client.NewKlinesService().Symbol(sym).Interval("1d").Limit(days).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s 失败: %w", sym, err)
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		closes = append(closes, cast.ToFloat64(k.Close))
	}
	return closes, nil
}
