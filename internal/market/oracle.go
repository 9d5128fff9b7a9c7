// Package market 价格与技术指标来源：按顺序回退多个上游，缺失的币种补零。
package market

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"aitrade/internal/coins"
	"aitrade/internal/logger"
	"aitrade/internal/pkg/cache"
	"aitrade/internal/types"
)

// Source 单个行情上游。
type Source interface {
	Name() string
	Tickers(ctx context.Context, coins []string) (map[string]types.PriceQuote, error)
	DailyCloses(ctx context.Context, coin string, days int) ([]float64, error)
}

// Options 行情服务参数。
type Options struct {
	PriceTTL      time.Duration
	IndicatorTTL  time.Duration
	IndicatorDays int
}

// Service 价格/指标预言机。
type Service struct {
	sources    []Source
	prices     *cache.Cache[string, map[string]types.PriceQuote]
	indicators *cache.Cache[string, types.Indicators]
	days       int
}

func NewService(opts Options, sources ...Source) *Service {
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = 30 * time.Second
	}
	if opts.IndicatorTTL <= 0 {
		opts.IndicatorTTL = 10 * time.Minute
	}
	if opts.IndicatorDays < minCloses {
		opts.IndicatorDays = minCloses
	}
	return &Service{
		sources:    sources,
		prices:     cache.New[string, map[string]types.PriceQuote](opts.PriceTTL),
		indicators: cache.New[string, types.Indicators](opts.IndicatorTTL),
		days:       opts.IndicatorDays,
	}
}

// GetCurrentPrices 依次询问各上游，只向后一个上游请求仍缺失的币种；全部失败时返回零值条目，不返回错误。
func (s *Service) GetCurrentPrices(ctx context.Context, list []string) map[string]types.PriceQuote {
	wanted := normalizeList(list)
	key := strings.Join(wanted, ",")
	if cached, ok := s.prices.Get(key); ok {
		return copyQuotes(cached)
	}
	out := make(map[string]types.PriceQuote, len(wanted))
	missing := wanted
	for _, src := range s.sources {
		if len(missing) == 0 {
			break
		}
		quotes, err := src.Tickers(ctx, missing)
		if err != nil {
			logger.Warnf("[market] %s 行情获取失败，尝试下一个来源: %v", src.Name(), err)
			continue
		}
		for coin, q := range quotes {
			if q.Price > 0 {
				out[coin] = q
			}
		}
		missing = missingCoins(wanted, out)
	}
	complete := len(missing) == 0
	for _, coin := range missing {
		out[coin] = types.PriceQuote{}
	}
	if !complete {
		logger.Warnf("[market] 以下币种无可用价格，按 0 处理: %v", missing)
	}
	if complete {
		s.prices.Set(key, copyQuotes(out))
	}
	return out
}

// Prices 仅返回价格。
func (s *Service) Prices(ctx context.Context, list []string) map[string]float64 {
	quotes := s.GetCurrentPrices(ctx, list)
	out := make(map[string]float64, len(quotes))
	for coin, q := range quotes {
		out[coin] = q.Price
	}
	return out
}

// GetTechnicalIndicators 基于日线收盘价计算指标；所有上游失败时返回合并错误。
func (s *Service) GetTechnicalIndicators(ctx context.Context, coin string) (types.Indicators, error) {
	coin = coins.Normalize(coin)
	if ind, ok := s.indicators.Get(coin); ok {
		return ind, nil
	}
	var errs error
	for _, src := range s.sources {
		closes, err := src.DailyCloses(ctx, coin, s.days+1)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ind, err := Compute(closes)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.indicators.Set(coin, ind)
		return ind, nil
	}
	if errs == nil {
		errs = ErrNotEnoughData
	}
	return types.Indicators{}, errs
}

// Snapshot 组装决策上下文用的行情；指标缺失时保留报价。
func (s *Service) Snapshot(ctx context.Context, list []string) []types.MarketSnapshot {
	quotes := s.GetCurrentPrices(ctx, list)
	out := make([]types.MarketSnapshot, 0, len(quotes))
	for _, coin := range normalizeList(list) {
		snap := types.MarketSnapshot{Coin: coin, Quote: quotes[coin]}
		if ind, err := s.GetTechnicalIndicators(ctx, coin); err == nil {
			snap.Indicators = &ind
		} else {
			logger.Debugf("[market] %s 指标不可用: %v", coin, err)
		}
		out = append(out, snap)
	}
	return out
}

func normalizeList(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, c := range list {
		c = coins.Normalize(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func missingCoins(wanted []string, have map[string]types.PriceQuote) []string {
	var out []string
	for _, c := range wanted {
		if _, ok := have[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func copyQuotes(in map[string]types.PriceQuote) map[string]types.PriceQuote {
	out := make(map[string]types.PriceQuote, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
