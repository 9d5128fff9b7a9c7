package market

import (
	"context"
	"errors"
	"math"
	"testing"

	"aitrade/internal/types"
)

type fakeSource struct {
	name    string
	quotes  map[string]types.PriceQuote
	closes  []float64
	err     error
	asked   [][]string
	klineN  int
	tickerN int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Tickers(_ context.Context, coins []string) (map[string]types.PriceQuote, error) {
	f.tickerN++
	f.asked = append(f.asked, append([]string(nil), coins...))
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]types.PriceQuote{}
	for _, c := range coins {
		if q, ok := f.quotes[c]; ok {
			out[c] = q
		}
	}
	return out, nil
}

func (f *fakeSource) DailyCloses(_ context.Context, _ string, days int) ([]float64, error) {
	f.klineN++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.closes) > days {
		return f.closes[len(f.closes)-days:], nil
	}
	return f.closes, nil
}

func TestFallbackOnlyAsksForMissingCoins(t *testing.T) {
	primary := &fakeSource{name: "a", quotes: map[string]types.PriceQuote{"BTC": {Price: 100, Change24h: 1}}}
	secondary := &fakeSource{name: "b", quotes: map[string]types.PriceQuote{"ETH": {Price: 10}, "BTC": {Price: 999}}}
	svc := NewService(Options{}, primary, secondary)

	got := svc.GetCurrentPrices(context.Background(), []string{"eth", "BTC", "DOGE"})
	if got["BTC"].Price != 100 {
		t.Fatalf("primary price should win, got %v", got["BTC"])
	}
	if got["ETH"].Price != 10 {
		t.Fatalf("secondary should fill ETH, got %v", got["ETH"])
	}
	if q, ok := got["DOGE"]; !ok || q.Price != 0 {
		t.Fatalf("missing coin should be zero-filled, got %v ok=%v", q, ok)
	}
	if len(secondary.asked) != 1 || len(secondary.asked[0]) != 2 {
		t.Fatalf("secondary should only see missing coins, got %v", secondary.asked)
	}
}

func TestPricesNeverErrorWhenAllSourcesFail(t *testing.T) {
	svc := NewService(Options{}, &fakeSource{name: "a", err: errors.New("down")})
	got := svc.Prices(context.Background(), []string{"BTC"})
	if v, ok := got["BTC"]; !ok || v != 0 {
		t.Fatalf("expected zero price, got %v", got)
	}
}

func TestCompletePricesAreCached(t *testing.T) {
	src := &fakeSource{name: "a", quotes: map[string]types.PriceQuote{"BTC": {Price: 1}, "ETH": {Price: 2}}}
	svc := NewService(Options{}, src)
	svc.GetCurrentPrices(context.Background(), []string{"BTC", "ETH"})
	svc.GetCurrentPrices(context.Background(), []string{"ETH", "btc"})
	if src.tickerN != 1 {
		t.Fatalf("expected one upstream call, got %d", src.tickerN)
	}
}

func TestIncompletePricesAreNotCached(t *testing.T) {
	src := &fakeSource{name: "a", quotes: map[string]types.PriceQuote{"BTC": {Price: 1}}}
	svc := NewService(Options{}, src)
	svc.GetCurrentPrices(context.Background(), []string{"BTC", "ETH"})
	svc.GetCurrentPrices(context.Background(), []string{"BTC", "ETH"})
	if src.tickerN != 2 {
		t.Fatalf("partial result should be refetched, got %d calls", src.tickerN)
	}
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(100 + i)
	}
	return out
}

func TestComputeIndicators(t *testing.T) {
	closes := rising(15)
	ind, err := Compute(closes)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if ind.CurrentPrice != 114 {
		t.Fatalf("current price: %v", ind.CurrentPrice)
	}
	if math.Abs(ind.SMA7-111) > 1e-9 {
		t.Fatalf("sma7: %v", ind.SMA7)
	}
	if math.Abs(ind.SMA14-107.5) > 1e-9 {
		t.Fatalf("sma14: %v", ind.SMA14)
	}
	if ind.RSI14 < 99.9 {
		t.Fatalf("monotonic rise should give RSI≈100, got %v", ind.RSI14)
	}
	want := (114.0 - 107.0) / 107.0 * 100
	if math.Abs(ind.PriceChange7d-want) > 1e-9 {
		t.Fatalf("change7d: got %v want %v", ind.PriceChange7d, want)
	}
}

func TestComputeRejectsShortSeries(t *testing.T) {
	if _, err := Compute(rising(14)); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData, got %v", err)
	}
}

func TestIndicatorsFallBackAndCache(t *testing.T) {
	bad := &fakeSource{name: "a", err: errors.New("down")}
	good := &fakeSource{name: "b", closes: rising(30)}
	svc := NewService(Options{IndicatorDays: 14}, bad, good)
	ind, err := svc.GetTechnicalIndicators(context.Background(), "btc")
	if err != nil {
		t.Fatalf("indicators: %v", err)
	}
	if ind.CurrentPrice != 129 {
		t.Fatalf("unexpected current price %v", ind.CurrentPrice)
	}
	if _, err := svc.GetTechnicalIndicators(context.Background(), "BTC"); err != nil {
		t.Fatalf("cached indicators: %v", err)
	}
	if good.klineN != 1 {
		t.Fatalf("indicators should be cached, got %d fetches", good.klineN)
	}
}

func TestIndicatorsErrorWhenAllSourcesFail(t *testing.T) {
	svc := NewService(Options{}, &fakeSource{name: "a", err: errors.New("x")}, &fakeSource{name: "b", closes: rising(3)})
	if _, err := svc.GetTechnicalIndicators(context.Background(), "BTC"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSnapshotKeepsQuoteWithoutIndicators(t *testing.T) {
	src := &fakeSource{name: "a", quotes: map[string]types.PriceQuote{"BTC": {Price: 5}}, closes: rising(3)}
	svc := NewService(Options{}, src)
	snaps := svc.Snapshot(context.Background(), []string{"BTC"})
	if len(snaps) != 1 || snaps[0].Quote.Price != 5 || snaps[0].Indicators != nil {
		t.Fatalf("unexpected snapshot %+v", snaps)
	}
}
