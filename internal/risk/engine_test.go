package risk

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"aitrade/internal/types"
)

type fakeHistory struct {
	trades []types.Trade
	values []types.AccountValue
}

func (f *fakeHistory) GetTrades(context.Context, int64, int) ([]types.Trade, error) {
	return f.trades, nil
}

func (f *fakeHistory) GetAccountValueHistory(context.Context, int64, int) ([]types.AccountValue, error) {
	return f.values, nil
}

func defaultLimits() Limits {
	return Limits{
		MaxPositions:    3,
		MaxRiskPerTrade: 0.05,
		MaxTotalRisk:    0.15,
		MaxLeverage:     20,
		MinOrderUSD:     10,
		MaxDailyTrades:  10,
		MaxDrawdown:     0.20,
	}
}

func newTestManager(h *fakeHistory) *Manager {
	m := NewManager(defaultLimits(), h)
	m.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	return m
}

func hasError(v Validation, substr string) bool {
	for _, e := range v.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestPositionLimitRejectsFourthPosition(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	pf := types.Portfolio{TotalValue: 100000, Positions: []types.Position{
		{Coin: "BTC", Side: types.SideLong, Quantity: 0.01, AvgPrice: 100, Leverage: 10},
		{Coin: "ETH", Side: types.SideLong, Quantity: 0.01, AvgPrice: 100, Leverage: 10},
		{Coin: "SOL", Side: types.SideLong, Quantity: 0.01, AvgPrice: 100, Leverage: 10},
	}}
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "XRP", Side: types.SideLong, Quantity: 1, Leverage: 5, Price: 50}, pf)
	if v.Valid || !hasError(v, "Maximum positions") {
		t.Fatalf("expected position-limit error, got %+v", v)
	}
	if v.AdjustedQuantity != 1 {
		t.Fatalf("quantity must be unchanged, got %v", v.AdjustedQuantity)
	}
}

func TestLeverageIsClampedNotRejected(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	pf := types.Portfolio{TotalValue: 10000}
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 1, Leverage: 50, Price: 100}, pf)
	if !v.Valid || v.AdjustedLeverage != 20 || len(v.Warnings) == 0 {
		t.Fatalf("expected clamp warning, got %+v", v)
	}
}

func TestMinimumNotional(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 0.01, Leverage: 1, Price: 100}, types.Portfolio{TotalValue: 10000})
	if v.Valid || !hasError(v, "too small") {
		t.Fatalf("expected min notional error, got %+v", v)
	}
}

func TestPerTradeRiskShrinksQuantity(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	// margin = 10*1000/5 = 2000 = 20% of 10000 > 5%
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 10, Leverage: 5, Price: 1000}, types.Portfolio{TotalValue: 10000})
	if !v.Valid {
		t.Fatalf("shrunk order should stay valid: %+v", v)
	}
	if math.Abs(v.AdjustedQuantity-2.5) > 1e-9 {
		t.Fatalf("expected 2.5, got %v", v.AdjustedQuantity)
	}
}

func TestPerTradeRiskUsesClampedLeverageAndRechecksMinimum(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	// 100x 被收敛为 20x，数量按 20x 重算：100*0.05*20/1000 = 0.1 → $100
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 10, Leverage: 100, Price: 1000}, types.Portfolio{TotalValue: 100})
	if v.AdjustedLeverage != 20 || math.Abs(v.AdjustedQuantity-0.1) > 1e-9 {
		t.Fatalf("unexpected adjustment %+v", v)
	}
	// 账户太小：缩减后低于最小下单额
	v = m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 1, Leverage: 1, Price: 100}, types.Portfolio{TotalValue: 100})
	if v.Valid || !hasError(v, "Adjusted order size too small") {
		t.Fatalf("expected post-shrink minimum error, got %+v", v)
	}
}

func TestRiskAdjustmentNeverIncreasesExposure(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		account := 100 + rng.Float64()*1e6
		price := 0.001 + rng.Float64()*70000
		lev := 1 + rng.Intn(40)
		qty := rng.Float64() * 1e4
		if qty == 0 {
			continue
		}
		v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "X", Quantity: qty, Leverage: lev, Price: price}, types.Portfolio{TotalValue: account})
		limit := account * m.limits.MaxRiskPerTrade
		exposure := v.AdjustedQuantity * price / float64(v.AdjustedLeverage)
		if exposure > limit*(1+1e-12) && v.AdjustedQuantity != qty {
			t.Fatalf("exposure %v exceeds limit %v (account=%v price=%v lev=%d qty=%v)", exposure, limit, account, price, lev, qty)
		}
		if v.AdjustedQuantity > qty {
			t.Fatalf("adjusted quantity grew: %v > %v", v.AdjustedQuantity, qty)
		}
	}
}

func TestTotalRiskCeiling(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	pf := types.Portfolio{TotalValue: 1000, Positions: []types.Position{
		{Coin: "ETH", Side: types.SideLong, Quantity: 1, AvgPrice: 2000, Leverage: 10},
	}}
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 1, Leverage: 10, Price: 20}, pf)
	if v.Valid || !hasError(v, "Total portfolio risk") {
		t.Fatalf("expected total risk error, got %+v", v)
	}
}

func TestDailyTradeCountStopsAtOlderRecord(t *testing.T) {
	today := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	var trades []types.Trade
	for i := 0; i < 10; i++ {
		trades = append(trades, types.Trade{Timestamp: today.Add(-time.Duration(i) * time.Minute)})
	}
	h := &fakeHistory{trades: trades}
	m := newTestManager(h)
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 1, Leverage: 1, Price: 100}, types.Portfolio{TotalValue: 100000})
	if v.Valid || !hasError(v, "Daily trade limit") {
		t.Fatalf("expected daily limit error, got %+v", v)
	}

	// 第二条已是昨天，之后即便有今天的记录也不再计数
	h.trades = []types.Trade{{Timestamp: today}, {Timestamp: today.AddDate(0, 0, -1)}}
	for i := 0; i < 10; i++ {
		h.trades = append(h.trades, types.Trade{Timestamp: today})
	}
	if n := m.dailyTrades(context.Background(), 1); n != 1 {
		t.Fatalf("expected scan to stop at first older record, got %d", n)
	}
}

func TestDrawdownFromPeak(t *testing.T) {
	h := &fakeHistory{values: []types.AccountValue{{TotalValue: 12000}, {TotalValue: 15000}, {TotalValue: 11000}}}
	m := newTestManager(h)
	v := m.ValidateOrder(context.Background(), OrderRequest{Coin: "BTC", Quantity: 0.1, Leverage: 10, Price: 1000, InitialCapital: 10000}, types.Portfolio{TotalValue: 11000})
	if v.Valid || !hasError(v, "drawdown") {
		t.Fatalf("expected drawdown error (26.7%%), got %+v", v)
	}
	if dd := m.drawdown(context.Background(), 1, 10000, 16000); dd != 0 {
		t.Fatalf("new high should give zero drawdown, got %v", dd)
	}
	if dd := (&Manager{history: &fakeHistory{}}).drawdown(context.Background(), 1, 10000, 5000); dd != 0 {
		t.Fatalf("no history means no drawdown, got %v", dd)
	}
}

func TestMetricsStatus(t *testing.T) {
	m := newTestManager(&fakeHistory{})
	pf := types.Portfolio{TotalValue: 1000, Positions: []types.Position{{Coin: "ETH", Side: types.SideLong, Quantity: 1, AvgPrice: 2000, Leverage: 10}}}
	got := m.Metrics(context.Background(), 1, 1000, pf)
	if got.Status != StatusHighRisk || math.Abs(got.TotalRisk-0.2) > 1e-9 || got.Positions != 1 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	if (Noop{}).Metrics(context.Background(), 1, 1000, pf).Status != StatusDisabled {
		t.Fatalf("noop status")
	}
}

func TestNoopAcceptsEverything(t *testing.T) {
	v := Noop{}.ValidateOrder(context.Background(), OrderRequest{Quantity: 5, Leverage: 0}, types.Portfolio{})
	if !v.Valid || v.AdjustedQuantity != 5 || v.AdjustedLeverage != 1 {
		t.Fatalf("unexpected noop validation %+v", v)
	}
}
