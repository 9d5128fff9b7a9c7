package monitor

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"aitrade/internal/trader"
	"aitrade/internal/types"
)

type stubStore struct {
	pingErr error
	trades  []types.Trade
	history []types.AccountValue
	recent  int
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) ListModels(context.Context) ([]types.Model, error) {
	return []types.Model{{ID: 1}}, nil
}

func (s *stubStore) GetModel(_ context.Context, id int64) (*types.Model, error) {
	return &types.Model{ID: id, InitialCapital: 1000}, nil
}

func (s *stubStore) CountTradesSince(context.Context, time.Time) (int, error) { return s.recent, nil }

func (s *stubStore) GetTrades(context.Context, int64, int) ([]types.Trade, error) {
	return s.trades, nil
}

func (s *stubStore) GetAccountValueHistory(context.Context, int64, int) ([]types.AccountValue, error) {
	return s.history, nil
}

func TestAlertRules(t *testing.T) {
	m := New(&stubStore{}, NewMetrics())
	m.LogEvent(1, "trade_executed", map[string]any{"pnl": -1500.0, "leverage": 20})
	m.LogEvent(1, "trade_executed", map[string]any{"pnl": -999.0, "leverage": 15})
	m.LogEvent(2, "api_error", map[string]any{"error": "Authentication failed (code 50111)"})
	m.LogEvent(2, "api_error", map[string]any{"error": "timeout"})
	m.LogEvent(3, "risk_violation", map[string]any{"errors": []string{"Maximum positions limit reached (3)"}})
	m.LogEvent(3, "position_synced", map[string]any{"kind": "quantity_correct"})

	alerts := m.Alerts()
	var kinds []string
	for _, a := range alerts {
		kinds = append(kinds, a.Type)
	}
	want := "large_loss,high_leverage,auth_error,api_error,risk_violation"
	if strings.Join(kinds, ",") != want {
		t.Fatalf("alerts = %v, want %s", kinds, want)
	}
	if alerts[0].Severity != SeverityHigh || alerts[1].Severity != SeverityMedium {
		t.Fatalf("unexpected severities: %+v", alerts[:2])
	}
	if !strings.Contains(alerts[4].Message, "Maximum positions") {
		t.Fatalf("risk message: %s", alerts[4].Message)
	}
	if got := testutil.ToFloat64(m.metrics.alerts.WithLabelValues(AlertLargeLoss)); got != 1 {
		t.Fatalf("alert counter = %v", got)
	}
}

func TestAuthKindRaisesAuthAlert(t *testing.T) {
	m := New(&stubStore{}, nil)
	m.LogEvent(1, "api_error", map[string]any{"error": "okx 401", "kind": "authentication"})
	if a := m.Alerts(); len(a) != 1 || a[0].Type != AlertAuthError {
		t.Fatalf("expected auth alert, got %+v", a)
	}
}

func TestAlertRingBufferAndAcknowledge(t *testing.T) {
	m := New(&stubStore{}, nil)
	for i := 0; i < 130; i++ {
		m.LogEvent(int64(i), "api_error", map[string]any{"error": "boom"})
	}
	alerts := m.Alerts()
	if len(alerts) != maxAlerts || alerts[0].ModelID != 30 {
		t.Fatalf("expected last 100 alerts starting at 30, got %d starting at %d", len(alerts), alerts[0].ModelID)
	}
	alerts[0].Acknowledged = true
	if m.Alerts()[0].Acknowledged {
		t.Fatalf("Alerts must return a copy")
	}
	if err := m.Acknowledge(0); err != nil {
		t.Fatal(err)
	}
	if len(m.ActiveAlerts()) != maxAlerts-1 {
		t.Fatalf("acknowledged alert still active")
	}
	if err := m.Acknowledge(maxAlerts); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestClearOlderThan(t *testing.T) {
	m := New(&stubStore{}, nil)
	base := time.Now()
	m.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	m.LogEvent(1, "risk_violation", nil)
	m.now = func() time.Time { return base }
	m.LogEvent(1, "risk_violation", nil)
	if n := m.ClearOlderThan(7 * 24 * time.Hour); n != 1 || len(m.Alerts()) != 1 {
		t.Fatalf("expected 1 removed, got %d (%d left)", n, len(m.Alerts()))
	}
}

func TestHealth(t *testing.T) {
	store := &stubStore{recent: 3}
	m := New(store, nil)
	if h := m.Health(context.Background()); h.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", h)
	}
	m.LogEvent(1, "risk_violation", map[string]any{"message": "drawdown"})
	if h := m.Health(context.Background()); h.Status != StatusWarning || h.Checks["alerts"].Status != StatusWarning {
		t.Fatalf("expected warning from critical alert, got %+v", h)
	}
	store.pingErr = errors.New("disk I/O error")
	h := m.Health(context.Background())
	if h.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", h)
	}
	if _, ok := h.Checks["trading_activity"]; ok {
		t.Fatalf("activity check should be skipped when the database is down")
	}
}

func TestPerformanceMetrics(t *testing.T) {
	store := &stubStore{
		// 倒序：最新在前
		history: []types.AccountValue{{TotalValue: 1100}, {TotalValue: 900}, {TotalValue: 1200}, {TotalValue: 1000}},
		trades:  []types.Trade{{PnL: 100}, {PnL: 50}, {PnL: -30}, {PnL: 0}},
	}
	m := New(store, nil)
	p, ok, err := m.PerformanceMetrics(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("metrics: %v %v", ok, err)
	}
	if math.Abs(p.TotalReturn-10) > 1e-9 {
		t.Fatalf("total return = %v", p.TotalReturn)
	}
	if math.Abs(p.MaxDrawdown-25) > 1e-9 {
		t.Fatalf("max drawdown = %v, want 25", p.MaxDrawdown)
	}
	if p.TotalTrades != 4 || p.WinningTrades != 2 || p.LosingTrades != 1 || p.WinRate != 50 {
		t.Fatalf("trade stats: %+v", p)
	}
	if p.AvgWin != 75 || p.AvgLoss != -30 || p.ProfitFactor != 2.5 {
		t.Fatalf("win/loss stats: %+v", p)
	}

	empty := New(&stubStore{}, nil)
	if _, ok, _ := empty.PerformanceMetrics(context.Background(), 1); ok {
		t.Fatalf("expected no metrics without history")
	}
}

func TestMetricsObserveCycle(t *testing.T) {
	mt := NewMetrics()
	mt.ObserveRequest("/api/v5/trade/order", "ok")
	mt.ObserveRetry("http_429")
	mt.ObserveCycle(trader.Result{
		ModelID: 4,
		Success: true,
		Sync:    []types.SyncAction{{Kind: types.SyncQuantityCorrect, Coin: "BTC"}},
		Executions: []trader.Execution{
			{Coin: "BTC", Signal: types.SignalEnterLong, Status: trader.StatusFilled},
			{Coin: "ETH", Signal: types.SignalHold, Status: trader.StatusHold},
		},
		Portfolio: &types.Portfolio{TotalValue: 1234},
	})
	if got := testutil.ToFloat64(mt.cycles.WithLabelValues("success")); got != 1 {
		t.Fatalf("cycles = %v", got)
	}
	if got := testutil.ToFloat64(mt.orders.WithLabelValues(string(types.SignalEnterLong), trader.StatusFilled)); got != 1 {
		t.Fatalf("orders = %v", got)
	}
	if got := testutil.ToFloat64(mt.equity.WithLabelValues("4")); got != 1234 {
		t.Fatalf("equity = %v", got)
	}
	if got := testutil.ToFloat64(mt.requests.WithLabelValues("/api/v5/trade/order", "ok")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
	if got := testutil.CollectAndCount(mt.orders); got != 1 {
		t.Fatalf("hold should not be counted as an order, got %d series", got)
	}
}

func TestAPIErrorAlertTruncatesDetail(t *testing.T) {
	m := New(nil, nil)
	m.LogEvent(1, "api_error", map[string]any{"error": strings.Repeat("x", 500)})
	alerts := m.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d", len(alerts))
	}
	if !strings.HasSuffix(alerts[0].Message, "...") || len(alerts[0].Message) > 260 {
		t.Fatalf("message not truncated: %d bytes", len(alerts[0].Message))
	}
}
