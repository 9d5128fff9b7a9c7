package database

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"aitrade/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "bot.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addTestModel(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.AddModel(context.Background(), types.Model{Name: "alpha", ModelName: "gpt-4o", InitialCapital: 1000})
	if err != nil {
		t.Fatalf("add model: %v", err)
	}
	return id
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestModelCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)

	m, err := s.GetModel(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.TradingFrequency != types.DefaultTradingFrequency || m.TradingCoins != types.DefaultTradingCoins || m.StopLossPct != 5 {
		t.Fatalf("defaults not applied: %+v", m)
	}
	m.OKX = types.OKXCredentials{APIKey: "k", SecretKey: "s", Passphrase: "p", Sandbox: true}
	m.StopLossEnabled = true
	if err := s.UpdateModel(ctx, *m); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetModel(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasExchange() || !got.OKX.Sandbox || !got.StopLossEnabled {
		t.Fatalf("update lost fields: %+v", got)
	}
	list, err := s.ListModels(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if _, err := s.GetModel(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteModelCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)
	if err := s.UpdatePosition(ctx, id, types.Position{Coin: "BTC", Side: types.SideLong, Quantity: 1, AvgPrice: 100, Leverage: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddTrade(ctx, types.Trade{ModelID: id, Coin: "BTC", Signal: types.SignalEnterLong, Quantity: 1, Price: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConversation(ctx, types.Conversation{ModelID: id, UserPrompt: "u", AIResponse: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAccountValue(ctx, types.AccountValue{ModelID: id, TotalValue: 1000, Cash: 950}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteModel(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	positions, _ := s.ListPositions(ctx, id)
	trades, _ := s.GetTrades(ctx, id, 10)
	convs, _ := s.GetConversations(ctx, id, 10)
	values, _ := s.GetAccountValueHistory(ctx, id, 10)
	if len(positions)+len(trades)+len(convs)+len(values) != 0 {
		t.Fatalf("cascade incomplete: %d %d %d %d", len(positions), len(trades), len(convs), len(values))
	}
}

func TestUpdatePositionUpsertsAndZeroDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)
	pos := types.Position{Coin: "eth", Side: types.SideShort, Quantity: 2, AvgPrice: 3000, Leverage: 5}
	if err := s.UpdatePosition(ctx, id, pos); err != nil {
		t.Fatal(err)
	}
	pos.Quantity = 3
	if err := s.UpdatePosition(ctx, id, pos); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListPositions(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Coin != "ETH" || list[0].Quantity != 3 || list[0].Side != types.SideShort {
		t.Fatalf("upsert failed: %+v", list)
	}
	pos.Quantity = 0
	if err := s.UpdatePosition(ctx, id, pos); err != nil {
		t.Fatal(err)
	}
	if list, _ := s.ListPositions(ctx, id); len(list) != 0 {
		t.Fatalf("zero quantity must not be persisted: %+v", list)
	}
	if err := s.UpdatePosition(ctx, id, types.Position{Coin: "BTC", Side: "up", Quantity: 1}); err == nil {
		t.Fatalf("invalid side should fail")
	}
}

func TestSimulatedPortfolio(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)
	_ = s.UpdatePosition(ctx, id, types.Position{Coin: "BTC", Side: types.SideLong, Quantity: 0.1, AvgPrice: 1000, Leverage: 2})
	_ = s.UpdatePosition(ctx, id, types.Position{Coin: "ETH", Side: types.SideShort, Quantity: 1, AvgPrice: 200, Leverage: 1})
	if _, err := s.AddTrade(ctx, types.Trade{ModelID: id, Coin: "SOL", Signal: types.SignalClose, Quantity: 1, Price: 10, PnL: 25}); err != nil {
		t.Fatal(err)
	}
	pf, err := s.GetPortfolio(ctx, id, map[string]float64{"BTC": 1100, "ETH": 180}, nil)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	// margin = 100/2 + 200/1 = 250; unrealized = 10 + 20 = 30
	if !almostEqual(pf.MarginUsed, 250) || !almostEqual(pf.UnrealizedPnL, 30) || !almostEqual(pf.RealizedPnL, 25) {
		t.Fatalf("unexpected pnl figures %+v", pf)
	}
	if !almostEqual(pf.Cash, 1000+25-250) || !almostEqual(pf.TotalValue, 1000+25+30) || !almostEqual(pf.PositionsValue, 300) {
		t.Fatalf("unexpected totals %+v", pf)
	}
	if pf.Source != types.PortfolioSourceLocal || len(pf.Positions) != 2 {
		t.Fatalf("positions %+v", pf.Positions)
	}
}

func TestExchangePortfolioPrefersExchangeEquity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)
	account := &types.ExchangeAccount{
		Balance: types.Balance{TotalEquity: 1200, Available: 900},
		Positions: []types.Position{
			{Coin: "BTC", Side: types.SideLong, Quantity: 2, AvgPrice: 100, Leverage: 2, UnrealizedPnL: 40, Margin: 100},
		},
	}
	pf, err := s.GetPortfolio(ctx, id, map[string]float64{"BTC": 120}, account)
	if err != nil {
		t.Fatal(err)
	}
	if pf.TotalValue != 1200 || pf.Cash != 900 || pf.UnrealizedPnL != 40 || pf.RealizedPnL != 160 || pf.MarginUsed != 100 {
		t.Fatalf("exchange overlay wrong: %+v", pf)
	}
	if pf.Positions[0].CurrentPrice != 120 || pf.Source != types.PortfolioSourceExchange {
		t.Fatalf("positions %+v", pf.Positions)
	}
}

func TestTradesAndHistoryOrderedNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := addTestModel(t, s)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if _, err := s.AddTrade(ctx, types.Trade{ModelID: id, Coin: "BTC", Signal: types.SignalEnterLong, Quantity: float64(i + 1), Price: 1, Timestamp: ts, OrderID: "o"}); err != nil {
			t.Fatal(err)
		}
		if err := s.RecordAccountValue(ctx, types.AccountValue{ModelID: id, TotalValue: float64(1000 + i), Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
	}
	trades, err := s.GetTrades(ctx, id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].Quantity != 3 || trades[1].Quantity != 2 || trades[0].OrderID != "o" {
		t.Fatalf("trades order %+v", trades)
	}
	values, err := s.GetAccountValueHistory(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 || values[0].TotalValue != 1002 {
		t.Fatalf("history %+v", values)
	}
	n, err := s.CountTradesSince(ctx, base.Add(90*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("count since: %d %v", n, err)
	}
	if _, err := s.AddTrade(ctx, types.Trade{Coin: "BTC"}); err == nil {
		t.Fatalf("missing model id should fail")
	}
}

func TestPingAndClose(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("ping after close should fail")
	}
}
