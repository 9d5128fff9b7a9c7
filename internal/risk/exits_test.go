package risk

import (
	"testing"

	"aitrade/internal/types"
)

func longAt(coin string, entry float64) types.Position {
	return types.Position{Coin: coin, Side: types.SideLong, Quantity: 1, AvgPrice: entry, Leverage: 5}
}

func TestStopLossBoundaryIsInclusive(t *testing.T) {
	rules := ExitRules{StopLossEnabled: true, StopLossPct: 5, TakeProfitEnabled: true, TakeProfitPct: 15}
	pf := types.Portfolio{Positions: []types.Position{longAt("BTC", 100)}}
	m := NewManager(defaultLimits(), nil)

	for _, price := range []float64{94, 95} {
		got := m.CheckProtectiveExits(pf, map[string]float64{"BTC": price}, rules, nil)
		if len(got) != 1 || got[0].Kind != ExitStopLoss || got[0].Coin != "BTC" {
			t.Fatalf("price %v: expected stop_loss, got %+v", price, got)
		}
	}
	if got := m.CheckProtectiveExits(pf, map[string]float64{"BTC": 95.01}, rules, nil); len(got) != 0 {
		t.Fatalf("above threshold should not trigger: %+v", got)
	}
}

func TestExitBoundaryWithFractionalPrices(t *testing.T) {
	rules := ExitRules{StopLossEnabled: true, StopLossPct: 5, TakeProfitEnabled: true, TakeProfitPct: 15}
	cases := []struct {
		side  types.Side
		entry float64
		price float64
		want  ExitKind
	}{
		{types.SideLong, 0.7, 0.665, ExitStopLoss},
		{types.SideLong, 2.3, 2.185, ExitStopLoss},
		{types.SideLong, 0.3, 0.345, ExitTakeProfit},
		{types.SideLong, 1.1, 1.265, ExitTakeProfit},
		{types.SideShort, 0.7, 0.735, ExitStopLoss},
		{types.SideShort, 0.3, 0.255, ExitTakeProfit},
		{types.SideShort, 2.3, 1.955, ExitTakeProfit},
		{types.SideLong, 0.1234, 0.11723, ExitStopLoss},
	}
	for _, c := range cases {
		pos := types.Position{Coin: "XRP", Side: c.side, Quantity: 10, AvgPrice: c.entry, Leverage: 2}
		got := protectiveExits(types.Portfolio{Positions: []types.Position{pos}}, map[string]float64{"XRP": c.price}, rules, nil)
		if len(got) != 1 || got[0].Kind != c.want {
			t.Fatalf("%s entry %v @ %v: expected %s, got %+v", c.side, c.entry, c.price, c.want, got)
		}
	}

	pos := types.Position{Coin: "DOGE", Side: types.SideLong, Quantity: 10, AvgPrice: 0.7, Leverage: 2}
	if got := protectiveExits(types.Portfolio{Positions: []types.Position{pos}}, map[string]float64{"DOGE": 0.6651}, rules, nil); len(got) != 0 {
		t.Fatalf("just inside threshold should not trigger: %+v", got)
	}
}

func TestShortSideSignAndTakeProfit(t *testing.T) {
	rules := ExitRules{StopLossEnabled: true, StopLossPct: 5, TakeProfitEnabled: true, TakeProfitPct: 15}
	short := types.Position{Coin: "ETH", Side: types.SideShort, Quantity: 2, AvgPrice: 100, Leverage: 3}
	pf := types.Portfolio{Positions: []types.Position{short}}
	got := protectiveExits(pf, map[string]float64{"ETH": 85}, rules, nil)
	if len(got) != 1 || got[0].Kind != ExitTakeProfit || got[0].Side != types.SideShort || got[0].Quantity != 2 {
		t.Fatalf("expected take_profit on short, got %+v", got)
	}
	got = protectiveExits(pf, map[string]float64{"ETH": 106}, rules, nil)
	if len(got) != 1 || got[0].Kind != ExitStopLoss {
		t.Fatalf("rising price should stop out a short, got %+v", got)
	}
}

func TestExitsRespectUserToggles(t *testing.T) {
	pf := types.Portfolio{Positions: []types.Position{longAt("BTC", 100)}}
	prices := map[string]float64{"BTC": 50}
	if got := protectiveExits(pf, prices, ExitRules{TakeProfitEnabled: true, TakeProfitPct: 15}, nil); len(got) != 0 {
		t.Fatalf("stop loss disabled must not trigger: %+v", got)
	}
	if got := protectiveExits(pf, prices, ExitRules{}, nil); got != nil {
		t.Fatalf("all disabled should return nil")
	}
}

func TestExitsSkipPhantomAndUnpricedPositions(t *testing.T) {
	rules := ExitRules{StopLossEnabled: true, StopLossPct: 5}
	pf := types.Portfolio{Positions: []types.Position{longAt("BTC", 100), longAt("ETH", 100), longAt("SOL", 100)}}
	live := &types.ExchangeAccount{Positions: []types.Position{longAt("ETH", 100), longAt("SOL", 100)}}
	got := protectiveExits(pf, map[string]float64{"BTC": 50, "ETH": 50, "SOL": 0}, rules, live)
	if len(got) != 1 || got[0].Coin != "ETH" {
		t.Fatalf("expected only ETH, got %+v", got)
	}
}

func TestExitRulesFromModel(t *testing.T) {
	r := ExitRulesFromModel(types.Model{StopLossEnabled: true, StopLossPct: 3, TakeProfitPct: 9})
	if !r.Enabled() || r.StopLossPct != 3 || r.TakeProfitEnabled {
		t.Fatalf("unexpected rules %+v", r)
	}
}
