package types

import "testing"

func TestParseSignalAliases(t *testing.T) {
	cases := map[string]Signal{
		"buy_to_enter":   SignalEnterLong,
		" Enter_Long ":   SignalEnterLong,
		"sell_to_enter":  SignalEnterShort,
		"close_position": SignalClose,
		"CLOSE":          SignalClose,
		"hold":           SignalHold,
	}
	for raw, want := range cases {
		got, err := ParseSignal(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSignal(%q)=%v,%v want %v", raw, got, err, want)
		}
	}
	if _, err := ParseSignal("moon"); err == nil {
		t.Fatalf("expected error for unknown signal")
	}
}

func TestPositionPnL(t *testing.T) {
	long := Position{Coin: "BTC", Side: SideLong, Quantity: 2, AvgPrice: 100, Leverage: 4}
	if got := long.PnLAt(110); got != 20 {
		t.Fatalf("long pnl=%v", got)
	}
	if got := long.MarginUsed(); got != 50 {
		t.Fatalf("margin=%v", got)
	}
	short := Position{Coin: "ETH", Side: SideShort, Quantity: 1, AvgPrice: 200}
	if got := short.PnLAt(180); got != 20 {
		t.Fatalf("short pnl=%v", got)
	}
	if short.EffectiveLeverage() != 1 {
		t.Fatalf("zero leverage should count as 1")
	}
}

func TestSideOrderSides(t *testing.T) {
	if SideLong.CloseOrderSide() != "sell" || SideShort.CloseOrderSide() != "buy" {
		t.Fatalf("close sides wrong")
	}
	if s, ok := ParseSide("Sell"); !ok || s != SideShort {
		t.Fatalf("parse sell")
	}
	if sig, _ := ParseSignal("enter_short"); func() Side { s, _ := sig.EntrySide(); return s }() != SideShort {
		t.Fatalf("entry side")
	}
}
