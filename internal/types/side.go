package types

import "strings"

// Side 持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide 宽松解析方向，兼容 buy/sell 写法。
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OpenOrderSide 开仓下单方向（buy/sell）。
func (s Side) OpenOrderSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

// CloseOrderSide 平仓下单方向：多单卖出，空单买入。
func (s Side) CloseOrderSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}
