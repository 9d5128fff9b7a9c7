package types

import (
	"fmt"
	"strings"
)

// Signal 决策信号，封闭枚举。
type Signal string

const (
	SignalEnterLong  Signal = "enter_long"
	SignalEnterShort Signal = "enter_short"
	SignalClose      Signal = "close"
	SignalHold       Signal = "hold"
)

var signalAliases = map[string]Signal{
	"enter_long":     SignalEnterLong,
	"buy_to_enter":   SignalEnterLong,
	"open_long":      SignalEnterLong,
	"enter_short":    SignalEnterShort,
	"sell_to_enter":  SignalEnterShort,
	"open_short":     SignalEnterShort,
	"close":          SignalClose,
	"close_position": SignalClose,
	"hold":           SignalHold,
}

// ParseSignal 把模型输出的信号字符串映射到枚举；未知值返回错误。
func ParseSignal(raw string) (Signal, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if sig, ok := signalAliases[key]; ok {
		return sig, nil
	}
	return "", fmt.Errorf("unknown signal %q", raw)
}

func (s Signal) Valid() bool {
	switch s {
	case SignalEnterLong, SignalEnterShort, SignalClose, SignalHold:
		return true
	}
	return false
}

// IsEntry 是否为开仓信号。
func (s Signal) IsEntry() bool { return s == SignalEnterLong || s == SignalEnterShort }

// EntrySide 开仓信号对应的持仓方向。
func (s Signal) EntrySide() (Side, bool) {
	switch s {
	case SignalEnterLong:
		return SideLong, true
	case SignalEnterShort:
		return SideShort, true
	}
	return "", false
}
