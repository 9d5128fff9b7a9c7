package format

import (
	"fmt"
	"strings"
)

func Percent(val float64) string {
	if val == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", val*100)
}

// SignedPercent 已是百分数的值，带符号两位小数，如 +1.25%。
func SignedPercent(val float64) string {
	return fmt.Sprintf("%+.2f%%", val)
}

func Float(val float64, decimals int) string {
	if decimals < 0 {
		decimals = 4
	}
	out := fmt.Sprintf("%.*f", decimals, val)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	if out == "" || out == "-0" {
		return "0"
	}
	return out
}

// USD 金额两位小数。
func USD(val float64) string {
	return fmt.Sprintf("$%.2f", val)
}

// Price 价格按量级选择精度，低价币保留更多小数。
func Price(val float64) string {
	abs := val
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1000:
		return "$" + Float(val, 2)
	case abs >= 1:
		return "$" + Float(val, 4)
	default:
		return "$" + Float(val, 6)
	}
}
