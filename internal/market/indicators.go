package market

import (
	"errors"

	"github.com/markcheno/go-talib"

	"aitrade/internal/types"
)

const (
	smaShort  = 7
	smaLong   = 14
	rsiPeriod = 14
	minCloses = rsiPeriod + 1
)

// ErrNotEnoughData 收盘价数量不足以计算 RSI(14)。
var ErrNotEnoughData = errors.New("market: not enough closes for indicators")

// Compute 由升序日线收盘价计算 SMA7/SMA14/RSI14 与 7 日涨跌幅（百分比）。
func Compute(closes []float64) (types.Indicators, error) {
	if len(closes) < minCloses {
		return types.Indicators{}, ErrNotEnoughData
	}
	last := closes[len(closes)-1]
	ind := types.Indicators{
		SMA7:         lastValue(talib.Sma(closes, smaShort)),
		SMA14:        lastValue(talib.Sma(closes, smaLong)),
		RSI14:        lastValue(talib.Rsi(closes, rsiPeriod)),
		CurrentPrice: last,
	}
	if base := closes[len(closes)-1-7]; base > 0 {
		ind.PriceChange7d = (last - base) / base * 100
	}
	return ind, nil
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
