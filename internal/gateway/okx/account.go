package okx

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"aitrade/internal/coins"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	pathBalance     = "/api/v5/account/balance"
	pathPositions   = "/api/v5/account/positions"
	pathConfig      = "/api/v5/account/config"
	pathSetLeverage = "/api/v5/account/set-leverage"

	PositionModeLongShort = "long_short_mode"
	PositionModeNet       = "net_mode"

	marginModeCross = "cross"
)

// AccountConfig 账户级配置，决定下单是否需要 posSide。
type AccountConfig struct {
	PositionMode string
	AccountLevel string
	UID          string
}

// LongShort 双向持仓模式。
func (c AccountConfig) LongShort() bool { return c.PositionMode != PositionModeNet }

type balanceRow struct {
	TotalEq string `json:"totalEq"`
	Details []struct {
		Ccy       string `json:"ccy"`
		Eq        string `json:"eq"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
	} `json:"details"`
}

type positionRow struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Lever   string `json:"lever"`
	Upl     string `json:"upl"`
	Margin  string `json:"margin"`
	Imr     string `json:"imr"`
	MarkPx  string `json:"markPx"`
}

type configRow struct {
	PosMode string `json:"posMode"`
	AcctLv  string `json:"acctLv"`
	UID     string `json:"uid"`
}

// GetBalance 账户权益；Available 汇总 USDT 与 USD 可用余额。
func (c *Client) GetBalance(ctx context.Context) (types.Balance, error) {
	if bal, ok := c.balance.Get(cacheKeyBalance); ok {
		return bal, nil
	}
	var rows []balanceRow
	if err := c.pipe.Do(ctx, http.MethodGet, pathBalance, nil, nil, &rows); err != nil {
		return types.Balance{}, err
	}
	var bal types.Balance
	if len(rows) > 0 {
		row := rows[0]
		bal.TotalEquity = cast.ToFloat64(row.TotalEq)
		for _, d := range row.Details {
			detail := types.BalanceDetail{
				Currency:  d.Ccy,
				Balance:   cast.ToFloat64(d.Eq),
				Available: cast.ToFloat64(d.AvailBal),
				Frozen:    cast.ToFloat64(d.FrozenBal),
			}
			bal.Details = append(bal.Details, detail)
			if d.Ccy == "USDT" || d.Ccy == "USD" {
				bal.Available += detail.Available
			}
		}
	}
	c.balance.Set(cacheKeyBalance, bal)
	return bal, nil
}

// GetPositions 当前永续持仓（短缓存）。
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	if positions, ok := c.positions.Get(cacheKeyPositions); ok {
		return positions, nil
	}
	return c.FreshPositions(ctx)
}

// FreshPositions 绕过缓存直接读取交易所持仓。
func (c *Client) FreshPositions(ctx context.Context) ([]types.Position, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	var rows []positionRow
	if err := c.pipe.Do(ctx, http.MethodGet, pathPositions, q, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, row := range rows {
		if pos, ok := parsePosition(row); ok {
			out = append(out, pos)
		}
	}
	c.positions.Set(cacheKeyPositions, out)
	return out, nil
}

// parsePosition 双向模式取 posSide；单向模式由 pos 的符号决定方向。
func parsePosition(row positionRow) (types.Position, bool) {
	qty := cast.ToFloat64(row.Pos)
	if qty == 0 {
		return types.Position{}, false
	}
	side, ok := types.ParseSide(row.PosSide)
	if !ok {
		side = types.SideLong
		if qty < 0 {
			side = types.SideShort
		}
	}
	margin := cast.ToFloat64(row.Margin)
	if margin == 0 {
		margin = cast.ToFloat64(row.Imr)
	}
	lev := int(math.Round(cast.ToFloat64(row.Lever)))
	if lev < 1 {
		lev = 1
	}
	return types.Position{
		Coin:          coins.CoinFromInstrument(row.InstID),
		Side:          side,
		Quantity:      math.Abs(qty),
		AvgPrice:      cast.ToFloat64(row.AvgPx),
		Leverage:      lev,
		UnrealizedPnL: cast.ToFloat64(row.Upl),
		Margin:        margin,
		CurrentPrice:  cast.ToFloat64(row.MarkPx),
		UpdatedAt:     time.Now(),
	}, true
}

// GetAccountConfig 读取持仓模式。刷新失败时回退到上次成功的值，再回退到双向模式，不返回错误。
func (c *Client) GetAccountConfig(ctx context.Context) AccountConfig {
	if cfg, ok := c.config.Get(cacheKeyConfig); ok {
		return cfg
	}
	var rows []configRow
	err := c.pipe.Do(ctx, http.MethodGet, pathConfig, nil, nil, &rows)
	if err == nil && len(rows) > 0 {
		cfg := AccountConfig{
			PositionMode: strings.TrimSpace(rows[0].PosMode),
			AccountLevel: rows[0].AcctLv,
			UID:          rows[0].UID,
		}
		if cfg.PositionMode == "" {
			cfg.PositionMode = PositionModeLongShort
		}
		c.config.Set(cacheKeyConfig, cfg)
		return cfg
	}
	if cfg, ok := c.config.Stale(cacheKeyConfig); ok {
		logger.Warnf("[okx] 刷新账户配置失败，沿用上次结果 mode=%s: %v", cfg.PositionMode, err)
		return cfg
	}
	logger.Warnf("[okx] 读取账户配置失败，按 %s 处理: %v", PositionModeLongShort, err)
	return AccountConfig{PositionMode: PositionModeLongShort}
}

type setLeverageBody struct {
	InstID  string `json:"instId"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
	PosSide string `json:"posSide,omitempty"`
}

// SetLeverage 双向模式下多空两侧分别设置，单向模式设置一次。
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int) error {
	if leverage < 1 {
		leverage = 1
	}
	lever := strconv.Itoa(leverage)
	if !c.GetAccountConfig(ctx).LongShort() {
		return c.pipe.Do(ctx, http.MethodPost, pathSetLeverage, nil,
			setLeverageBody{InstID: instID, Lever: lever, MgnMode: marginModeCross}, nil)
	}
	var errs error
	for _, side := range []types.Side{types.SideLong, types.SideShort} {
		body := setLeverageBody{InstID: instID, Lever: lever, MgnMode: marginModeCross, PosSide: string(side)}
		errs = multierr.Append(errs, c.pipe.Do(ctx, http.MethodPost, pathSetLeverage, nil, body, nil))
	}
	return errs
}
