package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aitrade/internal/types"
)

// UpdatePosition 按 (model, coin, side) 写入持仓；数量 <= 0 视为平仓并删除记录。
func (s *Store) UpdatePosition(ctx context.Context, modelID int64, pos types.Position) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	coin := strings.ToUpper(strings.TrimSpace(pos.Coin))
	if coin == "" {
		return fmt.Errorf("coin 必填")
	}
	if !pos.Side.Valid() {
		return fmt.Errorf("非法持仓方向: %q", pos.Side)
	}
	if pos.Quantity <= 0 {
		return s.ClosePosition(ctx, modelID, coin, pos.Side)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO portfolios (model_id, coin, side, quantity, avg_price, leverage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id, coin, side) DO UPDATE SET
			quantity=excluded.quantity,
			avg_price=excluded.avg_price,
			leverage=excluded.leverage,
			updated_at=excluded.updated_at`,
		modelID, coin, string(pos.Side), pos.Quantity, pos.AvgPrice, pos.EffectiveLeverage(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("写入持仓 %s/%s 失败: %w", coin, pos.Side, err)
	}
	return nil
}

// ClosePosition 删除本地持仓记录。
func (s *Store) ClosePosition(ctx context.Context, modelID int64, coin string, side types.Side) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM portfolios WHERE model_id=? AND coin=? AND side=?`,
		modelID, strings.ToUpper(strings.TrimSpace(coin)), string(side))
	if err != nil {
		return fmt.Errorf("删除持仓 %s/%s 失败: %w", coin, side, err)
	}
	return nil
}

// ListPositions 本地持仓。
func (s *Store) ListPositions(ctx context.Context, modelID int64) ([]types.Position, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT coin, side, quantity, avg_price, leverage, updated_at
		FROM portfolios
		WHERE model_id=? AND quantity > 0
		ORDER BY coin, side`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []types.Position
	for rows.Next() {
		var p types.Position
		var side string
		var updated int64
		if err := rows.Scan(&p.Coin, &side, &p.Quantity, &p.AvgPrice, &p.Leverage, &updated); err != nil {
			return nil, err
		}
		p.Side = types.Side(side)
		p.UpdatedAt = millisToTime(updated)
		p.Margin = p.MarginUsed()
		list = append(list, p)
	}
	return list, rows.Err()
}

// RealizedPnL 历史成交已实现盈亏合计。
func (s *Store) RealizedPnL(ctx context.Context, modelID int64) (float64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var total float64
	err = db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE model_id=?`, modelID).Scan(&total)
	return total, err
}

// GetPortfolio 重新计算组合。account 非空时以交易所权益与持仓为准，否则按本地账本模拟计算。
func (s *Store) GetPortfolio(ctx context.Context, modelID int64, prices map[string]float64, account *types.ExchangeAccount) (*types.Portfolio, error) {
	model, err := s.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return exchangePortfolio(modelID, model.InitialCapital, prices, account), nil
	}
	positions, err := s.ListPositions(ctx, modelID)
	if err != nil {
		return nil, err
	}
	realized, err := s.RealizedPnL(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return simulatedPortfolio(modelID, model.InitialCapital, realized, positions, prices), nil
}

// simulatedPortfolio cash = 初始资金 + 已实现 - 占用保证金；total = 初始资金 + 已实现 + 浮动盈亏。
func simulatedPortfolio(modelID int64, initial, realized float64, positions []types.Position, prices map[string]float64) *types.Portfolio {
	pf := &types.Portfolio{ModelID: modelID, RealizedPnL: realized, Source: types.PortfolioSourceLocal}
	for _, p := range positions {
		p.Margin = p.MarginUsed()
		pf.MarginUsed += p.Margin
		pf.PositionsValue += p.Notional()
		if price, ok := prices[p.Coin]; ok && price > 0 {
			p.CurrentPrice = price
			p.UnrealizedPnL = p.PnLAt(price)
			pf.UnrealizedPnL += p.UnrealizedPnL
		}
		pf.Positions = append(pf.Positions, p)
	}
	pf.Cash = initial + realized - pf.MarginUsed
	pf.TotalValue = initial + realized + pf.UnrealizedPnL
	return pf
}

// exchangePortfolio 交易所权益优先：realized = 权益 - 初始资金 - 浮动盈亏。
func exchangePortfolio(modelID int64, initial float64, prices map[string]float64, account *types.ExchangeAccount) *types.Portfolio {
	pf := &types.Portfolio{ModelID: modelID, Source: types.PortfolioSourceExchange}
	for _, p := range account.Positions {
		if p.Quantity <= 0 {
			continue
		}
		if p.CurrentPrice <= 0 {
			p.CurrentPrice = prices[p.Coin]
		}
		pf.Positions = append(pf.Positions, p)
		pf.PositionsValue += p.Notional()
		pf.MarginUsed += p.Margin
		pf.UnrealizedPnL += p.UnrealizedPnL
	}
	pf.TotalValue = account.Balance.TotalEquity
	pf.Cash = account.Balance.Available
	pf.RealizedPnL = pf.TotalValue - initial - pf.UnrealizedPnL
	return pf
}
