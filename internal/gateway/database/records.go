package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"aitrade/internal/types"
)

// AddTrade 追加成交记录（只写一次，不更新）。
func (s *Store) AddTrade(ctx context.Context, t types.Trade) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if t.ModelID <= 0 {
		return 0, fmt.Errorf("model_id 必填")
	}
	coin := strings.ToUpper(strings.TrimSpace(t.Coin))
	if coin == "" {
		return 0, fmt.Errorf("coin 必填")
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if t.Side == "" {
		t.Side = types.SideLong
	}
	if t.Leverage < 1 {
		t.Leverage = 1
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO trades (model_id, coin, signal, quantity, price, leverage, side, pnl, reason, order_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ModelID, coin, string(t.Signal), t.Quantity, t.Price, t.Leverage, string(t.Side), t.PnL,
		nullIfEmptyString(t.Reason), nullIfEmptyString(t.OrderID), t.Timestamp.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("写入成交失败: %w", err)
	}
	return res.LastInsertId()
}

// GetTrades 最近成交，按时间倒序。
func (s *Store) GetTrades(ctx context.Context, modelID int64, limit int) ([]types.Trade, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, 50, 1000)
	rows, err := db.QueryContext(ctx, `
		SELECT id, model_id, coin, signal, quantity, price, leverage, side, pnl, reason, order_id, timestamp
		FROM trades
		WHERE model_id=?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []types.Trade
	for rows.Next() {
		var t types.Trade
		var signal, side string
		var reason, orderID sql.NullString
		var ts int64
		if err := rows.Scan(&t.ID, &t.ModelID, &t.Coin, &signal, &t.Quantity, &t.Price, &t.Leverage, &side, &t.PnL, &reason, &orderID, &ts); err != nil {
			return nil, err
		}
		t.Signal = types.Signal(signal)
		t.Side = types.Side(side)
		t.Reason = reason.String
		t.OrderID = orderID.String
		t.Timestamp = millisToTime(ts)
		list = append(list, t)
	}
	return list, rows.Err()
}

// CountTradesSince 所有 bot 在 since 之后的成交数，用于健康检查。
func (s *Store) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE timestamp >= ?`, since.UnixMilli()).Scan(&n)
	return n, err
}

// AddConversation 记录一次决策调用。
func (s *Store) AddConversation(ctx context.Context, c types.Conversation) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO conversations (model_id, user_prompt, ai_response, cot_trace, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		c.ModelID, c.UserPrompt, c.AIResponse, nullIfEmptyString(c.CoTTrace), c.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入对话失败: %w", err)
	}
	return nil
}

// GetConversations 最近对话，按时间倒序。
func (s *Store) GetConversations(ctx context.Context, modelID int64, limit int) ([]types.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, 20, 200)
	rows, err := db.QueryContext(ctx, `
		SELECT id, model_id, user_prompt, ai_response, cot_trace, timestamp
		FROM conversations
		WHERE model_id=?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []types.Conversation
	for rows.Next() {
		var c types.Conversation
		var cot sql.NullString
		var ts int64
		if err := rows.Scan(&c.ID, &c.ModelID, &c.UserPrompt, &c.AIResponse, &cot, &ts); err != nil {
			return nil, err
		}
		c.CoTTrace = cot.String
		c.Timestamp = millisToTime(ts)
		list = append(list, c)
	}
	return list, rows.Err()
}

// RecordAccountValue 写入账户价值快照。
func (s *Store) RecordAccountValue(ctx context.Context, v types.AccountValue) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO account_values (model_id, total_value, cash, positions_value, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		v.ModelID, v.TotalValue, v.Cash, v.PositionsValue, v.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入账户价值失败: %w", err)
	}
	return nil
}

// GetAccountValueHistory 账户价值历史，按时间倒序。
func (s *Store) GetAccountValueHistory(ctx context.Context, modelID int64, limit int) ([]types.AccountValue, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, 100, 5000)
	rows, err := db.QueryContext(ctx, `
		SELECT id, model_id, total_value, cash, positions_value, timestamp
		FROM account_values
		WHERE model_id=?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []types.AccountValue
	for rows.Next() {
		var v types.AccountValue
		var ts int64
		if err := rows.Scan(&v.ID, &v.ModelID, &v.TotalValue, &v.Cash, &v.PositionsValue, &ts); err != nil {
			return nil, err
		}
		v.Timestamp = millisToTime(ts)
		list = append(list, v)
	}
	return list, rows.Err()
}
