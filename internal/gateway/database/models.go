package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aitrade/internal/types"
)

const modelColumns = `id, name, api_key, api_url, model_name, initial_capital,
	okx_api_key, okx_secret_key, okx_passphrase, okx_sandbox_mode,
	trading_frequency, trading_coins, auto_trading_enabled, system_prompt,
	stop_loss_enabled, stop_loss_percentage, take_profit_enabled, take_profit_percentage, created_at`

// applyModelDefaults 与建表默认值保持一致。
func applyModelDefaults(m *types.Model) {
	if m.InitialCapital <= 0 {
		m.InitialCapital = types.DefaultInitialCapital
	}
	if m.TradingFrequency <= 0 {
		m.TradingFrequency = types.DefaultTradingFrequency
	}
	if strings.TrimSpace(m.TradingCoins) == "" {
		m.TradingCoins = types.DefaultTradingCoins
	}
	if m.StopLossPct <= 0 {
		m.StopLossPct = types.DefaultStopLossPct
	}
	if m.TakeProfitPct <= 0 {
		m.TakeProfitPct = types.DefaultTakeProfitPct
	}
}

// AddModel 新增 bot，返回自增 id。
func (s *Store) AddModel(ctx context.Context, m types.Model) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(m.Name) == "" {
		return 0, fmt.Errorf("model name 必填")
	}
	applyModelDefaults(&m)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO models
			(name, api_key, api_url, model_name, initial_capital,
			 okx_api_key, okx_secret_key, okx_passphrase, okx_sandbox_mode,
			 trading_frequency, trading_coins, auto_trading_enabled, system_prompt,
			 stop_loss_enabled, stop_loss_percentage, take_profit_enabled, take_profit_percentage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.APIKey, m.APIURL, m.ModelName, m.InitialCapital,
		m.OKX.APIKey, m.OKX.SecretKey, m.OKX.Passphrase, boolToInt(m.OKX.Sandbox),
		m.TradingFrequency, m.TradingCoins, boolToInt(m.AutoTradingEnabled), m.SystemPrompt,
		boolToInt(m.StopLossEnabled), m.StopLossPct, boolToInt(m.TakeProfitEnabled), m.TakeProfitPct,
		m.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("写入 model 失败: %w", err)
	}
	return res.LastInsertId()
}

// GetModel 按 id 读取；不存在返回 ErrNotFound。
func (s *Store) GetModel(ctx context.Context, id int64) (*types.Model, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id=?`, id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListModels 全部 bot，按 id 升序。
func (s *Store) ListModels(ctx context.Context) ([]types.Model, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+modelColumns+` FROM models ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []types.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// UpdateModel 覆盖 bot 配置（不修改 created_at）。
func (s *Store) UpdateModel(ctx context.Context, m types.Model) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if m.ID <= 0 {
		return fmt.Errorf("model id 必填")
	}
	applyModelDefaults(&m)
	res, err := db.ExecContext(ctx, `
		UPDATE models SET
			name=?, api_key=?, api_url=?, model_name=?, initial_capital=?,
			okx_api_key=?, okx_secret_key=?, okx_passphrase=?, okx_sandbox_mode=?,
			trading_frequency=?, trading_coins=?, auto_trading_enabled=?, system_prompt=?,
			stop_loss_enabled=?, stop_loss_percentage=?, take_profit_enabled=?, take_profit_percentage=?
		WHERE id=?`,
		m.Name, m.APIKey, m.APIURL, m.ModelName, m.InitialCapital,
		m.OKX.APIKey, m.OKX.SecretKey, m.OKX.Passphrase, boolToInt(m.OKX.Sandbox),
		m.TradingFrequency, m.TradingCoins, boolToInt(m.AutoTradingEnabled), m.SystemPrompt,
		boolToInt(m.StopLossEnabled), m.StopLossPct, boolToInt(m.TakeProfitEnabled), m.TakeProfitPct,
		m.ID)
	if err != nil {
		return fmt.Errorf("更新 model 失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %d: %w", m.ID, ErrNotFound)
	}
	return nil
}

// DeleteModel 在一个事务内删除 bot 及其全部关联数据。
func (s *Store) DeleteModel(ctx context.Context, id int64) (err error) {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, table := range []string{"portfolios", "trades", "conversations", "account_values"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE model_id=?`, id); err != nil {
			return fmt.Errorf("删除 %s 失败: %w", table, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM models WHERE id=?`, id); err != nil {
		return fmt.Errorf("删除 model 失败: %w", err)
	}
	err = tx.Commit()
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*types.Model, error) {
	var m types.Model
	var sandbox, autoTrading, slEnabled, tpOn int
	var created int64
	if err := row.Scan(&m.ID, &m.Name, &m.APIKey, &m.APIURL, &m.ModelName, &m.InitialCapital,
		&m.OKX.APIKey, &m.OKX.SecretKey, &m.OKX.Passphrase, &sandbox,
		&m.TradingFrequency, &m.TradingCoins, &autoTrading, &m.SystemPrompt,
		&slEnabled, &m.StopLossPct, &tpOn, &m.TakeProfitPct, &created); err != nil {
		return nil, err
	}
	m.OKX.Sandbox = sandbox != 0
	m.AutoTradingEnabled = autoTrading != 0
	m.StopLossEnabled = slEnabled != 0
	m.TakeProfitEnabled = tpOn != 0
	m.CreatedAt = millisToTime(created)
	return &m, nil
}
