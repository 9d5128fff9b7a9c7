// Package database 基于 sqlite 的本地持久化：bot 模型、持仓、成交、对话与账户价值。
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound 记录不存在。
var ErrNotFound = errors.New("database: record not found")

// Store 单进程 sqlite 存储。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open 打开（必要时创建）数据库文件并执行建表。
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database.path 不能为空")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	// sqlite 单写者，连接数固定为 1 避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) conn() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("store 已关闭")
	}
	return db, nil
}

// Ping 健康检查。
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS models (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		api_url TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL DEFAULT '',
		initial_capital REAL NOT NULL DEFAULT 10000,
		okx_api_key TEXT NOT NULL DEFAULT '',
		okx_secret_key TEXT NOT NULL DEFAULT '',
		okx_passphrase TEXT NOT NULL DEFAULT '',
		okx_sandbox_mode INTEGER NOT NULL DEFAULT 1,
		trading_frequency INTEGER NOT NULL DEFAULT 180,
		trading_coins TEXT NOT NULL DEFAULT 'BTC,ETH,SOL,BNB,XRP,DOGE',
		auto_trading_enabled INTEGER NOT NULL DEFAULT 1,
		system_prompt TEXT NOT NULL DEFAULT '',
		stop_loss_enabled INTEGER NOT NULL DEFAULT 0,
		stop_loss_percentage REAL NOT NULL DEFAULT 5.0,
		take_profit_enabled INTEGER NOT NULL DEFAULT 0,
		take_profit_percentage REAL NOT NULL DEFAULT 15.0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS portfolios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
		coin TEXT NOT NULL,
		side TEXT NOT NULL DEFAULT 'long',
		quantity REAL NOT NULL CHECK (quantity > 0),
		avg_price REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL,
		UNIQUE(model_id, coin, side)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
		coin TEXT NOT NULL,
		signal TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		side TEXT NOT NULL DEFAULT 'long',
		pnl REAL NOT NULL DEFAULT 0,
		reason TEXT,
		order_id TEXT,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_model_ts ON trades(model_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
		user_prompt TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		cot_trace TEXT,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS account_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
		total_value REAL NOT NULL,
		cash REAL NOT NULL,
		positions_value REAL NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_account_values_model_ts ON account_values(model_id, timestamp DESC)`,
}

func (s *Store) migrate(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化表结构失败: %w", err)
		}
	}
	return nil
}

func nullIfEmptyString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
