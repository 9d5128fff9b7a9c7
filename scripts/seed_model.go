package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"aitrade/internal/config"
	"aitrade/internal/gateway/database"
	"aitrade/internal/types"
)

// Seed a SQLite database with one bot model and a short account-value history.
// Usage: go run scripts/seed_model.go [db_path]
// Default db_path: AITRADE_DB_PATH or data/aitrade.db
// Model API key / OKX credentials are read from the environment (.env supported):
//
//	SEED_AI_API_URL, SEED_AI_API_KEY, SEED_AI_MODEL,
//	SEED_OKX_API_KEY, SEED_OKX_SECRET_KEY, SEED_OKX_PASSPHRASE, SEED_OKX_SANDBOX=1
func main() {
	if err := config.LoadEnv(); err != nil {
		panic(err)
	}
	dbPath := "data/aitrade.db"
	if v := strings.TrimSpace(os.Getenv(config.EnvDBPath)); v != "" {
		dbPath = v
	}
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		dbPath = strings.TrimSpace(os.Args[1])
	}

	ctx := context.Background()
	store, err := database.Open(ctx, dbPath)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	model := types.Model{
		Name:               "paper-bot",
		APIURL:             env("SEED_AI_API_URL", "https://api.openai.com/v1"),
		APIKey:             os.Getenv("SEED_AI_API_KEY"),
		ModelName:          env("SEED_AI_MODEL", "gpt-4o-mini"),
		InitialCapital:     types.DefaultInitialCapital,
		TradingFrequency:   types.DefaultTradingFrequency,
		TradingCoins:       types.DefaultTradingCoins,
		AutoTradingEnabled: true,
		StopLossEnabled:    true,
		StopLossPct:        types.DefaultStopLossPct,
		TakeProfitEnabled:  true,
		TakeProfitPct:      types.DefaultTakeProfitPct,
		OKX: types.OKXCredentials{
			APIKey:     os.Getenv("SEED_OKX_API_KEY"),
			SecretKey:  os.Getenv("SEED_OKX_SECRET_KEY"),
			Passphrase: os.Getenv("SEED_OKX_PASSPHRASE"),
			Sandbox:    os.Getenv("SEED_OKX_SANDBOX") == "1",
		},
	}
	if model.HasExchange() {
		model.Name = "okx-bot"
	}
	id, err := store.AddModel(ctx, model)
	if err != nil {
		panic(err)
	}
	if err := seedHistory(ctx, store, id, model.InitialCapital); err != nil {
		panic(err)
	}

	mode := "paper"
	if model.HasExchange() {
		mode = "exchange"
	}
	fmt.Printf("✓ model %d (%s, %s mode) seeded into %s\n", id, model.Name, mode, dbPath)
}

// seedHistory 写入最近 6 小时的模拟净值曲线，便于查看绩效接口。
func seedHistory(ctx context.Context, store *database.Store, modelID int64, initial float64) error {
	now := time.Now()
	curve := []float64{0, 0.4, -0.8, 1.2, 0.6, 1.5}
	for i, pct := range curve {
		total := initial * (1 + pct/100)
		if err := store.RecordAccountValue(ctx, types.AccountValue{
			ModelID:    modelID,
			TotalValue: total,
			Cash:       total,
			Timestamp:  now.Add(time.Duration(i-len(curve)) * time.Hour),
		}); err != nil {
			return err
		}
	}
	return nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
