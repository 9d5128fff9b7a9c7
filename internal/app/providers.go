package app

import (
	"context"
	"strings"
	"time"

	"aitrade/internal/config"
	"aitrade/internal/gateway/binance"
	"aitrade/internal/gateway/database"
	"aitrade/internal/gateway/okx"
	"aitrade/internal/logger"
	"aitrade/internal/manager"
	"aitrade/internal/market"
	"aitrade/internal/monitor"
	"aitrade/internal/risk"
	"aitrade/internal/transport/web"
)

func provideStore(ctx context.Context, cfg *config.Config) (*database.Store, func(), error) {
	store, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("✓ 数据库已打开 %s", cfg.Database.Path)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}, nil
}

func provideMetrics() *monitor.Metrics {
	return monitor.NewMetrics()
}

func provideMonitor(store *database.Store, metrics *monitor.Metrics) *monitor.Monitor {
	return monitor.New(store, metrics)
}

// provideMarket 行情回退链：Binance → OKX 公共接口。
func provideMarket(cfg *config.Config) *market.Service {
	m := cfg.Market
	sources := []market.Source{
		binance.NewSource(m.BinanceBaseURL),
		okx.NewPublicClient(m.OKXBaseURL, config.Seconds(m.TimeoutSeconds)),
	}
	return market.NewService(market.Options{
		PriceTTL:      config.Seconds(m.PriceCacheSeconds),
		IndicatorTTL:  10 * time.Minute,
		IndicatorDays: m.IndicatorDays,
	}, sources...)
}

func provideRisk(cfg *config.Config, store *database.Store) risk.Engine {
	if cfg.Risk.Disabled {
		logger.Warnf("风控已关闭：所有订单将不做限制")
	}
	return risk.New(cfg.Risk, store)
}

func provideBotBuilder(cfg *config.Config, store *database.Store, svc *market.Service, engine risk.Engine, mon *monitor.Monitor, metrics *monitor.Metrics) *manager.BotBuilder {
	return manager.NewBotBuilder(cfg, store, svc, engine, mon, metrics)
}

func provideManager(cfg *config.Config, store *database.Store, builder *manager.BotBuilder, metrics *monitor.Metrics) *manager.Manager {
	return manager.New(store, builder, metrics, manager.OptionsFromConfig(cfg.Scheduler))
}

// provideWebServer addr 为空时不启动运维接口。
func provideWebServer(cfg *config.Config, mgr *manager.Manager, mon *monitor.Monitor, metrics *monitor.Metrics) *web.Server {
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return nil
	}
	return web.NewServer(cfg.HTTP.Addr, mgr, mon, metrics.Registry())
}
