package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aitrade/internal/config"
	"aitrade/internal/decision"
	"aitrade/internal/gateway/okx"
	"aitrade/internal/gateway/provider"
	"aitrade/internal/logger"
	"aitrade/internal/reconcile"
	"aitrade/internal/risk"
	"aitrade/internal/trader"
	"aitrade/internal/types"
)

// Builder 为单个 bot 构造周期依赖。交易所客户端（含限频窗口）按 bot 独占。
type Builder interface {
	Build(ctx context.Context, model types.Model) (trader.Deps, error)
	Release(modelID int64)
}

// BotBuilder 默认实现：有 OKX 凭证走交易所执行，否则模拟盘；有模型密钥走大模型决策，否则全 hold。
type BotBuilder struct {
	cfg        *config.Config
	store      trader.Store
	market     trader.MarketOracle
	risk       risk.Engine
	events     trader.EventSink
	observer   okx.Observer
	reconciler *reconcile.Reconciler
}

func NewBotBuilder(cfg *config.Config, store trader.Store, market trader.MarketOracle, riskEngine risk.Engine, events trader.EventSink, observer okx.Observer) *BotBuilder {
	return &BotBuilder{
		cfg:        cfg,
		store:      store,
		market:     market,
		risk:       riskEngine,
		events:     events,
		observer:   observer,
		reconciler: reconcile.New(store, config.Seconds(cfg.Scheduler.ReconcileIntervalSeconds)),
	}
}

func (b *BotBuilder) Build(_ context.Context, model types.Model) (trader.Deps, error) {
	deps := trader.Deps{
		Store:      b.store,
		Market:     b.market,
		Risk:       b.risk,
		Events:     b.events,
		Reconciler: b.reconciler,
		Executor:   trader.PaperExecutor{},
		Decider:    b.decider(model),
	}
	if model.HasExchange() {
		client, err := okx.NewClient(b.exchangeOptions(model.OKX))
		if err != nil {
			return trader.Deps{}, fmt.Errorf("model %d: 初始化 OKX 客户端失败: %w", model.ID, err)
		}
		deps.Executor = trader.NewExchangeExecutor(client)
	}
	logger.Infof("[manager] bot %d(%s) 已构建 mode=%s", model.ID, model.Name, deps.Executor.Mode())
	return deps, nil
}

func (b *BotBuilder) Release(modelID int64) {
	b.reconciler.Forget(modelID)
}

func (b *BotBuilder) exchangeOptions(creds types.OKXCredentials) okx.Options {
	e := b.cfg.Exchange
	return okx.Options{
		BaseURL:           e.BaseURL,
		Credentials:       creds,
		Timeout:           config.Seconds(e.TimeoutSeconds),
		MaxAttempts:       e.MaxAttempts,
		DefaultRetryAfter: config.Seconds(e.DefaultRetryAfterSeconds),
		Limits: okx.RateLimits{
			MinInterval: time.Duration(e.MinIntervalMs) * time.Millisecond,
			PerSecond:   e.MaxPerSecond,
			PerMinute:   e.MaxPerMinute,
		},
		CacheTTL:         config.Seconds(e.CacheSeconds),
		AccountConfigTTL: config.Seconds(e.AccountConfigCacheSeconds),
		Observer:         b.observer,
	}
}

func (b *BotBuilder) decider(model types.Model) decision.Decider {
	key := strings.TrimSpace(model.APIKey)
	if key == "" {
		key = b.cfg.AI.APIKey
	}
	if key == "" || strings.TrimSpace(model.ModelName) == "" {
		logger.Warnf("[manager] bot %d 未配置模型密钥或模型名，决策固定为 hold", model.ID)
		return decision.HoldDecider{}
	}
	client := &provider.OpenAIChatClient{
		BaseURL:      model.APIURL,
		APIKey:       key,
		Model:        model.ModelName,
		Timeout:      config.Seconds(b.cfg.AI.TimeoutSeconds),
		MaxRetries:   b.cfg.AI.MaxRetries,
		ExtraHeaders: b.cfg.AI.Headers,
	}
	return decision.NewLLMDecider(client, nil, b.cfg.AI.MaxTokens, b.cfg.AI.ExpectJSON)
}

// signature 影响依赖构造的字段；变化时重建 bot。
func signature(m types.Model) string {
	return strings.Join([]string{
		m.APIURL, m.APIKey, m.ModelName,
		m.OKX.APIKey, m.OKX.SecretKey, m.OKX.Passphrase, fmt.Sprint(m.OKX.Sandbox),
	}, "|")
}
