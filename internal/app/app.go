// Package app 应用级编排：构建依赖图并启动监督循环、运维接口与后台维护任务。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"aitrade/internal/config"
	"aitrade/internal/logger"
	"aitrade/internal/manager"
	"aitrade/internal/monitor"
	"aitrade/internal/trader"
	"aitrade/internal/transport/web"
)

const (
	healthInterval = 5 * time.Minute
	alertRetention = 7 * 24 * time.Hour
)

// App 持有已构建的组件；Close 释放数据库。
type App struct {
	cfg     *config.Config
	manager *manager.Manager
	monitor *monitor.Monitor
	web     *web.Server
	cleanup func()
}

func newApp(cfg *config.Config, mgr *manager.Manager, mon *monitor.Monitor, srv *web.Server) *App {
	return &App{cfg: cfg, manager: mgr, monitor: mon, web: srv}
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return a, nil
}

// Run 启动监督循环、运维接口与健康检查，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.manager == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.web != nil {
		group.Go(func() error {
			if err := a.web.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("运维接口停止: %v", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.housekeeping(ctx)
		return nil
	})

	group.Go(func() error {
		return a.manager.Run(ctx)
	})

	return group.Wait()
}

// RunOnce 执行一轮调度后返回（运维/调试用）。
func (a *App) RunOnce(ctx context.Context) error {
	return a.manager.RunOnce(ctx, time.Now())
}

// Trigger 立即执行指定 bot 的一个周期。
func (a *App) Trigger(ctx context.Context, modelID int64) (trader.Result, error) {
	return a.manager.TriggerNow(ctx, modelID)
}

func (a *App) Close() {
	if a != nil && a.cleanup != nil {
		a.cleanup()
	}
}

// housekeeping 定期健康检查并清理过期告警。
func (a *App) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := a.monitor.Health(ctx)
			if h.Status != monitor.StatusHealthy {
				logger.Warnf("健康检查 %s: %+v", h.Status, h.Checks)
			} else {
				logger.Debugf("健康检查正常")
			}
			if n := a.monitor.ClearOlderThan(alertRetention); n > 0 {
				logger.Infof("清理过期告警 %d 条", n)
			}
		}
	}
}
