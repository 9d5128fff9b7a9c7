package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aitrade/internal/app"
	"aitrade/internal/config"
	"aitrade/internal/logger"
)

// 入口程序：
// 1) 加载 .env 与 TOML 配置
// 2) 初始化日志（控制台 + 滚动文件）
// 3) 构建依赖并启动监督循环；-once 只跑一轮，-trigger 立即执行指定 bot
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（默认读取 AITRADE_CONFIG 或 configs/config.toml）")
	once := flag.Bool("once", false, "执行一轮调度后退出")
	trigger := flag.Int64("trigger", 0, "立即执行指定 bot 的一个周期后退出")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		log.Fatalf("加载 .env 失败: %v", err)
	}
	path := *cfgPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.Init(logger.Options{
		Level:      cfg.App.LogLevel,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    cfg.Log.Console,
	})
	defer logger.Sync()
	logger.Infof("✓ 配置加载成功（环境=%s，tick=%ds，风控=%v）", cfg.App.Env, cfg.Scheduler.TickSeconds, !cfg.Risk.Disabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		logger.Errorf("初始化失败: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	switch {
	case *trigger > 0:
		res, err := a.Trigger(ctx, *trigger)
		if err != nil {
			logger.Errorf("执行 bot %d 失败: %v", *trigger, err)
			os.Exit(1)
		}
		logger.Infof("bot %d 周期结束 state=%s success=%v executions=%d", *trigger, res.State, res.Success, len(res.Executions))
	case *once:
		if err := a.RunOnce(ctx); err != nil {
			logger.Errorf("调度失败: %v", err)
			os.Exit(1)
		}
	default:
		if err := a.Run(ctx); err != nil {
			logger.Errorf("运行结束: %v", err)
			os.Exit(1)
		}
	}
	logger.Infof("已退出")
}
