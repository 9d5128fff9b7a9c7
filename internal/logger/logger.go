package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 中文说明：
// 轻量日志封装：保留 Debugf/Infof/Warnf/Errorf 门面，底层使用 zap，
// 可选写入 lumberjack 滚动文件；支持设置全局级别，便于减少刷屏。

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options 对应配置文件 [log] 段。
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool
}

var (
	mu    sync.RWMutex
	atom  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newSugar(Options{Console: true}, atom)
)

// Init 按配置重建底层 logger；重复调用安全。
func Init(opts Options) {
	if !opts.Console && strings.TrimSpace(opts.File) == "" {
		opts.Console = true
	}
	SetLevel(opts.Level)
	next := newSugar(opts, atom)
	mu.Lock()
	prev := sugar
	sugar = next
	mu.Unlock()
	_ = prev.Sync()
}

func newSugar(opts Options, level zap.AtomicLevel) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level))
	}
	if file := strings.TrimSpace(opts.File); file != "" {
		rotate := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    positiveOr(opts.MaxSizeMB, 100),
			MaxBackups: positiveOr(opts.MaxBackups, 5),
			MaxAge:     positiveOr(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotate), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func SetLevel(s string) {
	atom.SetLevel(toZap(parseLevel(s)))
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func toZap(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// With 返回带固定字段的子 logger（例如 model_id / cycle_id）。
func With(kv ...any) *zap.SugaredLogger {
	return current().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(kv...)
}

func Debugf(format string, v ...any) { current().Debugf(format, v...) }
func Infof(format string, v ...any)  { current().Infof(format, v...) }
func Warnf(format string, v ...any)  { current().Warnf(format, v...) }
func Errorf(format string, v ...any) { current().Errorf(format, v...) }

// Sync 刷新缓冲，进程退出前调用。
func Sync() {
	_ = current().Sync()
}
