package okx

import (
	"context"
	"sync"
	"time"
)

// RateLimits 单个 endpoint 的三重限制。
type RateLimits struct {
	MinInterval time.Duration
	PerSecond   int
	PerMinute   int
}

// DefaultRateLimits OKX 私有接口的保守默认值。
var DefaultRateLimits = RateLimits{
	MinInterval: 100 * time.Millisecond,
	PerSecond:   10,
	PerMinute:   600,
}

type endpointWindow struct {
	last   time.Time
	stamps []time.Time // 近 60s 内的请求时间，升序
}

// RateLimiter 按 endpoint 记账：最小间隔、1s 滚动窗口、60s 滚动窗口同时生效。
// 超限时阻塞调用方直到最早的窗口记录过期，不会丢弃请求。
type RateLimiter struct {
	mu      sync.Mutex
	limits  RateLimits
	windows map[string]*endpointWindow
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

func NewRateLimiter(limits RateLimits) *RateLimiter {
	if limits.PerSecond <= 0 {
		limits.PerSecond = DefaultRateLimits.PerSecond
	}
	if limits.PerMinute <= 0 {
		limits.PerMinute = DefaultRateLimits.PerMinute
	}
	if limits.MinInterval < 0 {
		limits.MinInterval = 0
	}
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string]*endpointWindow),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Reserve 阻塞直到 endpoint 允许再发一次请求，然后记录本次请求时间。
func (l *RateLimiter) Reserve(ctx context.Context, endpoint string) error {
	if l == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		now := l.now()
		w := l.window(endpoint)
		wait := l.waitLocked(w, now)
		if wait <= 0 {
			w.last = now
			w.stamps = append(w.stamps, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *RateLimiter) window(endpoint string) *endpointWindow {
	w, ok := l.windows[endpoint]
	if !ok {
		w = &endpointWindow{}
		l.windows[endpoint] = w
	}
	return w
}

// waitLocked 计算三项约束各自需要的等待时间，取最大值。
func (l *RateLimiter) waitLocked(w *endpointWindow, now time.Time) time.Duration {
	cutoff := now.Add(-time.Minute)
	drop := 0
	for drop < len(w.stamps) && !w.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}

	var wait time.Duration
	if !w.last.IsZero() && l.limits.MinInterval > 0 {
		if d := l.limits.MinInterval - now.Sub(w.last); d > wait {
			wait = d
		}
	}

	secCutoff := now.Add(-time.Second)
	first := len(w.stamps)
	for i, ts := range w.stamps {
		if ts.After(secCutoff) {
			first = i
			break
		}
	}
	if inSecond := len(w.stamps) - first; inSecond >= l.limits.PerSecond {
		oldest := w.stamps[len(w.stamps)-l.limits.PerSecond]
		if d := oldest.Add(time.Second).Sub(now); d > wait {
			wait = d
		}
	}

	if len(w.stamps) >= l.limits.PerMinute {
		oldest := w.stamps[len(w.stamps)-l.limits.PerMinute]
		if d := oldest.Add(time.Minute).Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
