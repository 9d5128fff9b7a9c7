// Package manager 监督循环：按各 bot 的交易频率调度周期，不同 bot 并发，同一 bot 串行。
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/semaphore"

	"aitrade/internal/coins"
	"aitrade/internal/config"
	"aitrade/internal/logger"
	"aitrade/internal/trader"
	"aitrade/internal/types"
)

// ErrBusy 该 bot 已有周期在执行。
var ErrBusy = errors.New("bot cycle already running")

// ModelSource bot 配置来源。
type ModelSource interface {
	ListModels(ctx context.Context) ([]types.Model, error)
	GetModel(ctx context.Context, id int64) (*types.Model, error)
}

// CycleObserver 周期结束回调（指标）。
type CycleObserver interface {
	ObserveCycle(res trader.Result)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(trader.Result) {}

type Options struct {
	Tick            time.Duration
	Cooldown        time.Duration
	DefaultInterval time.Duration
	MaxConcurrent   int
}

func OptionsFromConfig(c config.SchedulerConfig) Options {
	return Options{
		Tick:            config.Seconds(c.TickSeconds),
		Cooldown:        config.Seconds(c.CooldownSeconds),
		DefaultInterval: config.Seconds(c.DefaultIntervalSeconds),
		MaxConcurrent:   c.MaxConcurrent,
	}
}

// BotStatus 调度状态快照。
type BotStatus struct {
	ModelID  int64         `json:"model_id"`
	Name     string        `json:"name"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	NextRun  time.Time     `json:"next_run"`
	Running  bool          `json:"running"`
	Last     *CycleSummary `json:"last,omitempty"`
}

type bot struct {
	// mu 保证同一 bot 的周期不会重叠
	mu      sync.Mutex
	running atomic.Bool
	sig     string
	deps    trader.Deps
}

type Manager struct {
	models   ModelSource
	builder  Builder
	observer CycleObserver
	opts     Options

	mu      sync.Mutex
	bots    map[int64]*bot
	known   map[int64]types.Model
	lastRun map[int64]time.Time
	last    *lastResultCache
	// slots 限制同时执行的周期数，跨 tick 共享
	slots *semaphore.Weighted

	now func() time.Time
}

func New(models ModelSource, builder Builder, observer CycleObserver, opts Options) *Manager {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 60 * time.Second
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = types.DefaultTradingFrequency * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Manager{
		models:   models,
		builder:  builder,
		observer: observer,
		opts:     opts,
		bots:     make(map[int64]*bot),
		known:    make(map[int64]types.Model),
		lastRun:  make(map[int64]time.Time),
		last:     newLastResultCache(0),
		slots:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:      time.Now,
	}
}

// Run 按 tick 调度直到 ctx 结束。调度逻辑本身出错时按退避冷却后重试整个循环。
func (m *Manager) Run(ctx context.Context) error {
	logger.Infof("[manager] 监督循环启动 tick=%s cooldown=%s max_concurrent=%d", m.opts.Tick, m.opts.Cooldown, m.opts.MaxConcurrent)
	ticker := time.NewTicker(m.opts.Tick)
	defer ticker.Stop()
	bo := &backoff.Backoff{Min: m.opts.Cooldown, Max: 10 * m.opts.Cooldown, Factor: 2}
	// 周期各自在 goroutine 中执行，tick 之间不等待；退出时等待在途周期结束
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		if err := m.dispatch(ctx, m.now(), &inflight); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.Duration()
			logger.Errorf("[manager] 调度失败，%s 后重试: %v", wait, err)
			if sleepCtx(ctx, wait) != nil {
				return nil
			}
			continue
		}
		bo.Reset()
		select {
		case <-ctx.Done():
			logger.Infof("[manager] 监督循环退出")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce 派发所有到期的 bot 并等待本轮派发的周期完成（-once 与测试用）。只有加载 bot 列表失败会返回错误。
func (m *Manager) RunOnce(ctx context.Context, now time.Time) error {
	var wg sync.WaitGroup
	err := m.dispatch(ctx, now, &wg)
	wg.Wait()
	return err
}

// dispatch 为每个到期且空闲的 bot 启动一个 goroutine，不等待其完成。
// 同一 bot 由 TryLock 保证串行；并发上限由 slots 控制，等待名额的 bot 不阻塞调度。
func (m *Manager) dispatch(ctx context.Context, now time.Time, wg *sync.WaitGroup) error {
	models, err := m.models.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("加载 bot 列表失败: %w", err)
	}
	m.sync(models)

	for _, model := range models {
		model := model
		if !model.AutoTradingEnabled || !m.due(model, now) {
			continue
		}
		b := m.bot(model.ID)
		if !b.mu.TryLock() {
			logger.Debugf("[manager] bot %d 上一周期仍在执行，跳过", model.ID)
			continue
		}
		m.markRun(model.ID, now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.mu.Unlock()
			if err := m.slots.Acquire(ctx, 1); err != nil {
				return
			}
			defer m.slots.Release(1)
			if _, err := m.runBot(ctx, b, model); err != nil {
				logger.Errorf("[manager] bot %d 执行失败: %v", model.ID, err)
			}
		}()
	}
	return nil
}

// TriggerNow 立即执行一次指定 bot 的周期（忽略频率），与调度互斥。
func (m *Manager) TriggerNow(ctx context.Context, modelID int64) (trader.Result, error) {
	model, err := m.models.GetModel(ctx, modelID)
	if err != nil {
		return trader.Result{}, err
	}
	m.remember(*model)
	b := m.bot(modelID)
	if !b.mu.TryLock() {
		return trader.Result{}, ErrBusy
	}
	defer b.mu.Unlock()
	m.markRun(modelID, m.now())
	return m.runBot(ctx, b, *model)
}

// Status 按 bot id 排序的调度状态。
func (m *Manager) Status() []BotStatus {
	now := m.now()
	m.mu.Lock()
	out := make([]BotStatus, 0, len(m.known))
	for id, model := range m.known {
		interval := model.Interval(m.opts.DefaultInterval)
		st := BotStatus{
			ModelID:  id,
			Name:     model.Name,
			Enabled:  model.AutoTradingEnabled,
			Interval: interval,
			LastRun:  m.lastRun[id],
		}
		if !st.LastRun.IsZero() {
			st.NextRun = st.LastRun.Add(interval)
		}
		if b, ok := m.bots[id]; ok {
			st.Running = b.running.Load()
		}
		out = append(out, st)
	}
	m.mu.Unlock()
	for i := range out {
		if s, ok := m.last.Get(out[i].ModelID, now); ok {
			out[i].Last = &s
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

func (m *Manager) runBot(ctx context.Context, b *bot, model types.Model) (res trader.Result, err error) {
	b.running.Store(true)
	defer b.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bot %d panic: %v", model.ID, r)
		}
	}()

	if b.sig != signature(model) || b.deps.Store == nil {
		deps, err := m.builder.Build(ctx, model)
		if err != nil {
			return trader.Result{}, err
		}
		b.deps, b.sig = deps, signature(model)
	}
	list, err := coins.FromCSV(model.TradingCoins).List(ctx)
	if err != nil {
		logger.Warnf("[manager] bot %d 币种配置无效(%v)，使用默认列表", model.ID, err)
		list, _ = coins.FromCSV(types.DefaultTradingCoins).List(ctx)
	}
	res = trader.NewCycle(b.deps, model, list).Run(ctx)
	m.last.Set(model.ID, summarize(res))
	m.observer.ObserveCycle(res)
	if !res.Success {
		logger.Warnf("[manager] bot %d 周期未完成 state=%s: %v", model.ID, res.State, res.Err)
	}
	return res, nil
}

func (m *Manager) due(model types.Model, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastRun[model.ID]
	return !ok || now.Sub(last) >= model.Interval(m.opts.DefaultInterval)
}

func (m *Manager) markRun(id int64, now time.Time) {
	m.mu.Lock()
	m.lastRun[id] = now
	m.mu.Unlock()
}

func (m *Manager) bot(id int64) *bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		b = &bot{}
		m.bots[id] = b
	}
	return b
}

func (m *Manager) remember(model types.Model) {
	m.mu.Lock()
	m.known[model.ID] = model
	m.mu.Unlock()
}

// sync 刷新已知 bot，释放已删除 bot 的状态。
func (m *Manager) sync(models []types.Model) {
	seen := make(map[int64]struct{}, len(models))
	var removed []int64
	m.mu.Lock()
	for _, model := range models {
		seen[model.ID] = struct{}{}
		m.known[model.ID] = model
	}
	for id := range m.known {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(m.known, id)
		delete(m.bots, id)
		delete(m.lastRun, id)
		removed = append(removed, id)
	}
	m.mu.Unlock()
	for _, id := range removed {
		m.last.Delete(id)
		m.builder.Release(id)
		logger.Infof("[manager] bot %d 已删除，释放调度状态", id)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
