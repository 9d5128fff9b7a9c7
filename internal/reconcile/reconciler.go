// Package reconcile 以交易所持仓为准修正本地账本。
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultTolerance = 0.0001
)

// PositionStore 本地持仓的读写。
type PositionStore interface {
	ListPositions(ctx context.Context, modelID int64) ([]types.Position, error)
	UpdatePosition(ctx context.Context, modelID int64, pos types.Position) error
	ClosePosition(ctx context.Context, modelID int64, coin string, side types.Side) error
}

// Report 一次同步的结果；Skipped 表示被节流跳过。
type Report struct {
	Skipped bool
	Actions []types.SyncAction
}

// Reconciler 每个 bot 独立节流；force 时立即执行。
type Reconciler struct {
	store     PositionStore
	interval  time.Duration
	tolerance float64
	now       func() time.Time

	mu      sync.Mutex
	lastRun map[int64]time.Time
}

func New(store PositionStore, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		store:     store,
		interval:  interval,
		tolerance: DefaultTolerance,
		now:       time.Now,
		lastRun:   make(map[int64]time.Time),
	}
}

// Sync 读取本地持仓，与 remote 比较并立即应用修正。
// 全部修正成功后才记录本次运行时间，失败时下一次调用会重试。
func (r *Reconciler) Sync(ctx context.Context, modelID int64, remote []types.Position, force bool) (Report, error) {
	now := r.now()
	if !force && !r.due(modelID, now) {
		return Report{Skipped: true}, nil
	}
	local, err := r.store.ListPositions(ctx, modelID)
	if err != nil {
		return Report{}, fmt.Errorf("读取本地持仓失败: %w", err)
	}
	actions := Diff(local, remote, r.tolerance)
	applied, err := r.apply(ctx, modelID, actions)
	if err != nil {
		return Report{Actions: applied}, err
	}
	r.mu.Lock()
	r.lastRun[modelID] = now
	r.mu.Unlock()
	if len(applied) > 0 {
		logger.Infof("[reconcile] model=%d 修正 %d 项", modelID, len(applied))
	}
	return Report{Actions: applied}, nil
}

// Forget 删除 bot 时清理节流状态。
func (r *Reconciler) Forget(modelID int64) {
	r.mu.Lock()
	delete(r.lastRun, modelID)
	r.mu.Unlock()
}

func (r *Reconciler) due(modelID int64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastRun[modelID]
	return !ok || now.Sub(last) >= r.interval
}

func (r *Reconciler) apply(ctx context.Context, modelID int64, actions []types.SyncAction) ([]types.SyncAction, error) {
	var (
		errs    error
		applied = make([]types.SyncAction, 0, len(actions))
	)
	for _, a := range actions {
		var err error
		switch a.Kind {
		case types.SyncPhantomLocalCleanup:
			err = r.store.ClosePosition(ctx, modelID, a.Before.Coin, a.Before.Side)
		case types.SyncPhantomRemoteAdopt, types.SyncQuantityCorrect:
			err = r.store.UpdatePosition(ctx, modelID, *a.After)
		case types.SyncSideMismatchCorrect:
			if a.Before != nil {
				err = r.store.ClosePosition(ctx, modelID, a.Before.Coin, a.Before.Side)
			}
			if err == nil {
				err = r.store.UpdatePosition(ctx, modelID, *a.After)
			}
		}
		if err != nil {
			logger.Warnf("[reconcile] model=%d %s %s 失败: %v", modelID, a.Kind, a.Coin, err)
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", a.Kind, a.Coin, err))
			continue
		}
		logger.Infof("[reconcile] model=%d %s %s before=%s after=%s", modelID, a.Kind, a.Coin, describe(a.Before), describe(a.After))
		applied = append(applied, a)
	}
	return applied, errs
}

// Diff 三轮比较：本地幽灵仓删除、远端仓位收编/方向纠正、数量漂移覆盖。纯函数。
func Diff(local, remote []types.Position, tolerance float64) []types.SyncAction {
	remoteByCoin := groupByCoin(remote)
	localByCoin := groupByCoin(local)
	var actions []types.SyncAction

	// 1. 远端不存在该币种的本地持仓
	for _, coin := range sortedKeys(localByCoin) {
		if _, ok := remoteByCoin[coin]; ok {
			continue
		}
		for _, p := range localByCoin[coin] {
			before := p
			actions = append(actions, types.SyncAction{Kind: types.SyncPhantomLocalCleanup, Coin: coin, Before: &before})
		}
		delete(localByCoin, coin)
	}

	// 2. 远端有而本地无：收编；方向不一致：先删后收编
	for _, coin := range sortedKeys(remoteByCoin) {
		locals := localByCoin[coin]
		for _, rp := range remoteByCoin[coin] {
			if _, ok := findSide(locals, rp.Side); ok {
				continue
			}
			after := rp
			var stale *types.Position
			for _, lp := range locals {
				if _, ok := findSide(remoteByCoin[coin], lp.Side); !ok {
					cp := lp
					stale = &cp
					break
				}
			}
			if stale == nil {
				actions = append(actions, types.SyncAction{Kind: types.SyncPhantomRemoteAdopt, Coin: coin, After: &after})
				continue
			}
			actions = append(actions, types.SyncAction{Kind: types.SyncSideMismatchCorrect, Coin: coin, Before: stale, After: &after})
			locals = removeSide(locals, stale.Side)
		}
		// 远端同时存在的另一侧已处理完，本地剩余无对应方向的记录清理掉
		for _, lp := range locals {
			if _, ok := findSide(remoteByCoin[coin], lp.Side); !ok {
				before := lp
				actions = append(actions, types.SyncAction{Kind: types.SyncPhantomLocalCleanup, Coin: coin, Before: &before})
			}
		}
	}

	// 3. 同方向数量漂移
	for _, coin := range sortedKeys(remoteByCoin) {
		for _, rp := range remoteByCoin[coin] {
			lp, ok := findSide(localByCoin[coin], rp.Side)
			if !ok || !drifted(lp.Quantity, rp.Quantity, tolerance) {
				continue
			}
			before, after := lp, rp
			actions = append(actions, types.SyncAction{Kind: types.SyncQuantityCorrect, Coin: coin, Before: &before, After: &after})
		}
	}
	return actions
}

func drifted(local, remote, tolerance float64) bool {
	if remote <= 0 {
		return local > 0
	}
	return math.Abs(local-remote)/remote > tolerance
}

func groupByCoin(list []types.Position) map[string][]types.Position {
	out := make(map[string][]types.Position)
	for _, p := range list {
		if p.Quantity <= 0 || !p.Side.Valid() {
			continue
		}
		out[p.Coin] = append(out[p.Coin], p)
	}
	return out
}

func findSide(list []types.Position, side types.Side) (types.Position, bool) {
	for _, p := range list {
		if p.Side == side {
			return p, true
		}
	}
	return types.Position{}, false
}

func removeSide(list []types.Position, side types.Side) []types.Position {
	out := list[:0:0]
	for _, p := range list {
		if p.Side != side {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string][]types.Position) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describe(p *types.Position) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.6g@%.6g x%d", p.Side, p.Quantity, p.AvgPrice, p.EffectiveLeverage())
}
