package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aitrade/internal/decision"
	"aitrade/internal/trader"
	"aitrade/internal/types"
)

type stubModels struct {
	mu     sync.Mutex
	models []types.Model
	err    error
}

func (s *stubModels) ListModels(context.Context) ([]types.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Model(nil), s.models...), s.err
}

func (s *stubModels) GetModel(_ context.Context, id int64) (*types.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubModels) set(models ...types.Model) {
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
}

// flatStore 空账本：只记录写入次数。
type flatStore struct {
	mu     sync.Mutex
	values map[int64]int
}

func (s *flatStore) ListPositions(context.Context, int64) ([]types.Position, error) {
	return nil, nil
}

func (s *flatStore) UpdatePosition(context.Context, int64, types.Position) error {
	return nil
}

func (s *flatStore) ClosePosition(context.Context, int64, string, types.Side) error {
	return nil
}

func (s *flatStore) GetPortfolio(_ context.Context, id int64, _ map[string]float64, _ *types.ExchangeAccount) (*types.Portfolio, error) {
	return &types.Portfolio{ModelID: id, Cash: 1000, TotalValue: 1000}, nil
}

func (s *flatStore) AddTrade(context.Context, types.Trade) (int64, error) {
	return 1, nil
}

func (s *flatStore) AddConversation(context.Context, types.Conversation) error {
	return nil
}

func (s *flatStore) RecordAccountValue(_ context.Context, v types.AccountValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[int64]int{}
	}
	s.values[v.ModelID]++
	return nil
}

func (s *flatStore) runs(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

type noMarket struct{}

func (noMarket) Snapshot(_ context.Context, list []string) []types.MarketSnapshot {
	out := make([]types.MarketSnapshot, 0, len(list))
	for _, c := range list {
		out = append(out, types.MarketSnapshot{Coin: c, Quote: types.PriceQuote{Price: 100}})
	}
	return out
}

type stubBuilder struct {
	mu       sync.Mutex
	store    *flatStore
	decider  decision.Decider
	deciders map[int64]decision.Decider
	failFor  map[int64]bool
	builds   map[int64]int
	released []int64
}

func newStubBuilder() *stubBuilder {
	return &stubBuilder{store: &flatStore{}, failFor: map[int64]bool{}, builds: map[int64]int{}}
}

func (b *stubBuilder) Build(_ context.Context, model types.Model) (trader.Deps, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFor[model.ID] {
		return trader.Deps{}, errors.New("bad credentials")
	}
	b.builds[model.ID]++
	d := b.decider
	if per, ok := b.deciders[model.ID]; ok {
		d = per
	}
	return trader.Deps{Store: b.store, Market: noMarket{}, Decider: d}, nil
}

func (b *stubBuilder) Release(id int64) {
	b.mu.Lock()
	b.released = append(b.released, id)
	b.mu.Unlock()
}

type countingObserver struct {
	mu      sync.Mutex
	results []trader.Result
}

func (o *countingObserver) ObserveCycle(res trader.Result) {
	o.mu.Lock()
	o.results = append(o.results, res)
	o.mu.Unlock()
}

// gateDecider 阻塞在 Decide 直到 release 关闭。
type gateDecider struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gateDecider) Decide(ctx context.Context, input decision.Context) (decision.Result, error) {
	select {
	case d.entered <- struct{}{}:
	case <-ctx.Done():
		return decision.Result{}, ctx.Err()
	}
	select {
	case <-d.release:
	case <-ctx.Done():
		return decision.Result{}, ctx.Err()
	}
	return decision.Result{Intents: decision.HoldAll(input.Coins, "")}, nil
}

func newModel(id int64, enabled bool, freq int) types.Model {
	return types.Model{ID: id, Name: "bot", InitialCapital: 1000, TradingCoins: "BTC", AutoTradingEnabled: enabled, TradingFrequency: freq}
}

func TestRunOnceDispatchesDueBots(t *testing.T) {
	models := &stubModels{models: []types.Model{newModel(1, true, 60), newModel(2, false, 60), newModel(3, true, 300)}}
	builder := newStubBuilder()
	obs := &countingObserver{}
	m := New(models, builder, obs, Options{Tick: time.Second, MaxConcurrent: 2})
	start := time.Unix(1_700_000_000, 0)

	if err := m.RunOnce(context.Background(), start); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if builder.store.runs(1) != 1 || builder.store.runs(3) != 1 || builder.store.runs(2) != 0 {
		t.Fatalf("unexpected runs: %+v", builder.store.values)
	}

	if err := m.RunOnce(context.Background(), start.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if builder.store.runs(1) != 1 {
		t.Fatalf("bot 1 ran before its interval elapsed")
	}

	if err := m.RunOnce(context.Background(), start.Add(61*time.Second)); err != nil {
		t.Fatal(err)
	}
	if builder.store.runs(1) != 2 || builder.store.runs(3) != 1 {
		t.Fatalf("expected only bot 1 to rerun: %+v", builder.store.values)
	}
	if builder.builds[1] != 1 {
		t.Fatalf("deps should be reused across cycles, built %d times", builder.builds[1])
	}
	if len(obs.results) != 3 {
		t.Fatalf("observer saw %d cycles", len(obs.results))
	}
}

func TestRunOnceRebuildsWhenCredentialsChange(t *testing.T) {
	models := &stubModels{models: []types.Model{newModel(1, true, 60)}}
	builder := newStubBuilder()
	m := New(models, builder, nil, Options{})
	start := time.Unix(1_700_000_000, 0)
	_ = m.RunOnce(context.Background(), start)

	changed := newModel(1, true, 60)
	changed.APIKey = "new-key"
	models.set(changed)
	_ = m.RunOnce(context.Background(), start.Add(2*time.Minute))
	if builder.builds[1] != 2 {
		t.Fatalf("expected rebuild after credential change, got %d builds", builder.builds[1])
	}
}

func TestRunOnceListFailure(t *testing.T) {
	m := New(&stubModels{err: errors.New("db closed")}, newStubBuilder(), nil, Options{})
	if err := m.RunOnce(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildFailureIsolatedPerBot(t *testing.T) {
	models := &stubModels{models: []types.Model{newModel(1, true, 60), newModel(2, true, 60)}}
	builder := newStubBuilder()
	builder.failFor[1] = true
	m := New(models, builder, nil, Options{})
	if err := m.RunOnce(context.Background(), time.Now()); err != nil {
		t.Fatalf("bot failure must not fail the loop: %v", err)
	}
	if builder.store.runs(2) != 1 {
		t.Fatalf("healthy bot should still run")
	}
}

func TestTriggerNowIsMutuallyExclusive(t *testing.T) {
	gate := &gateDecider{entered: make(chan struct{}), release: make(chan struct{})}
	models := &stubModels{models: []types.Model{newModel(7, true, 60)}}
	builder := newStubBuilder()
	builder.decider = gate
	m := New(models, builder, nil, Options{})

	done := make(chan trader.Result, 1)
	go func() {
		res, _ := m.TriggerNow(context.Background(), 7)
		done <- res
	}()
	<-gate.entered

	if _, err := m.TriggerNow(context.Background(), 7); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := m.RunOnce(context.Background(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	st := m.Status()
	if len(st) != 1 || !st[0].Running {
		t.Fatalf("status should report running: %+v", st)
	}

	close(gate.release)
	res := <-done
	if !res.Success {
		t.Fatalf("triggered cycle failed: %v", res.Err)
	}
	if builder.store.runs(7) != 1 {
		t.Fatalf("cycle overlapped: %d runs", builder.store.runs(7))
	}
	st = m.Status()
	if st[0].Running || st[0].Last == nil || !st[0].Last.Success {
		t.Fatalf("status after run: %+v", st[0])
	}
}

func TestDeletedBotIsReleased(t *testing.T) {
	models := &stubModels{models: []types.Model{newModel(1, true, 60), newModel(2, true, 60)}}
	builder := newStubBuilder()
	m := New(models, builder, nil, Options{})
	_ = m.RunOnce(context.Background(), time.Now())
	models.set(newModel(1, true, 60))
	_ = m.RunOnce(context.Background(), time.Now())
	if len(builder.released) != 1 || builder.released[0] != 2 {
		t.Fatalf("expected bot 2 released, got %v", builder.released)
	}
	if st := m.Status(); len(st) != 1 || st[0].ModelID != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := New(&stubModels{}, newStubBuilder(), nil, Options{Tick: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestBlockedBotDoesNotStallOthers(t *testing.T) {
	gate := &gateDecider{entered: make(chan struct{}), release: make(chan struct{})}
	models := &stubModels{models: []types.Model{newModel(1, true, 1), newModel(2, true, 1)}}
	builder := newStubBuilder()
	builder.deciders = map[int64]decision.Decider{1: gate}
	m := New(models, builder, nil, Options{Tick: 20 * time.Millisecond, MaxConcurrent: 4})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("bot 1 never started")
	}

	deadline := time.Now().Add(5 * time.Second)
	for builder.store.runs(2) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("bot 2 completed %d cycles while bot 1 was blocked", builder.store.runs(2))
		}
		time.Sleep(20 * time.Millisecond)
	}

	// bot 1 每秒到期，但上一周期仍持有锁，不能重入
	select {
	case <-gate.entered:
		t.Fatalf("bot 1 cycle overlapped itself")
	default:
	}
	if builder.store.runs(1) != 0 {
		t.Fatalf("bot 1 should still be blocked, runs=%d", builder.store.runs(1))
	}
	st := m.Status()
	if len(st) != 2 || !st[0].Running {
		t.Fatalf("status should show bot 1 running: %+v", st)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not wait for and finish in-flight cycles")
	}
}

func TestConcurrencyLimitSharedAcrossTicks(t *testing.T) {
	gate := &gateDecider{entered: make(chan struct{}), release: make(chan struct{})}
	models := &stubModels{models: []types.Model{newModel(1, true, 1)}}
	builder := newStubBuilder()
	builder.deciders = map[int64]decision.Decider{1: gate}
	m := New(models, builder, nil, Options{Tick: 20 * time.Millisecond, MaxConcurrent: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	<-gate.entered
	models.set(newModel(1, true, 1), newModel(2, true, 1))
	time.Sleep(200 * time.Millisecond)
	if n := builder.store.runs(2); n != 0 {
		t.Fatalf("bot 2 ran %d times while the only slot was taken", n)
	}
	close(gate.release)

	deadline := time.Now().Add(3 * time.Second)
	for builder.store.runs(2) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("bot 2 never got the slot")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-errCh
}
