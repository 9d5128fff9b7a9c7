// Package trader 单个 bot 的交易周期：对账 → 止盈止损 → 决策 → 风控执行 → 记账。
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"aitrade/internal/decision"
	"aitrade/internal/gateway/okx"
	"aitrade/internal/logger"
	"aitrade/internal/reconcile"
	"aitrade/internal/risk"
	"aitrade/internal/types"
)

// State 周期状态，严格顺序推进。
type State string

const (
	StateFetchMarket    State = "FETCH_MARKET"
	StateReconcile      State = "RECONCILE"
	StateCheckExits     State = "CHECK_EXITS"
	StateExecuteExits   State = "EXECUTE_EXITS"
	StateBuildContext   State = "BUILD_CONTEXT"
	StateConsultOracle  State = "CONSULT_ORACLE"
	StateExecute        State = "VALIDATE_AND_EXECUTE"
	StateRecordSnapshot State = "RECORD_SNAPSHOT"
	StateDone           State = "DONE"
)

// Store 周期用到的持久化操作。
type Store interface {
	reconcile.PositionStore
	GetPortfolio(ctx context.Context, modelID int64, prices map[string]float64, account *types.ExchangeAccount) (*types.Portfolio, error)
	AddTrade(ctx context.Context, t types.Trade) (int64, error)
	AddConversation(ctx context.Context, c types.Conversation) error
	RecordAccountValue(ctx context.Context, v types.AccountValue) error
}

// MarketOracle 价格与指标。缺失的币种价格为 0，不返回错误。
type MarketOracle interface {
	Snapshot(ctx context.Context, coins []string) []types.MarketSnapshot
}

// Syncer 由 reconcile.Reconciler 实现。
type Syncer interface {
	Sync(ctx context.Context, modelID int64, remote []types.Position, force bool) (reconcile.Report, error)
}

// EventSink 交易事件，由 monitor 实现。
type EventSink interface {
	LogEvent(modelID int64, eventType string, data map[string]any)
}

type nopSink struct{}

func (nopSink) LogEvent(int64, string, map[string]any) {}

// 交易事件类型。
const (
	EventTradeExecuted      = "trade_executed"
	EventRiskViolation      = "risk_violation"
	EventStopLossExecuted   = "stop_loss_executed"
	EventTakeProfitExecuted = "take_profit_executed"
	EventExitError          = "stop_loss_error"
	EventAPIError           = "api_error"
	EventPositionSynced     = "position_synced"
)

// Deps 周期依赖，全部显式注入。
type Deps struct {
	Store      Store
	Market     MarketOracle
	Decider    decision.Decider
	Risk       risk.Engine
	Executor   Executor
	Reconciler Syncer
	Events     EventSink
}

// Execution 单个币种的执行结果。
type Execution struct {
	Coin       string           `json:"coin"`
	Signal     types.Signal     `json:"signal"`
	Status     string           `json:"status"`
	Side       types.Side       `json:"side,omitempty"`
	Quantity   float64          `json:"quantity,omitempty"`
	Price      float64          `json:"price,omitempty"`
	Leverage   int              `json:"leverage,omitempty"`
	PnL        float64          `json:"pnl,omitempty"`
	OrderID    string           `json:"order_id,omitempty"`
	Message    string           `json:"message,omitempty"`
	Validation *risk.Validation `json:"validation,omitempty"`
	Exit       risk.ExitKind    `json:"exit,omitempty"`
	Err        error            `json:"-"`
}

// 执行状态。
const (
	StatusFilled        = "filled"
	StatusAlreadyClosed = "already_closed"
	StatusRejected      = "rejected"
	StatusFailed        = "failed"
	StatusHold          = "hold"
	StatusSkipped       = "skipped"
)

// Result 周期结果：失败时 State 为出错时所处状态，已提交的交易不回滚。
type Result struct {
	ModelID    int64                        `json:"model_id"`
	CycleID    string                       `json:"cycle_id"`
	Mode       string                       `json:"mode"`
	State      State                        `json:"state"`
	Success    bool                         `json:"success"`
	Err        error                        `json:"-"`
	Errors     error                        `json:"-"`
	Sync       []types.SyncAction           `json:"sync,omitempty"`
	Exits      []Execution                  `json:"exits,omitempty"`
	Decisions  map[string]types.OrderIntent `json:"decisions,omitempty"`
	Fallback   bool                         `json:"fallback"`
	Executions []Execution                  `json:"executions,omitempty"`
	Portfolio  *types.Portfolio             `json:"portfolio,omitempty"`
	StartedAt  time.Time                    `json:"started_at"`
	Duration   time.Duration                `json:"duration"`
}

// Error 周期级错误摘要。
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", r.State, r.Err)
}

// Cycle 一个 bot 的一次交易周期。
type Cycle struct {
	deps  Deps
	model types.Model
	coins []string
	now   func() time.Time
	log   *zap.SugaredLogger

	prices  map[string]float64
	market  []types.MarketSnapshot
	live    *types.ExchangeAccount
	pf      *types.Portfolio
	errs    error
	cycleID string
}

func NewCycle(deps Deps, model types.Model, coins []string) *Cycle {
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Risk == nil {
		deps.Risk = risk.Noop{}
	}
	if deps.Decider == nil {
		deps.Decider = decision.HoldDecider{}
	}
	if deps.Executor == nil {
		deps.Executor = PaperExecutor{}
	}
	return &Cycle{deps: deps, model: model, coins: coins, now: time.Now}
}

// Run 执行完整周期，永不 panic 到调用方之外，也不把单币种失败上抛。
func (c *Cycle) Run(ctx context.Context) (res Result) {
	c.cycleID = uuid.NewString()
	c.log = logger.With("model_id", c.model.ID, "cycle_id", c.cycleID)
	res = Result{ModelID: c.model.ID, CycleID: c.cycleID, Mode: c.deps.Executor.Mode(), StartedAt: c.now()}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("panic: %v", r)
			c.log.Errorf("交易周期 panic state=%s: %v", res.State, r)
		}
		res.Errors = c.errs
		res.Duration = c.now().Sub(res.StartedAt)
	}()

	abort := func(state State, err error) Result {
		res.State = state
		res.Err = err
		c.log.Errorf("交易周期中止 state=%s: %v", state, err)
		if okx.IsAuth(err) {
			c.deps.Events.LogEvent(c.model.ID, EventAPIError, map[string]any{"state": string(state), "error": err.Error(), "kind": "authentication"})
		} else {
			c.deps.Events.LogEvent(c.model.ID, EventAPIError, map[string]any{"state": string(state), "error": err.Error()})
		}
		return res
	}

	res.State = StateFetchMarket
	c.fetchMarket(ctx)

	res.State = StateReconcile
	actions, err := c.reconcile(ctx)
	res.Sync = actions
	if err != nil {
		return abort(StateReconcile, err)
	}

	res.State = StateCheckExits
	exits := c.deps.Risk.CheckProtectiveExits(*c.pf, c.prices, risk.ExitRulesFromModel(c.model), c.live)
	if len(exits) > 0 {
		res.State = StateExecuteExits
		res.Exits = c.executeExits(ctx, exits)
		if err := c.refreshPortfolio(ctx, false); err != nil {
			return abort(StateExecuteExits, err)
		}
	}

	res.State = StateBuildContext
	input := decision.Context{
		Coins:        c.coins,
		Market:       c.market,
		Portfolio:    *c.pf,
		Account:      decision.NewAccountSummary(c.model.InitialCapital, *c.pf),
		SystemPrompt: c.model.SystemPrompt,
	}

	res.State = StateConsultOracle
	res.Decisions, res.Fallback = c.consult(ctx, input)

	res.State = StateExecute
	res.Executions = c.executeDecisions(ctx, res.Decisions)

	res.State = StateRecordSnapshot
	if err := c.refreshPortfolio(ctx, false); err != nil {
		return abort(StateRecordSnapshot, err)
	}
	if err := c.deps.Store.RecordAccountValue(ctx, types.AccountValue{
		ModelID:        c.model.ID,
		TotalValue:     c.pf.TotalValue,
		Cash:           c.pf.Cash,
		PositionsValue: c.pf.PositionsValue,
		Timestamp:      c.now(),
	}); err != nil {
		return abort(StateRecordSnapshot, fmt.Errorf("记录净值失败: %w", err))
	}
	res.Portfolio = c.pf
	res.State = StateDone
	res.Success = true
	c.log.Infof("交易周期完成 mode=%s exits=%d executions=%d fallback=%v total=%.2f", res.Mode, len(res.Exits), len(res.Executions), res.Fallback, c.pf.TotalValue)
	return res
}

func (c *Cycle) fetchMarket(ctx context.Context) {
	c.market = c.deps.Market.Snapshot(ctx, c.coins)
	c.prices = make(map[string]float64, len(c.market))
	for _, snap := range c.market {
		c.prices[snap.Coin] = snap.Quote.Price
	}
}

// reconcile 交易所模式下以权威快照修正本地账本，随后重算组合。
func (c *Cycle) reconcile(ctx context.Context) ([]types.SyncAction, error) {
	live, err := c.deps.Executor.Live(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("获取交易所快照失败: %w", err)
	}
	c.live = live
	var actions []types.SyncAction
	if live != nil && c.deps.Reconciler != nil {
		report, err := c.deps.Reconciler.Sync(ctx, c.model.ID, live.Positions, false)
		if err != nil {
			return report.Actions, fmt.Errorf("持仓对账失败: %w", err)
		}
		actions = report.Actions
		c.logSync(actions)
	}
	if err := c.loadPortfolio(ctx); err != nil {
		return actions, err
	}
	return actions, nil
}

// forceSync 平仓前绕过缓存与节流立即对账。
func (c *Cycle) forceSync(ctx context.Context) error {
	if c.deps.Executor.Mode() != ModeExchange || c.deps.Reconciler == nil {
		return nil
	}
	live, err := c.deps.Executor.Live(ctx, true)
	if err != nil {
		return err
	}
	if live == nil {
		return nil
	}
	c.live = live
	report, err := c.deps.Reconciler.Sync(ctx, c.model.ID, live.Positions, true)
	c.logSync(report.Actions)
	return err
}

func (c *Cycle) logSync(actions []types.SyncAction) {
	for _, a := range actions {
		c.deps.Events.LogEvent(c.model.ID, EventPositionSynced, map[string]any{"kind": string(a.Kind), "coin": a.Coin})
	}
}

func (c *Cycle) loadPortfolio(ctx context.Context) error {
	pf, err := c.deps.Store.GetPortfolio(ctx, c.model.ID, c.prices, c.live)
	if err != nil {
		return fmt.Errorf("计算组合失败: %w", err)
	}
	c.pf = pf
	return nil
}

// refreshPortfolio 成交后重新取交易所快照（下单会使缓存失效）并重算组合。
func (c *Cycle) refreshPortfolio(ctx context.Context, fresh bool) error {
	if c.deps.Executor.Mode() == ModeExchange {
		live, err := c.deps.Executor.Live(ctx, fresh)
		if err != nil {
			return fmt.Errorf("刷新交易所快照失败: %w", err)
		}
		c.live = live
	}
	return c.loadPortfolio(ctx)
}

func (c *Cycle) executeExits(ctx context.Context, exits []risk.ExitAction) []Execution {
	c.log.Infof("执行 %d 个止盈止损动作", len(exits))
	if err := c.forceSync(ctx); err != nil {
		c.log.Warnf("平仓前对账失败，继续执行: %v", err)
	} else if err := c.loadPortfolio(ctx); err != nil {
		c.log.Warnf("对账后重算组合失败: %v", err)
	}
	out := make([]Execution, 0, len(exits))
	for _, ex := range exits {
		pos := types.Position{Coin: ex.Coin, Side: ex.Side, Quantity: ex.Quantity, AvgPrice: ex.EntryPrice}
		if local, ok := c.findLocal(ex.Coin, ex.Side); ok {
			pos = local
		}
		exec := c.closePosition(ctx, pos, string(ex.Kind))
		exec.Exit = ex.Kind
		exec.Message = ex.Reason + "; " + exec.Message
		event := EventStopLossExecuted
		if ex.Kind == risk.ExitTakeProfit {
			event = EventTakeProfitExecuted
		}
		if exec.Err != nil {
			event = EventExitError
		}
		c.deps.Events.LogEvent(c.model.ID, event, map[string]any{
			"coin": ex.Coin, "reason": ex.Reason, "quantity": ex.Quantity, "status": exec.Status, "pnl": exec.PnL,
		})
		out = append(out, exec)
	}
	return out
}

func (c *Cycle) consult(ctx context.Context, input decision.Context) (map[string]types.OrderIntent, bool) {
	res, err := c.deps.Decider.Decide(ctx, input)
	fallback := res.Fallback
	intents := res.Intents
	trace := ""
	if err != nil || len(intents) == 0 {
		if err == nil {
			err = errors.New("empty decision set")
		}
		c.log.Warnf("决策不可用，使用默认持有策略: %v", err)
		intents = decision.HoldAll(c.coins, "")
		fallback = true
		trace = "fallback: " + err.Error()
	}
	c.audit(ctx, res, intents, trace)
	return intents, fallback
}

func (c *Cycle) audit(ctx context.Context, res decision.Result, intents map[string]types.OrderIntent, trace string) {
	response := res.Raw
	if response == "" {
		if buf, err := json.Marshal(intents); err == nil {
			response = string(buf)
		}
	}
	prompt := res.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Market State: %d coins, Portfolio: %d positions", len(c.market), len(c.pf.Positions))
	}
	if err := c.deps.Store.AddConversation(ctx, types.Conversation{
		ModelID:    c.model.ID,
		UserPrompt: prompt,
		AIResponse: response,
		CoTTrace:   trace,
		Timestamp:  c.now(),
	}); err != nil {
		c.log.Warnf("记录对话失败: %v", err)
	}
}

// executeDecisions 宇宙内币种按字母序处理，先平仓释放保证金再开仓；单币种失败不影响其他币种。
func (c *Cycle) executeDecisions(ctx context.Context, intents map[string]types.OrderIntent) []Execution {
	allowed := make(map[string]struct{}, len(c.coins))
	for _, coin := range c.coins {
		allowed[coin] = struct{}{}
	}
	var closes, entries, holds []types.OrderIntent
	for coin, in := range intents {
		if _, ok := allowed[coin]; !ok {
			continue
		}
		switch {
		case in.Signal == types.SignalClose:
			closes = append(closes, in)
		case in.Signal.IsEntry():
			entries = append(entries, in)
		default:
			holds = append(holds, in)
		}
	}
	byCoin := func(list []types.OrderIntent) {
		sort.Slice(list, func(i, j int) bool { return list[i].Coin < list[j].Coin })
	}
	byCoin(closes)
	byCoin(entries)
	byCoin(holds)

	out := make([]Execution, 0, len(intents))
	if len(closes) > 0 {
		if err := c.forceSync(ctx); err != nil {
			c.log.Warnf("平仓前对账失败，继续执行: %v", err)
		} else if err := c.loadPortfolio(ctx); err != nil {
			c.log.Warnf("对账后重算组合失败: %v", err)
		}
	}
	for _, in := range closes {
		out = append(out, c.executeClose(ctx, in)...)
	}
	for _, in := range entries {
		out = append(out, c.executeEntry(ctx, in))
	}
	for _, in := range holds {
		out = append(out, Execution{Coin: in.Coin, Signal: types.SignalHold, Status: StatusHold, Message: "Hold position"})
	}
	return out
}

func (c *Cycle) executeClose(ctx context.Context, in types.OrderIntent) []Execution {
	var targets []types.Position
	for _, p := range c.pf.Positions {
		if p.Coin == in.Coin {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return []Execution{{Coin: in.Coin, Signal: types.SignalClose, Status: StatusSkipped, Message: "Position not found"}}
	}
	out := make([]Execution, 0, len(targets))
	for _, p := range targets {
		out = append(out, c.closePosition(ctx, p, "ai"))
	}
	return out
}

// closePosition 执行平仓并记账：成交则删除本地持仓并写一条成交记录；交易所已平仓只清理本地。
func (c *Cycle) closePosition(ctx context.Context, pos types.Position, reason string) Execution {
	exec := Execution{Coin: pos.Coin, Signal: types.SignalClose, Side: pos.Side}
	fill, err := c.deps.Executor.Close(ctx, pos, c.prices[pos.Coin])
	if err != nil {
		return c.failed(exec, err)
	}
	if err := c.deps.Store.ClosePosition(ctx, c.model.ID, pos.Coin, pos.Side); err != nil {
		c.log.Errorf("%s 已平仓但本地删除失败，等待下次对账: %v", pos.Coin, err)
		c.errs = multierr.Append(c.errs, err)
	}
	if fill.AlreadyClosed {
		exec.Status = StatusAlreadyClosed
		exec.Message = fill.Message
		c.log.Infof("%s %s 交易所已无持仓，本地记录已清理", pos.Coin, pos.Side)
		c.refreshAfterFill(ctx)
		return exec
	}
	exec.Status = StatusFilled
	exec.Quantity, exec.Price, exec.Leverage = fill.Quantity, fill.Price, fill.Leverage
	exec.PnL, exec.OrderID, exec.Message = fill.PnL, fill.OrderID, fill.Message
	c.recordTrade(ctx, exec, reason)
	c.refreshAfterFill(ctx)
	return exec
}

func (c *Cycle) executeEntry(ctx context.Context, in types.OrderIntent) Execution {
	side, _ := in.Signal.EntrySide()
	exec := Execution{Coin: in.Coin, Signal: in.Signal, Side: side}
	price := c.prices[in.Coin]
	if price <= 0 {
		exec.Status = StatusSkipped
		exec.Message = "no price available"
		return exec
	}
	for _, p := range c.pf.Positions {
		if p.Coin == in.Coin && p.Side != side {
			exec.Status = StatusRejected
			exec.Message = fmt.Sprintf("opposite %s position open, close it first", p.Side)
			return exec
		}
	}

	v := c.deps.Risk.ValidateOrder(ctx, risk.OrderRequest{
		ModelID:        c.model.ID,
		Coin:           in.Coin,
		Side:           side,
		Quantity:       in.Quantity,
		Leverage:       in.Leverage,
		Price:          price,
		InitialCapital: c.model.InitialCapital,
	}, *c.pf)
	exec.Validation = &v
	if !v.Valid {
		exec.Status = StatusRejected
		exec.Message = fmt.Sprintf("Risk validation failed: %v", v.Errors)
		c.log.Warnf("%s %s", in.Coin, exec.Message)
		c.deps.Events.LogEvent(c.model.ID, EventRiskViolation, map[string]any{"coin": in.Coin, "errors": v.Errors})
		return exec
	}
	if len(v.Warnings) > 0 {
		c.log.Infof("%s 风控调整: %v", in.Coin, v.Warnings)
	}

	fill, err := c.deps.Executor.Open(ctx, OpenOrder{
		Coin:     in.Coin,
		Side:     side,
		Quantity: v.AdjustedQuantity,
		Leverage: v.AdjustedLeverage,
		Price:    price,
	}, *c.pf)
	if err != nil {
		return c.failed(exec, err)
	}
	exec.Status = StatusFilled
	exec.Quantity, exec.Price, exec.Leverage = fill.Quantity, fill.Price, fill.Leverage
	exec.OrderID, exec.Message = fill.OrderID, fill.Message

	merged := types.Position{Coin: in.Coin, Side: side, Quantity: fill.Quantity, AvgPrice: fill.Price, Leverage: fill.Leverage}
	if prev, ok := c.findLocal(in.Coin, side); ok {
		total := prev.Quantity + fill.Quantity
		merged.AvgPrice = (prev.Quantity*prev.AvgPrice + fill.Quantity*fill.Price) / total
		merged.Quantity = total
	}
	if err := c.deps.Store.UpdatePosition(ctx, c.model.ID, merged); err != nil {
		c.log.Errorf("%s 已成交但本地持仓写入失败，等待下次对账: %v", in.Coin, err)
		c.errs = multierr.Append(c.errs, err)
	}
	c.recordTrade(ctx, exec, "ai")
	c.refreshAfterFill(ctx)
	return exec
}

func (c *Cycle) findLocal(coin string, side types.Side) (types.Position, bool) {
	if c.pf == nil {
		return types.Position{}, false
	}
	for _, p := range c.pf.Positions {
		if p.Coin == coin && p.Side == side {
			return p, true
		}
	}
	return types.Position{}, false
}

func (c *Cycle) recordTrade(ctx context.Context, exec Execution, reason string) {
	_, err := c.deps.Store.AddTrade(ctx, types.Trade{
		ModelID:   c.model.ID,
		Coin:      exec.Coin,
		Signal:    exec.Signal,
		Quantity:  exec.Quantity,
		Price:     exec.Price,
		Leverage:  exec.Leverage,
		Side:      exec.Side,
		PnL:       exec.PnL,
		Reason:    reason,
		OrderID:   exec.OrderID,
		Timestamp: c.now(),
	})
	if err != nil {
		c.log.Errorf("%s 成交记录写入失败: %v", exec.Coin, err)
		c.errs = multierr.Append(c.errs, err)
	}
	c.deps.Events.LogEvent(c.model.ID, EventTradeExecuted, map[string]any{
		"coin": exec.Coin, "signal": string(exec.Signal), "quantity": exec.Quantity, "price": exec.Price,
		"leverage": exec.Leverage, "pnl": exec.PnL, "reason": reason,
	})
}

func (c *Cycle) refreshAfterFill(ctx context.Context) {
	if err := c.refreshPortfolio(ctx, false); err != nil {
		c.log.Warnf("成交后刷新组合失败: %v", err)
	}
}

func (c *Cycle) failed(exec Execution, err error) Execution {
	exec.Status = StatusFailed
	exec.Err = err
	exec.Message = err.Error()
	c.errs = multierr.Append(c.errs, fmt.Errorf("%s %s: %w", exec.Coin, exec.Signal, err))
	c.log.Warnf("%s %s 执行失败: %v", exec.Coin, exec.Signal, err)
	data := map[string]any{"coin": exec.Coin, "signal": string(exec.Signal), "error": err.Error()}
	if okx.IsAuth(err) {
		data["kind"] = "authentication"
	}
	c.deps.Events.LogEvent(c.model.ID, EventAPIError, data)
	return exec
}
