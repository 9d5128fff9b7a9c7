package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aitrade/internal/coins"
	"aitrade/internal/gateway/okx"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	ModeExchange = "exchange"
	ModePaper    = "paper"
)

// ErrInsufficientCash 模拟盘保证金不足。
var ErrInsufficientCash = errors.New("insufficient cash")

// OpenOrder 已通过风控的开仓请求。
type OpenOrder struct {
	Coin     string
	Side     types.Side
	Quantity float64
	Leverage int
	Price    float64
}

// Fill 执行结果。Price 为参考价（交易所市价单取预言机价格）。
type Fill struct {
	OrderID       string
	Quantity      float64
	Price         float64
	Leverage      int
	PnL           float64
	AlreadyClosed bool
	Message       string
}

// Executor 下单能力：有交易所凭证时走交易所，否则在本地账本上模拟。
type Executor interface {
	Mode() string
	// Live 交易所权威快照；模拟盘返回 nil。fresh=true 时绕过持仓缓存。
	Live(ctx context.Context, fresh bool) (*types.ExchangeAccount, error)
	Open(ctx context.Context, order OpenOrder, pf types.Portfolio) (Fill, error)
	Close(ctx context.Context, pos types.Position, price float64) (Fill, error)
}

// ExchangeClient okx.Client 中执行层用到的部分。
type ExchangeClient interface {
	Snapshot(ctx context.Context) (*types.ExchangeAccount, error)
	GetBalance(ctx context.Context) (types.Balance, error)
	FreshPositions(ctx context.Context) ([]types.Position, error)
	PlaceOrder(ctx context.Context, req okx.OrderRequest) (*okx.OrderResult, error)
	ClosePosition(ctx context.Context, instID string, side types.Side) (*okx.CloseResult, error)
}

// ExchangeExecutor 交易所执行。
type ExchangeExecutor struct {
	client ExchangeClient
}

func NewExchangeExecutor(client ExchangeClient) *ExchangeExecutor {
	return &ExchangeExecutor{client: client}
}

func (e *ExchangeExecutor) Mode() string { return ModeExchange }

func (e *ExchangeExecutor) Live(ctx context.Context, fresh bool) (*types.ExchangeAccount, error) {
	if !fresh {
		return e.client.Snapshot(ctx)
	}
	positions, err := e.client.FreshPositions(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := e.client.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &types.ExchangeAccount{Balance: bal, Positions: positions, FetchedAt: time.Now()}, nil
}

func (e *ExchangeExecutor) Open(ctx context.Context, order OpenOrder, _ types.Portfolio) (Fill, error) {
	res, err := e.client.PlaceOrder(ctx, okx.OrderRequest{
		InstID:   coins.InstrumentID(order.Coin),
		Side:     order.Side.OpenOrderSide(),
		PosSide:  order.Side,
		Quantity: order.Quantity,
		Type:     okx.OrderTypeMarket,
		Leverage: order.Leverage,
	})
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		OrderID:  res.OrderID,
		Quantity: res.AdjustedQty,
		Price:    order.Price,
		Leverage: order.Leverage,
		Message:  fmt.Sprintf("OKX %s %.4f %s @ Market Price", order.Side, res.AdjustedQty, order.Coin),
	}, nil
}

// Close 交易所平仓；已平仓按成功返回 AlreadyClosed，盈亏按本地成本价估算。
func (e *ExchangeExecutor) Close(ctx context.Context, pos types.Position, price float64) (Fill, error) {
	res, err := e.client.ClosePosition(ctx, coins.InstrumentID(pos.Coin), pos.Side)
	if err != nil {
		return Fill{}, err
	}
	if res.AlreadyClosed {
		return Fill{AlreadyClosed: true, Price: price, Leverage: pos.EffectiveLeverage(), Message: res.Message}, nil
	}
	qty := res.Quantity
	if qty <= 0 {
		qty = pos.Quantity
	}
	fill := Fill{OrderID: res.OrderID, Quantity: qty, Price: price, Leverage: pos.EffectiveLeverage(), Message: fmt.Sprintf("OKX Close %s %s", pos.Coin, pos.Side)}
	if price > 0 {
		fill.PnL = pos.PnLAt(price) * qty / pos.Quantity
	}
	return fill, nil
}

// PaperExecutor 本地账本模拟成交。
type PaperExecutor struct{}

func (PaperExecutor) Mode() string { return ModePaper }

func (PaperExecutor) Live(context.Context, bool) (*types.ExchangeAccount, error) { return nil, nil }

func (PaperExecutor) Open(_ context.Context, order OpenOrder, pf types.Portfolio) (Fill, error) {
	lev := order.Leverage
	if lev < 1 {
		lev = 1
	}
	margin := order.Quantity * order.Price / float64(lev)
	if margin > pf.Cash {
		return Fill{}, fmt.Errorf("%w: margin %.2f > cash %.2f", ErrInsufficientCash, margin, pf.Cash)
	}
	logger.Debugf("[paper] %s %s qty=%.6f @ %.6f x%d", order.Coin, order.Side, order.Quantity, order.Price, lev)
	return Fill{
		Quantity: order.Quantity,
		Price:    order.Price,
		Leverage: lev,
		Message:  fmt.Sprintf("Simulated %s %.4f %s @ $%.2f", order.Side, order.Quantity, order.Coin, order.Price),
	}, nil
}

func (PaperExecutor) Close(_ context.Context, pos types.Position, price float64) (Fill, error) {
	if price <= 0 {
		return Fill{}, fmt.Errorf("no price for %s", pos.Coin)
	}
	pnl := pos.PnLAt(price)
	return Fill{
		Quantity: pos.Quantity,
		Price:    price,
		Leverage: pos.EffectiveLeverage(),
		PnL:      pnl,
		Message:  fmt.Sprintf("Simulated Close %s, P&L: $%.2f", pos.Coin, pnl),
	}, nil
}
