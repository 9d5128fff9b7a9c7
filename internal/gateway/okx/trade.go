package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"aitrade/internal/coins"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	pathOrder       = "/api/v5/trade/order"
	pathCancelOrder = "/api/v5/trade/cancel-order"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	// 低于该数量视为已无持仓。
	dustSize = 0.0001
)

// OrderRequest 下单参数。Side 为 buy/sell；PosSide 为持仓方向，仅双向模式提交。
type OrderRequest struct {
	InstID     string
	Side       string
	PosSide    types.Side
	Quantity   float64
	Type       string
	Price      float64
	Leverage   int
	ReduceOnly bool
}

// OrderResult 下单结果；Adjusted=true 时实际提交的是 AdjustedQty。
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	RequestedQty  float64
	AdjustedQty   float64
	Adjusted      bool
}

// CloseResult 平仓结果。AlreadyClosed=true 表示交易所已无该仓位，不是错误。
type CloseResult struct {
	AlreadyClosed bool
	OrderID       string
	Quantity      float64
	Side          types.Side
	Message       string
}

// OrderStatus 订单状态。
type OrderStatus struct {
	OrderID    string
	InstID     string
	State      string
	FilledSize float64
	AvgPrice   float64
	Fee        float64
}

type orderBody struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ClOrdID    string `json:"clOrdId"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PlaceOrder 规范化数量、按需设置杠杆后下单。clOrdId 在重试间保持不变，交易所据此去重。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != "buy" && side != "sell" {
		return nil, fmt.Errorf("okx 非法下单方向: %q", req.Side)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("okx 下单数量必须大于 0: %v", req.Quantity)
	}
	ordType := req.Type
	if ordType == "" {
		ordType = OrderTypeMarket
	}
	if ordType == OrderTypeLimit && req.Price <= 0 {
		return nil, errors.New("okx 限价单需要价格")
	}

	result := &OrderResult{RequestedQty: req.Quantity, AdjustedQty: req.Quantity}
	size := decimal.NewFromFloat(req.Quantity)
	if rules, err := c.GetInstrumentRules(ctx, req.InstID); err != nil {
		logger.Warnf("[okx] 获取 %s 合约规则失败，按原始数量提交: %v", req.InstID, err)
	} else {
		adjusted, changed := normalizeSize(rules, req.Quantity)
		if changed {
			logger.Infof("[okx] %s 下单数量 %v 调整为 %s (lot=%v min=%v)", req.InstID, req.Quantity, adjusted.String(), rules.LotSize, rules.MinSize)
		}
		size = adjusted
		result.AdjustedQty = adjusted.InexactFloat64()
		result.Adjusted = changed
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("okx %s 规范化后数量为 0", req.InstID)
	}

	if req.Leverage > 1 && !req.ReduceOnly {
		if err := c.SetLeverage(ctx, req.InstID, req.Leverage); err != nil {
			logger.Warnf("[okx] 设置 %s 杠杆 %dx 失败，继续下单: %v", req.InstID, req.Leverage, err)
		}
	}

	cfg := c.GetAccountConfig(ctx)
	body := orderBody{
		InstID:  req.InstID,
		TdMode:  marginModeCross,
		Side:    side,
		OrdType: ordType,
		Sz:      size.String(),
		ClOrdID: c.newClientOrderID(),
	}
	if ordType == OrderTypeLimit {
		body.Px = decimal.NewFromFloat(req.Price).String()
	}
	if cfg.LongShort() {
		if req.PosSide.Valid() {
			body.PosSide = string(req.PosSide)
		}
	} else if req.ReduceOnly {
		body.ReduceOnly = true
	}

	var acks []orderAck
	if err := c.pipe.Do(ctx, http.MethodPost, pathOrder, nil, body, &acks); err != nil {
		return nil, err
	}
	c.invalidate()
	result.ClientOrderID = body.ClOrdID
	if len(acks) > 0 {
		result.OrderID = acks[0].OrdID
	}
	logger.Infof("[okx] 下单成功 %s %s %s sz=%s ordId=%s clOrdId=%s", req.InstID, side, body.PosSide, body.Sz, result.OrderID, result.ClientOrderID)
	return result, nil
}

// ClosePosition 平掉指定币种仓位。side 为空时取该合约唯一的持仓方向；
// 双向模式下多空同时持仓必须指定 side，否则返回 ErrAmbiguousSide，不下单。
// 平仓前强制刷新持仓；找不到仓位或数量接近 0 时返回 AlreadyClosed，不下单。
func (c *Client) ClosePosition(ctx context.Context, instID string, side types.Side) (*CloseResult, error) {
	positions, err := c.FreshPositions(ctx)
	if err != nil {
		return nil, err
	}
	coin := coins.CoinFromInstrument(instID)
	var target *types.Position
	for i := range positions {
		p := positions[i]
		if p.Coin != coin {
			continue
		}
		if side != "" && p.Side != side {
			continue
		}
		if target != nil && target.Quantity >= dustSize && p.Quantity >= dustSize {
			return nil, fmt.Errorf("%s: %w", instID, ErrAmbiguousSide)
		}
		if target == nil || target.Quantity < dustSize {
			target = &p
		}
	}
	if target == nil {
		logger.Infof("[okx] %s 无持仓，视为已平仓", instID)
		return &CloseResult{AlreadyClosed: true, Side: side, Message: "position not found - may already be closed"}, nil
	}
	if target.Quantity < dustSize {
		logger.Infof("[okx] %s 持仓数量 %v 近似为 0，视为已平仓", instID, target.Quantity)
		return &CloseResult{AlreadyClosed: true, Side: target.Side, Message: "position size is zero - already closed"}, nil
	}

	res, err := c.PlaceOrder(ctx, OrderRequest{
		InstID:     instID,
		Side:       target.Side.CloseOrderSide(),
		PosSide:    target.Side,
		Quantity:   target.Quantity,
		Type:       OrderTypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		if IsAlreadyClosed(err) {
			logger.Infof("[okx] %s 交易所返回已平仓(%s)，视为成功", instID, CodePositionAlreadyClosed)
			c.invalidate()
			return &CloseResult{AlreadyClosed: true, Side: target.Side, Message: "position already closed on exchange"}, nil
		}
		return nil, err
	}
	return &CloseResult{
		OrderID:  res.OrderID,
		Quantity: res.AdjustedQty,
		Side:     target.Side,
		Message:  "closed",
	}, nil
}

type cancelBody struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

// CancelOrder 撤单。
func (c *Client) CancelOrder(ctx context.Context, instID, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return errors.New("okx 撤单需要 ordId")
	}
	var acks []orderAck
	if err := c.pipe.Do(ctx, http.MethodPost, pathCancelOrder, nil, cancelBody{InstID: instID, OrdID: orderID}, &acks); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

type orderRow struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
}

// GetOrderStatus 查询订单状态。
func (c *Client) GetOrderStatus(ctx context.Context, instID, orderID string) (*OrderStatus, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("ordId", orderID)
	var rows []orderRow
	if err := c.pipe.Do(ctx, http.MethodGet, pathOrder, q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("okx 未找到订单 %s", orderID)
	}
	row := rows[0]
	return &OrderStatus{
		OrderID:    row.OrdID,
		InstID:     row.InstID,
		State:      row.State,
		FilledSize: cast.ToFloat64(row.AccFillSz),
		AvgPrice:   cast.ToFloat64(row.AvgPx),
		Fee:        cast.ToFloat64(row.Fee),
	}, nil
}
