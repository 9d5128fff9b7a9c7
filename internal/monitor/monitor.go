// Package monitor 交易事件日志、告警规则、健康检查与绩效统计。
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"aitrade/internal/logger"
	"aitrade/internal/pkg/text"
	"aitrade/internal/types"
)

const (
	maxAlerts         = 100
	largeLossUSD      = -1000.0
	highLeverage      = 15
	performanceWindow = 100
	maxAlertDetail    = 200

	SeverityHigh   = "high"
	SeverityMedium = "medium"

	StatusHealthy   = "healthy"
	StatusWarning   = "warning"
	StatusUnhealthy = "unhealthy"
)

// 告警类型。
const (
	AlertLargeLoss     = "large_loss"
	AlertHighLeverage  = "high_leverage"
	AlertAuthError     = "auth_error"
	AlertAPIError      = "api_error"
	AlertRiskViolation = "risk_violation"
)

// Store 监控读取的持久化操作。
type Store interface {
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]types.Model, error)
	GetModel(ctx context.Context, id int64) (*types.Model, error)
	CountTradesSince(ctx context.Context, since time.Time) (int, error)
	GetTrades(ctx context.Context, modelID int64, limit int) ([]types.Trade, error)
	GetAccountValueHistory(ctx context.Context, modelID int64, limit int) ([]types.AccountValue, error)
}

type Alert struct {
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	ModelID      int64     `json:"model_id"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// Monitor 线程安全；告警只保留最近 100 条。
type Monitor struct {
	store   Store
	metrics *Metrics
	log     *zap.SugaredLogger

	mu     sync.Mutex
	alerts []Alert

	now func() time.Time
}

func New(store Store, metrics *Metrics) *Monitor {
	return &Monitor{store: store, metrics: metrics, log: logger.With("component", "monitor"), now: time.Now}
}

// LogEvent 记录结构化交易事件并检查告警条件。
func (m *Monitor) LogEvent(modelID int64, eventType string, data map[string]any) {
	fields := make([]any, 0, 4+2*len(data))
	fields = append(fields, "model_id", modelID, "event_type", eventType)
	for k, v := range data {
		fields = append(fields, k, v)
	}
	m.log.Infow("TRADING_EVENT", fields...)
	m.checkAlerts(modelID, eventType, data)
}

func (m *Monitor) checkAlerts(modelID int64, eventType string, data map[string]any) {
	switch eventType {
	case "trade_executed":
		if pnl := cast.ToFloat64(data["pnl"]); pnl < largeLossUSD {
			m.raise(AlertLargeLoss, SeverityHigh, modelID, fmt.Sprintf("Model %d: Large loss $%.2f", modelID, pnl))
		}
		if lev := cast.ToInt(data["leverage"]); lev > highLeverage {
			m.raise(AlertHighLeverage, SeverityMedium, modelID, fmt.Sprintf("Model %d: High leverage %dx used", modelID, lev))
		}
	case "api_error":
		msg := cast.ToString(data["error"])
		if cast.ToString(data["kind"]) == "authentication" || strings.Contains(strings.ToLower(msg), "authentication") {
			m.raise(AlertAuthError, SeverityHigh, modelID, fmt.Sprintf("Model %d: API authentication failed", modelID))
			return
		}
		m.raise(AlertAPIError, SeverityMedium, modelID, fmt.Sprintf("Model %d: API error - %s", modelID, text.Truncate(msg, maxAlertDetail)))
	case "risk_violation":
		msg := cast.ToString(data["message"])
		if msg == "" {
			if errs := cast.ToStringSlice(data["errors"]); len(errs) > 0 {
				msg = strings.Join(errs, "; ")
			} else {
				msg = "Risk limit exceeded"
			}
		}
		m.raise(AlertRiskViolation, SeverityHigh, modelID, fmt.Sprintf("Model %d: %s", modelID, msg))
	}
}

func (m *Monitor) raise(alertType, severity string, modelID int64, message string) {
	m.mu.Lock()
	m.alerts = append(m.alerts, Alert{Type: alertType, Severity: severity, ModelID: modelID, Message: message, Timestamp: m.now()})
	if n := len(m.alerts); n > maxAlerts {
		m.alerts = append([]Alert(nil), m.alerts[n-maxAlerts:]...)
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.observeAlert(alertType)
	}
	m.log.Warnf("ALERT [%s]: %s", strings.ToUpper(severity), message)
}

// Alerts 返回告警副本，最旧的在前。
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// ActiveAlerts 未确认的告警。
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

// Acknowledge 按 Alerts() 中的下标确认告警。
func (m *Monitor) Acknowledge(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.alerts) {
		return fmt.Errorf("alert index %d out of range", index)
	}
	m.alerts[index].Acknowledged = true
	m.log.Infof("告警已确认: %s", m.alerts[index].Message)
	return nil
}

// ClearOlderThan 删除早于 age 的告警，返回删除条数。
func (m *Monitor) ClearOlderThan(age time.Duration) int {
	cutoff := m.now().Add(-age)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(m.alerts) - len(kept)
	m.alerts = kept
	return removed
}

type Check struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Health 数据库可达、近 24h 成交与未确认高危告警；任一 unhealthy 则整体 unhealthy，否则有 warning 即 warning。
func (m *Monitor) Health(ctx context.Context) Health {
	now := m.now()
	h := Health{Status: StatusHealthy, Checks: map[string]Check{}, CheckedAt: now}

	dbOK := true
	if err := m.store.Ping(ctx); err != nil {
		dbOK = false
		h.Checks["database"] = Check{Status: StatusUnhealthy, Message: "Database connection failed: " + err.Error()}
	} else if models, err := m.store.ListModels(ctx); err != nil {
		dbOK = false
		h.Checks["database"] = Check{Status: StatusUnhealthy, Message: "Database query failed: " + err.Error()}
	} else {
		h.Checks["database"] = Check{Status: StatusHealthy, Message: fmt.Sprintf("Database accessible, %d models configured", len(models))}
	}

	if dbOK {
		n, err := m.store.CountTradesSince(ctx, now.Add(-24*time.Hour))
		switch {
		case err != nil:
			h.Checks["trading_activity"] = Check{Status: StatusWarning, Message: "Failed to check trading activity: " + err.Error()}
		case n == 0:
			h.Checks["trading_activity"] = Check{Status: StatusWarning, Message: "0 trades in last 24 hours"}
		default:
			h.Checks["trading_activity"] = Check{Status: StatusHealthy, Message: fmt.Sprintf("%d trades in last 24 hours", n)}
		}
	}

	critical := 0
	for _, a := range m.Alerts() {
		if a.Severity == SeverityHigh && !a.Acknowledged {
			critical++
		}
	}
	alerts := Check{Status: StatusHealthy, Message: fmt.Sprintf("%d critical alerts pending", critical)}
	if critical > 0 {
		alerts.Status = StatusWarning
	}
	h.Checks["alerts"] = alerts

	for _, c := range h.Checks {
		switch {
		case c.Status == StatusUnhealthy:
			h.Status = StatusUnhealthy
		case c.Status == StatusWarning && h.Status == StatusHealthy:
			h.Status = StatusWarning
		}
	}
	return h
}

// Performance 绩效统计；百分比字段为百分数。
type Performance struct {
	ModelID        int64     `json:"model_id"`
	InitialCapital float64   `json:"initial_capital"`
	CurrentValue   float64   `json:"current_value"`
	TotalReturn    float64   `json:"total_return"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	TotalTrades    int       `json:"total_trades"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	WinRate        float64   `json:"win_rate"`
	AvgWin         float64   `json:"avg_win"`
	AvgLoss        float64   `json:"avg_loss"`
	ProfitFactor   float64   `json:"profit_factor"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PerformanceMetrics 基于最近 100 条净值与成交计算；无净值历史时返回 ok=false。
func (m *Monitor) PerformanceMetrics(ctx context.Context, modelID int64) (Performance, bool, error) {
	model, err := m.store.GetModel(ctx, modelID)
	if err != nil {
		return Performance{}, false, err
	}
	history, err := m.store.GetAccountValueHistory(ctx, modelID, performanceWindow)
	if err != nil {
		return Performance{}, false, err
	}
	if len(history) == 0 {
		return Performance{}, false, nil
	}
	p := Performance{ModelID: modelID, InitialCapital: model.InitialCapital, CurrentValue: history[0].TotalValue, UpdatedAt: m.now()}
	if p.InitialCapital > 0 {
		p.TotalReturn = (p.CurrentValue - p.InitialCapital) / p.InitialCapital * 100
	}
	p.MaxDrawdown = maxDrawdown(p.InitialCapital, history) * 100

	trades, err := m.store.GetTrades(ctx, modelID, performanceWindow)
	if err != nil {
		return Performance{}, false, err
	}
	var winSum, lossSum float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			p.WinningTrades++
			winSum += t.PnL
		case t.PnL < 0:
			p.LosingTrades++
			lossSum += t.PnL
		}
	}
	p.TotalTrades = len(trades)
	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades) * 100
	}
	if p.WinningTrades > 0 {
		p.AvgWin = winSum / float64(p.WinningTrades)
	}
	if p.LosingTrades > 0 {
		p.AvgLoss = lossSum / float64(p.LosingTrades)
		p.ProfitFactor = abs(p.AvgWin / p.AvgLoss)
	}
	return p, true, nil
}

// maxDrawdown history 为倒序（最新在前），峰值从初始资金起算。
func maxDrawdown(initial float64, history []types.AccountValue) float64 {
	peak := initial
	worst := 0.0
	for i := len(history) - 1; i >= 0; i-- {
		v := history[i].TotalValue
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
