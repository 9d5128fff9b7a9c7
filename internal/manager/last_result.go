package manager

import (
	"sync"
	"time"

	"aitrade/internal/trader"
)

// CycleSummary 最近一次周期的摘要，供状态接口展示。
type CycleSummary struct {
	CycleID    string        `json:"cycle_id"`
	Mode       string        `json:"mode"`
	State      trader.State  `json:"state"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Fallback   bool          `json:"fallback"`
	Exits      int           `json:"exits"`
	Filled     int           `json:"filled"`
	Rejected   int           `json:"rejected"`
	Failed     int           `json:"failed"`
	TotalValue float64       `json:"total_value"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

func summarize(res trader.Result) CycleSummary {
	out := CycleSummary{
		CycleID:   res.CycleID,
		Mode:      res.Mode,
		State:     res.State,
		Success:   res.Success,
		Error:     res.Error(),
		Fallback:  res.Fallback,
		Exits:     len(res.Exits),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if res.Portfolio != nil {
		out.TotalValue = res.Portfolio.TotalValue
	}
	for _, e := range res.Executions {
		switch e.Status {
		case trader.StatusFilled, trader.StatusAlreadyClosed:
			out.Filled++
		case trader.StatusRejected:
			out.Rejected++
		case trader.StatusFailed:
			out.Failed++
		}
	}
	return out
}

// lastResultCache 每个 bot 最近一次周期结果，超过 ttl 的记录在快照中省略。
type lastResultCache struct {
	mu   sync.RWMutex
	data map[int64]CycleSummary
	ttl  time.Duration
}

func newLastResultCache(ttl time.Duration) *lastResultCache {
	return &lastResultCache{data: make(map[int64]CycleSummary), ttl: ttl}
}

func (c *lastResultCache) Set(modelID int64, s CycleSummary) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.data[modelID] = s
	c.mu.Unlock()
}

func (c *lastResultCache) Get(modelID int64, now time.Time) (CycleSummary, bool) {
	if c == nil {
		return CycleSummary{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.data[modelID]
	if !ok || c.expired(s, now) {
		return CycleSummary{}, false
	}
	return s, true
}

func (c *lastResultCache) Delete(modelID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.data, modelID)
	c.mu.Unlock()
}

func (c *lastResultCache) expired(s CycleSummary, now time.Time) bool {
	return c.ttl > 0 && now.Sub(s.StartedAt) > c.ttl
}
