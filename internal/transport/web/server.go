// Package web 只读运维接口：健康检查、Prometheus 指标、调度状态与告警。
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aitrade/internal/logger"
	"aitrade/internal/manager"
	"aitrade/internal/monitor"
)

const shutdownTimeout = 5 * time.Second

// Scheduler 由 manager.Manager 实现。
type Scheduler interface {
	Status() []manager.BotStatus
}

// Monitor 由 monitor.Monitor 实现。
type Monitor interface {
	Health(ctx context.Context) monitor.Health
	Alerts() []monitor.Alert
	ActiveAlerts() []monitor.Alert
	PerformanceMetrics(ctx context.Context, modelID int64) (monitor.Performance, bool, error)
}

type Server struct {
	addr   string
	engine *gin.Engine
}

func NewServer(addr string, sched Scheduler, mon Monitor, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger)

	h := &handlers{sched: sched, mon: mon}
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	api := r.Group("/api")
	api.GET("/bots", h.bots)
	api.GET("/bots/:id/performance", h.performance)
	api.GET("/alerts", h.alerts)
	return &Server{addr: addr, engine: r}
}

// Handler 测试用。
func (s *Server) Handler() http.Handler { return s.engine }

// Start 阻塞直到 ctx 结束后优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[web] 运维接口监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[web] 关闭失败: %v", err)
		return err
	}
	return nil
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	logger.Debugf("[web] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

type handlers struct {
	sched Scheduler
	mon   Monitor
}

func (h *handlers) health(c *gin.Context) {
	res := h.mon.Health(c.Request.Context())
	code := http.StatusOK
	if res.Status == monitor.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

func (h *handlers) bots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": h.sched.Status()})
}

func (h *handlers) performance(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
		return
	}
	perf, ok, err := h.mon.PerformanceMetrics(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no account history"})
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (h *handlers) alerts(c *gin.Context) {
	list := h.mon.Alerts()
	if c.Query("active") == "1" || c.Query("active") == "true" {
		list = h.mon.ActiveAlerts()
	}
	if list == nil {
		list = []monitor.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list})
}
