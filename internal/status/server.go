package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quotekeeper/internal/backfill"
	"quotekeeper/internal/cache"
	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
	"quotekeeper/internal/portfolio"
	"quotekeeper/internal/scheduler"
	"quotekeeper/internal/snapshot"
)

// Deps are the components the status API reads from and controls.
type Deps struct {
	Cache     *cache.Coordinator
	Portfolio *portfolio.Store
	Snapshots snapshot.Store
	Detector  *backfill.Detector
	Scheduler *scheduler.Scheduler
}

// Server exposes the diagnostics and control API over HTTP.
type Server struct {
	srv  *http.Server
	deps Deps
	log  *logrus.Entry
}

func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		deps: deps,
		log:  logger.WithComponent("status"),
	}
	s.routes(router)
	s.srv = &http.Server{
		Addr:         normalizeAddr(addr),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return ":8790"
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api/v1")
	{
		api.GET("/cache", s.handleCacheStats)
		api.GET("/cache/:symbol", s.handleCacheSymbol)
		api.DELETE("/cache/:symbol/suspension", s.handleClearSuspension)
		api.POST("/cache/clear", s.handleCacheClear)

		api.GET("/portfolio", s.handlePortfolio)
		api.GET("/values", s.handleValues)
		api.GET("/history", s.handleHistory)

		api.POST("/refresh", s.handleRefresh)
		api.POST("/backfill", s.handleBackfill)
		api.POST("/backfill/full", s.handleBackfillFull)
	}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("status server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("status server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	now := time.Now()
	stats := s.deps.Cache.Statistics(now)

	details := make([]model.CacheStatusDetail, 0, len(s.deps.Portfolio.Symbols()))
	for _, symbol := range s.deps.Portfolio.Symbols() {
		details = append(details, s.deps.Cache.Status(symbol, now))
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats, "symbols": details})
}

func (s *Server) handleCacheSymbol(c *gin.Context) {
	symbol := model.NormalizeSymbol(c.Param("symbol"))
	c.JSON(http.StatusOK, s.deps.Cache.Status(symbol, time.Now()))
}

func (s *Server) handleClearSuspension(c *gin.Context) {
	symbol := model.NormalizeSymbol(c.Param("symbol"))
	s.deps.Cache.ClearSuspension(symbol)
	s.log.WithField("symbol", symbol).Info("suspension cleared via api")
	c.JSON(http.StatusOK, s.deps.Cache.Status(symbol, time.Now()))
}

func (s *Server) handleCacheClear(c *gin.Context) {
	s.deps.Cache.Clear()
	s.log.Info("cache cleared via api")
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	value, cost := s.deps.Portfolio.Totals()
	c.JSON(http.StatusOK, gin.H{
		"holdings":    s.deps.Portfolio.Holdings(),
		"total_value": value,
		"total_cost":  cost,
		"gain":        value - cost,
	})
}

func (s *Server) handleValues(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "365"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	now := time.Now()
	values, err := s.deps.Snapshots.PortfolioValues(now.AddDate(0, 0, -days), now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

func (s *Server) handleHistory(c *gin.Context) {
	statuses, err := s.deps.Detector.HistoryStatus(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbols":       statuses,
		"check_running": s.deps.Detector.Running(),
	})
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req symbolsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	out := s.deps.Scheduler.Orch.PerformRefreshAllTrades(c.Request.Context(), req.Symbols)
	if !out.Ran {
		c.JSON(http.StatusConflict, gin.H{"error": "refresh already in flight"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempted": out.Attempted,
		"updated":   out.Updated,
		"failed":    out.Failed,
	})
}

func (s *Server) handleBackfill(c *gin.Context) {
	go s.deps.Scheduler.CheckAndRunBackfillIfNeeded()
	c.JSON(http.StatusAccepted, gin.H{"status": "check started"})
}

func (s *Server) handleBackfillFull(c *gin.Context) {
	var req symbolsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	go func() {
		if _, ran := s.deps.Scheduler.TriggerFullHistoricalBackfill(req.Symbols); !ran {
			s.log.Debug("full backfill trigger dropped, another run in progress")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "backfill started", "symbols": req.Symbols})
}
