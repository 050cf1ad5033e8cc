package api

import (
	"errors"
	"net/http"
	"strconv"

	"trading-agent/internal/execution"
	"trading-agent/internal/risk"
	"trading-agent/internal/scheduler"
	"trading-agent/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes scheduler status and execution operations over HTTP.
// The core itself stays callable as plain functions; this is the outer
// surface for operators and UIs.
type Server struct {
	Router    *gin.Engine
	DB        *db.Database
	Scheduler *scheduler.Scheduler
	Exec      *execution.Service
	Log       *zap.Logger
}

// NewServer wires routes and middleware.
func NewServer(database *db.Database, sched *scheduler.Scheduler, exec *execution.Service, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{Router: r, DB: database, Scheduler: sched, Exec: exec, Log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/scheduler/status", s.schedulerStatus)
		api.POST("/scheduler/start", s.schedulerStart)
		api.POST("/scheduler/stop", s.schedulerStop)

		api.POST("/orders", s.executeOrder)
		api.POST("/accounts/:id/reconcile", s.reconcile)
		api.GET("/accounts/:id/positions", s.listPositions)
		api.GET("/candles", s.listCandles)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Scheduler.Status())
}

func (s *Server) schedulerStart(c *gin.Context) {
	s.Scheduler.Start()
	c.JSON(http.StatusOK, s.Scheduler.Status())
}

func (s *Server) schedulerStop(c *gin.Context) {
	s.Scheduler.Stop()
	c.JSON(http.StatusOK, s.Scheduler.Status())
}

type executeOrderRequest struct {
	AccountID string  `json:"account_id" binding:"required"`
	Symbol    string  `json:"symbol" binding:"required"`
	Action    string  `json:"action" binding:"required"`
	Qty       float64 `json:"qty" binding:"required"`
	TPPrice   float64 `json:"tp_price"`
	SLPrice   float64 `json:"sl_price"`
}

func (s *Server) executeOrder(c *gin.Context) {
	var req executeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := s.DB.Queries().GetAccount(c.Request.Context(), req.AccountID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := s.Exec.ExecuteOrder(c.Request.Context(), account, req.Symbol, req.Action, req.Qty, req.TPPrice, req.SLPrice)
	if err != nil {
		var checkErr *risk.CheckError
		if errors.As(err, &checkErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": checkErr.Reason})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":   res.OrderID,
		"status":     res.Status,
		"fill_price": res.FillPrice,
		"qty":        res.Qty,
	})
}

func (s *Server) reconcile(c *gin.Context) {
	account, err := s.DB.Queries().GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report, err := s.Exec.ReconcilePositions(c.Request.Context(), account)
	if errors.Is(err, execution.ErrPaperReconcile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.DB.Queries().ListOpenPositions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) listCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	candles, err := s.DB.Queries().ListRecentCandles(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, candles)
}
