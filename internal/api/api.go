// Package api is the REST surface of the simulator, served with gin under
// /api/v1. The WebSocket endpoint is mounted on the same router at /ws.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/trading"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultGranularity  = "1m"
	DefaultCandleCount  = 100
	MaxCandleCount      = 1000
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// TradingService is the account side of the simulator. It is satisfied by
// *trading.Engine.
type TradingService interface {
	OpenTrade(ctx context.Context, userID string, req trading.OpenRequest) (*model.Trade, error)
	CloseTrade(ctx context.Context, tradeID, userID string) (*model.Trade, error)
	ResetBalance(ctx context.Context, userID string) (*model.Account, error)
	GetBalance(ctx context.Context, userID string) (*model.Account, error)
	GetActiveTrades(ctx context.Context, userID string) ([]*model.Trade, error)
	GetTradeHistory(ctx context.Context, userID string) ([]*model.Trade, error)
	GetRulesStatus(ctx context.Context, userID string) (model.RulesStatus, error)
	GetPerformanceStats(ctx context.Context, userID string) (model.PerformanceStats, error)
}

// MarketService lists symbols and quotes prices. It is satisfied by
// *pricegen.Generator.
type MarketService interface {
	Symbols() []model.Symbol
	CurrentPrice(symbol string) (float64, error)
}

// CandleService serves candle history. It is satisfied by
// *candles.Aggregator.
type CandleService interface {
	GetCandles(symbol string, g model.Granularity, count int) ([]model.Candle, error)
}

// Handler handles HTTP requests using the gin framework.
type Handler struct {
	trading TradingService
	market  MarketService
	candles CandleService
	ws      http.Handler
	log     *zap.Logger
	now     func() time.Time
}

// NewHandler creates the REST handler. ws may be nil to serve REST only.
func NewHandler(ts TradingService, ms MarketService, cs CandleService, ws http.Handler, log *zap.Logger) *Handler {
	return &Handler{
		trading: ts,
		market:  ms,
		candles: cs,
		ws:      ws,
		log:     log.Named("api"),
		now:     time.Now,
	}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(h.loggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	v1 := router.Group("/api/v1")
	v1.GET("/symbols", h.GetSymbols)
	v1.GET("/prices/:symbol", h.GetLivePrice)
	v1.GET("/candles/:symbol", h.GetCandles)

	accounts := v1.Group("/accounts/:userID")
	accounts.GET("", h.GetBalance)
	accounts.POST("/reset", h.ResetBalance)
	accounts.POST("/trades", h.OpenTrade)
	accounts.POST("/trades/:tradeID/close", h.CloseTrade)
	accounts.GET("/trades/active", h.GetActiveTrades)
	accounts.GET("/trades/history", h.GetTradeHistory)
	accounts.GET("/rules", h.GetRulesStatus)
	accounts.GET("/stats", h.GetPerformanceStats)

	if h.ws != nil {
		router.GET("/ws", gin.WrapH(h.ws))
	}
	return router
}

// Server serves the router over HTTP.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer creates an HTTP server for h on addr.
func NewServer(addr string, h *Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.Named("http"),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
