package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/logger"
	"trading-simulator/internal/model"
	"trading-simulator/internal/trading"
)

// PriceResponse is the body of GET /prices/:symbol.
type PriceResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// CandlesResponse is the body of GET /candles/:symbol.
type CandlesResponse struct {
	Symbol      string         `json:"symbol"`
	Granularity string         `json:"granularity"`
	Candles     []model.Candle `json:"candles"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string               `json:"error"`
	Code      string               `json:"code"`
	Violation *model.RuleViolation `json:"violation,omitempty"`
	RequestID string               `json:"request_id"`
}

// GetSymbols handles GET /symbols.
func (h *Handler) GetSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Symbols())
}

// GetLivePrice handles GET /prices/:symbol.
func (h *Handler) GetLivePrice(c *gin.Context) {
	symbol := c.Param("symbol")
	price, err := h.market.CurrentPrice(symbol)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, PriceResponse{Symbol: symbol, Price: price, Timestamp: h.now().UTC()})
}

// GetCandles handles GET /candles/:symbol?granularity=1m&count=100.
func (h *Handler) GetCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	g, err := model.ParseGranularity(c.DefaultQuery("granularity", DefaultGranularity))
	if err != nil {
		h.handleError(c, err)
		return
	}
	count, err := parseCount(c.Query("count"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	candles, err := h.candles.GetCandles(symbol, g, count)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, CandlesResponse{Symbol: symbol, Granularity: g.String(), Candles: candles})
}

func parseCount(s string) (int, error) {
	if s == "" {
		return DefaultCandleCount, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxCandleCount {
		return 0, errors.Wrapf(model.ErrValidation, "count must be between 1 and %d", MaxCandleCount)
	}
	return n, nil
}

// GetBalance handles GET /accounts/:userID.
func (h *Handler) GetBalance(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	acct, err := h.trading.GetBalance(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, acct, err)
}

// ResetBalance handles POST /accounts/:userID/reset.
func (h *Handler) ResetBalance(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	acct, err := h.trading.ResetBalance(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, acct, err)
}

// OpenTrade handles POST /accounts/:userID/trades.
func (h *Handler) OpenTrade(c *gin.Context) {
	var req trading.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.Wrapf(model.ErrValidation, "invalid request body: %v", err))
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	t, err := h.trading.OpenTrade(ctx, c.Param("userID"), req)
	h.respond(c, http.StatusCreated, t, err)
}

// CloseTrade handles POST /accounts/:userID/trades/:tradeID/close.
func (h *Handler) CloseTrade(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	t, err := h.trading.CloseTrade(ctx, c.Param("tradeID"), c.Param("userID"))
	h.respond(c, http.StatusOK, t, err)
}

// GetActiveTrades handles GET /accounts/:userID/trades/active.
func (h *Handler) GetActiveTrades(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	trades, err := h.trading.GetActiveTrades(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, nonNil(trades), err)
}

// GetTradeHistory handles GET /accounts/:userID/trades/history.
func (h *Handler) GetTradeHistory(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	trades, err := h.trading.GetTradeHistory(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, nonNil(trades), err)
}

// GetRulesStatus handles GET /accounts/:userID/rules.
func (h *Handler) GetRulesStatus(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	status, err := h.trading.GetRulesStatus(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, status, err)
}

// GetPerformanceStats handles GET /accounts/:userID/stats.
func (h *Handler) GetPerformanceStats(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	stats, err := h.trading.GetPerformanceStats(ctx, c.Param("userID"))
	h.respond(c, http.StatusOK, stats, err)
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), DefaultTimeout)
}

func (h *Handler) respond(c *gin.Context, status int, body any, err error) {
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(status, body)
}

func nonNil(trades []*model.Trade) []*model.Trade {
	if trades == nil {
		return []*model.Trade{}
	}
	return trades
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRuleViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnprocessableEntity:
		return "rule_violation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "already_closed"
	default:
		return "internal"
	}
}

// handleError logs the error and sends the mapped HTTP response. Internal
// failures are reported without their cause.
func (h *Handler) handleError(c *gin.Context, err error) {
	status := StatusCode(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      errorCode(status),
		RequestID: c.GetString(RequestIDContextKey),
	}

	var v *model.RuleViolation
	if errors.As(err, &v) {
		resp.Violation = v
	}

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status_code", status),
		zap.Error(err),
		logger.TraceField(c.Request.Context()),
	}
	if status == http.StatusInternalServerError {
		h.log.Error("API error", fields...)
		resp.Error = "internal server error"
	} else {
		h.log.Info("request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, resp)
}
