package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-simulator/internal/logger"
	"trading-simulator/internal/model"
	"trading-simulator/internal/trading"
)

// MockTradingService implements TradingService for testing.
type MockTradingService struct {
	mock.Mock
}

func (m *MockTradingService) OpenTrade(ctx context.Context, userID string, req trading.OpenRequest) (*model.Trade, error) {
	args := m.Called(ctx, userID, req)
	t, _ := args.Get(0).(*model.Trade)
	return t, args.Error(1)
}

func (m *MockTradingService) CloseTrade(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	args := m.Called(ctx, tradeID, userID)
	t, _ := args.Get(0).(*model.Trade)
	return t, args.Error(1)
}

func (m *MockTradingService) ResetBalance(ctx context.Context, userID string) (*model.Account, error) {
	args := m.Called(ctx, userID)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *MockTradingService) GetBalance(ctx context.Context, userID string) (*model.Account, error) {
	args := m.Called(ctx, userID)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *MockTradingService) GetActiveTrades(ctx context.Context, userID string) ([]*model.Trade, error) {
	args := m.Called(ctx, userID)
	t, _ := args.Get(0).([]*model.Trade)
	return t, args.Error(1)
}

func (m *MockTradingService) GetTradeHistory(ctx context.Context, userID string) ([]*model.Trade, error) {
	args := m.Called(ctx, userID)
	t, _ := args.Get(0).([]*model.Trade)
	return t, args.Error(1)
}

func (m *MockTradingService) GetRulesStatus(ctx context.Context, userID string) (model.RulesStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.RulesStatus), args.Error(1)
}

func (m *MockTradingService) GetPerformanceStats(ctx context.Context, userID string) (model.PerformanceStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.PerformanceStats), args.Error(1)
}

// MockMarketService implements MarketService and CandleService.
type MockMarketService struct {
	mock.Mock
}

func (m *MockMarketService) Symbols() []model.Symbol {
	return m.Called().Get(0).([]model.Symbol)
}

func (m *MockMarketService) CurrentPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockMarketService) GetCandles(symbol string, g model.Granularity, count int) ([]model.Candle, error) {
	args := m.Called(symbol, g, count)
	c, _ := args.Get(0).([]model.Candle)
	return c, args.Error(1)
}

var fixedNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gin.Engine, *MockTradingService, *MockMarketService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts, ms := &MockTradingService{}, &MockMarketService{}
	h := NewHandler(ts, ms, ms, nil, zap.NewNop())
	h.now = func() time.Time { return fixedNow }
	t.Cleanup(func() {
		ts.AssertExpectations(t)
		ms.AssertExpectations(t)
	})
	return h.SetupRoutes(), ts, ms
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestGetSymbols(t *testing.T) {
	router, _, ms := setup(t)
	ms.On("Symbols").Return([]model.Symbol{{Name: "EURUSD", BasePrice: 1.1, TickSize: 0.0001}})

	rec := do(router, http.MethodGet, "/api/v1/symbols", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"EURUSD"`)
}

func TestGetLivePrice(t *testing.T) {
	router, _, ms := setup(t)
	ms.On("CurrentPrice", "EURUSD").Return(1.1, nil)
	ms.On("CurrentPrice", "XAUUSD").Return(0.0, errors.Wrap(model.ErrNotFound, "symbol XAUUSD"))

	rec := do(router, http.MethodGet, "/api/v1/prices/EURUSD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got PriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, PriceResponse{Symbol: "EURUSD", Price: 1.1, Timestamp: fixedNow}, got)

	rec = do(router, http.MethodGet, "/api/v1/prices/XAUUSD", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestGetCandles(t *testing.T) {
	router, _, ms := setup(t)
	m5 := model.Granularity(5 * time.Minute)
	ms.On("GetCandles", "EURUSD", model.Granularity(time.Minute), DefaultCandleCount).
		Return([]model.Candle{{Symbol: "EURUSD", Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1}}, nil)
	ms.On("GetCandles", "EURUSD", m5, 10).Return([]model.Candle{}, nil)

	rec := do(router, http.MethodGet, "/api/v1/candles/EURUSD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got CandlesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1m", got.Granularity)
	assert.Len(t, got.Candles, 1)

	rec = do(router, http.MethodGet, "/api/v1/candles/EURUSD?granularity=5m&count=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, q := range []string{"granularity=soon", "count=0", "count=abc", "count=5000"} {
		rec = do(router, http.MethodGet, "/api/v1/candles/EURUSD?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestOpenTrade(t *testing.T) {
	router, ts, _ := setup(t)
	req := trading.OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: 1000, StopLoss: 1.095, TakeProfit: 1.11}
	ts.On("OpenTrade", mock.Anything, "alice", req).
		Return(&model.Trade{ID: "t001", UserID: "alice", Symbol: "EURUSD", Status: model.StatusOpen}, nil)

	rec := do(router, http.MethodPost, "/api/v1/accounts/alice/trades",
		`{"symbol":"EURUSD","direction":"BUY","size":1000,"stop_loss":1.095,"take_profit":1.11}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"t001"`)

	rec = do(router, http.MethodPost, "/api/v1/accounts/alice/trades", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed body never reaches the engine")
}

func TestOpenTrade_RuleViolation(t *testing.T) {
	router, ts, _ := setup(t)
	v := &model.RuleViolation{Rule: model.RuleMaxOpenTrades, Message: "3 trades already open", Limit: 3, Actual: 3}
	ts.On("OpenTrade", mock.Anything, "alice", mock.Anything).Return(nil, v)

	rec := do(router, http.MethodPost, "/api/v1/accounts/alice/trades",
		`{"symbol":"EURUSD","direction":"BUY","size":1,"stop_loss":1.0,"take_profit":1.2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "rule_violation", resp.Code)
	require.NotNil(t, resp.Violation)
	assert.Equal(t, model.RuleMaxOpenTrades, resp.Violation.Rule)
	assert.Equal(t, 3.0, resp.Violation.Limit)
}

func TestCloseTrade_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"unknown", errors.Wrap(model.ErrNotFound, "trade t9"), http.StatusNotFound, "not_found"},
		{"closed", errors.Wrap(model.ErrAlreadyClosed, "trade t1"), http.StatusConflict, "already_closed"},
		{"validation", errors.Wrap(model.ErrValidation, "user id is required"), http.StatusBadRequest, "validation"},
		{"store", errors.Wrap(model.ErrInternal, "commit close: disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, ts, _ := setup(t)
			var trade *model.Trade
			if tc.err == nil {
				trade = &model.Trade{ID: "t1", Status: model.StatusClosed}
			}
			ts.On("CloseTrade", mock.Anything, "t1", "alice").Return(trade, tc.err)

			rec := do(router, http.MethodPost, "/api/v1/accounts/alice/trades/t1/close", "")
			assert.Equal(t, tc.want, rec.Code)
			if tc.err == nil {
				return
			}
			resp := decodeError(t, rec)
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
			if tc.want == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "disk full", "internal causes are not exposed")
			}
		})
	}
}

func TestAccountQueries(t *testing.T) {
	router, ts, _ := setup(t)
	acct := &model.Account{UserID: "alice", Balance: 10000, Currency: "USD", Version: 1}
	ts.On("GetBalance", mock.Anything, "alice").Return(acct, nil)
	ts.On("ResetBalance", mock.Anything, "alice").Return(acct, nil)
	ts.On("GetActiveTrades", mock.Anything, "alice").Return(nil, nil)
	ts.On("GetTradeHistory", mock.Anything, "alice").Return([]*model.Trade{{ID: "t1"}}, nil)
	ts.On("GetRulesStatus", mock.Anything, "alice").Return(model.RulesStatus{Limits: model.RuleLimits{MaxOpenTrades: 3}}, nil)
	ts.On("GetPerformanceStats", mock.Anything, "alice").
		Return(model.PerformanceStats{HasData: true, TotalTrades: 1, Wins: 1, ProfitFactor: model.ProfitFactor(math.Inf(1))}, nil)

	rec := do(router, http.MethodGet, "/api/v1/accounts/alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":10000`)

	rec = do(router, http.MethodPost, "/api/v1/accounts/alice/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/accounts/alice/trades/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(router, http.MethodGet, "/api/v1/accounts/alice/trades/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"t1"`)

	rec = do(router, http.MethodGet, "/api/v1/accounts/alice/rules", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"max_open_trades":3`)

	rec = do(router, http.MethodGet, "/api/v1/accounts/alice/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profit_factor":"Infinity"`)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestIDMiddleware())
	var traced string
	router.GET("/ping", func(c *gin.Context) {
		traced = logger.TraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeaderKey, "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeaderKey))
	assert.Equal(t, "req-42", traced)

	rec = do(router, http.MethodGet, "/ping", "")
	generated := rec.Header().Get(RequestIDHeaderKey)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, traced)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := setup(t)
	rec := do(router, http.MethodOptions, "/api/v1/accounts/alice/trades", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketRouteMounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := NewHandler(&MockTradingService{}, &MockMarketService{}, &MockMarketService{}, ws, zap.NewNop())
	rec := do(h.SetupRoutes(), http.MethodGet, "/ws?user_id=alice", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
