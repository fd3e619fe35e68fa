package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-simulator/internal/achievement"
	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
	"trading-simulator/internal/store/memory"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	refs   map[string]int
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		prices: map[string]float64{"EURUSD": 1.1000, "GBPUSD": 1.2500},
		refs:   map[string]int{},
	}
}

func (p *fakePrices) Symbol(name string) (model.Symbol, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.prices[name]
	return model.Symbol{Name: name}, ok
}

func (p *fakePrices) CurrentPrice(symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[symbol]
	if !ok {
		return 0, errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}
	return v, nil
}

func (p *fakePrices) Acquire(symbol string) (func(), error) {
	p.mu.Lock()
	p.refs[symbol]++
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.refs[symbol]--
			p.mu.Unlock()
		})
	}, nil
}

func (p *fakePrices) set(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

func (p *fakePrices) holders(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[symbol]
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notification.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note notification.Notification) {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Kind, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Kind())
	}
	return out
}

type recordingRetrier struct {
	mu      sync.Mutex
	entries [][]*model.Trade
}

func (r *recordingRetrier) Enqueue(_ *model.Account, trades ...*model.Trade) {
	r.mu.Lock()
	r.entries = append(r.entries, trades)
	r.mu.Unlock()
}

type fakeCache struct {
	mu          sync.Mutex
	stats       map[string]model.PerformanceStats
	invalidated int
	onSet       func(userID string)
}

func (c *fakeCache) Get(_ context.Context, userID string) (*model.PerformanceStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stats[userID]
	if !ok {
		return nil, false, nil
	}
	return &st, true, nil
}

func (c *fakeCache) Set(_ context.Context, userID string, st *model.PerformanceStats) error {
	if c.onSet != nil {
		c.onSet(userID)
	}
	c.mu.Lock()
	c.stats[userID] = *st
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.stats, userID)
	c.invalidated++
	c.mu.Unlock()
	return nil
}

type harness struct {
	engine   *Engine
	prices   *fakePrices
	store    *memory.Store
	notifier *recordingNotifier
	retry    *recordingRetrier
	clock    time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.StartingBalance == 0 {
		cfg.StartingBalance = 10_000
	}
	h := &harness{
		prices:   newFakePrices(),
		store:    memory.New(),
		notifier: &recordingNotifier{},
		retry:    &recordingRetrier{},
		clock:    time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}
	e, err := New(cfg, Deps{Prices: h.prices, Store: h.store, Notifier: h.notifier, Retry: h.retry}, zap.NewNop())
	require.NoError(t, err)
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("t%03d", seq)
	}
	e.now = func() time.Time { return h.clock }
	h.engine = e
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) tick(symbol string, price float64) {
	h.prices.set(symbol, price)
	h.engine.OnTick(model.Tick{Symbol: symbol, Price: price, TS: h.clock})
}

func buyEURUSD() OpenRequest {
	return OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: 1, StopLoss: 1.0950, TakeProfit: 1.1100}
}

var ctx = context.Background()

func TestTakeProfitClosesAutomatically(t *testing.T) {
	h := newHarness(t, Config{})

	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	assert.Equal(t, 1.1000, tr.EntryPrice)
	assert.Equal(t, model.StatusOpen, tr.Status)
	assert.Equal(t, 1, h.prices.holders("EURUSD"))

	h.advance(time.Minute)
	h.tick("EURUSD", 1.1050)
	active, err := h.engine.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)

	h.advance(time.Minute)
	h.tick("EURUSD", 1.1100)

	history, err := h.engine.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	closed := history[0]
	assert.Equal(t, model.StatusClosed, closed.Status)
	assert.Equal(t, model.ReasonTakeProfit, closed.CloseReason)
	assert.InDelta(t, 0.0100, closed.PnL(), 1e-9)
	require.NotNil(t, closed.RMultiple)
	assert.InDelta(t, 2.0, *closed.RMultiple, 1e-6)

	acct, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10_000.01, acct.Balance, 1e-9)
	assert.ElementsMatch(t,
		[]model.AchievementID{achievement.FirstTrade, achievement.FirstWin, achievement.TargetHit},
		acct.Achievements)

	assert.Equal(t, 0, h.prices.holders("EURUSD"), "feed released after the last trade closes")
	assert.Equal(t, 0, h.engine.Watching("EURUSD"))
	assert.Contains(t, h.notifier.kinds(), notification.KindTradeClosed)
	assert.Contains(t, h.notifier.kinds(), notification.KindAchievementUnlocked)

	stored, err := h.store.LoadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10_000.01, stored.Balance, 1e-9)
	assert.Len(t, stored.Achievements, 3)
}

func TestStopLoss(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	h.tick("EURUSD", 1.0940) // gapped through the stop
	history, err := h.engine.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ReasonStopLoss, history[0].CloseReason)
	assert.InDelta(t, -0.0060, history[0].PnL(), 1e-9, "fills at the tick price")
}

func TestWatchTriggered(t *testing.T) {
	buy := watch{direction: model.Buy, stopLoss: 1.095, takeProfit: 1.11}
	sell := watch{direction: model.Sell, stopLoss: 1.105, takeProfit: 1.09}
	// A degenerate watch where both levels are crossed at once.
	gap := watch{direction: model.Buy, stopLoss: 1.2, takeProfit: 1.0}

	tests := []struct {
		name   string
		w      watch
		price  float64
		reason model.CloseReason
		hit    bool
	}{
		{"buy between", buy, 1.1, "", false},
		{"buy stop", buy, 1.095, model.ReasonStopLoss, true},
		{"buy target", buy, 1.11, model.ReasonTakeProfit, true},
		{"sell between", sell, 1.1, "", false},
		{"sell stop", sell, 1.106, model.ReasonStopLoss, true},
		{"sell target", sell, 1.09, model.ReasonTakeProfit, true},
		{"stop wins ties", gap, 1.1, model.ReasonStopLoss, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reason, hit := tc.w.triggered(tc.price)
			assert.Equal(t, tc.hit, hit)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestManualCloseBuyAndSell(t *testing.T) {
	h := newHarness(t, Config{})

	buy, err := h.engine.OpenTrade(ctx, "alice", OpenRequest{
		Symbol: "EURUSD", Direction: model.Buy, Size: 1000, StopLoss: 1.09, TakeProfit: 1.12})
	require.NoError(t, err)
	sell, err := h.engine.OpenTrade(ctx, "alice", OpenRequest{
		Symbol: "GBPUSD", Direction: model.Sell, Size: 1000, StopLoss: 1.26, TakeProfit: 1.24})
	require.NoError(t, err)

	h.prices.set("EURUSD", 1.1020)
	h.prices.set("GBPUSD", 1.2530)

	acct, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10_000, acct.Balance, 1e-9, "opening debits nothing")
	assert.InDelta(t, 10_000+2-3, acct.Equity, 1e-6)

	closed, err := h.engine.CloseTrade(ctx, buy.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonManual, closed.CloseReason)
	assert.InDelta(t, 2, closed.PnL(), 1e-6)

	closed, err = h.engine.CloseTrade(ctx, sell.ID, "alice")
	require.NoError(t, err)
	assert.InDelta(t, -3, closed.PnL(), 1e-6)

	acct, err = h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 9_999, acct.Balance, 1e-6)
	assert.InDelta(t, acct.Balance, acct.Equity, 1e-9)
}

func TestCloseTwiceIsReported(t *testing.T) {
	h := newHarness(t, Config{})
	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	h.prices.set("EURUSD", 1.1010)
	_, err = h.engine.CloseTrade(ctx, tr.ID, "alice")
	require.NoError(t, err)
	before, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)

	_, err = h.engine.CloseTrade(ctx, tr.ID, "alice")
	assert.True(t, errors.Is(err, model.ErrAlreadyClosed))

	after, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Version, after.Version)
}

func TestCloseForeignOrUnknownTrade(t *testing.T) {
	h := newHarness(t, Config{})
	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	_, err = h.engine.CloseTrade(ctx, tr.ID, "bob")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = h.engine.CloseTrade(ctx, "missing", "alice")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestOpenTradeValidation(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"zero size", OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: 0, StopLoss: 1.09, TakeProfit: 1.11}, model.ErrValidation},
		{"negative size", OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: -1, StopLoss: 1.09, TakeProfit: 1.11}, model.ErrValidation},
		{"bad direction", OpenRequest{Symbol: "EURUSD", Direction: "HOLD", Size: 1, StopLoss: 1.09, TakeProfit: 1.11}, model.ErrValidation},
		{"unknown symbol", OpenRequest{Symbol: "XAUUSD", Direction: model.Buy, Size: 1, StopLoss: 1.09, TakeProfit: 1.11}, model.ErrNotFound},
		{"buy stop above market", OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: 1, StopLoss: 1.101, TakeProfit: 1.11}, model.ErrValidation},
		{"sell levels reversed", OpenRequest{Symbol: "EURUSD", Direction: model.Sell, Size: 1, StopLoss: 1.09, TakeProfit: 1.11}, model.ErrValidation},
		{"zero stop", OpenRequest{Symbol: "EURUSD", Direction: model.Buy, Size: 1, StopLoss: 0, TakeProfit: 1.11}, model.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.OpenTrade(ctx, "alice", tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := h.engine.OpenTrade(ctx, "", buyEURUSD())
	assert.True(t, errors.Is(err, model.ErrValidation))

	active, err := h.engine.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOpenTradeRuleViolation(t *testing.T) {
	h := newHarness(t, Config{Rules: model.RuleLimits{MaxOpenTrades: 1}})
	var rejected []model.Rule
	h.engine.OnRejected = func(r model.Rule) { rejected = append(rejected, r) }

	_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	_, err = h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRuleViolation))
	var v *model.RuleViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, model.RuleMaxOpenTrades, v.Rule)
	assert.Equal(t, []model.Rule{model.RuleMaxOpenTrades}, rejected)
	assert.Contains(t, h.notifier.kinds(), notification.KindRuleViolation)

	active, err := h.engine.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, active, 1, "a rejected open leaves no trace")

	status, err := h.engine.GetRulesStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, status.State.OpenTrades)
	require.NotNil(t, status.Violation)
}

func TestDailyLossForcesClose(t *testing.T) {
	h := newHarness(t, Config{
		StartingBalance:       1000,
		Rules:                 model.RuleLimits{MaxDailyLossPct: 1},
		ForceCloseOnDailyLoss: true,
	})

	big, err := h.engine.OpenTrade(ctx, "alice", OpenRequest{
		Symbol: "EURUSD", Direction: model.Buy, Size: 1000, StopLoss: 1.09, TakeProfit: 1.2})
	require.NoError(t, err)
	small, err := h.engine.OpenTrade(ctx, "alice", OpenRequest{
		Symbol: "EURUSD", Direction: model.Buy, Size: 10, StopLoss: 1.05, TakeProfit: 1.2})
	require.NoError(t, err)

	h.tick("EURUSD", 1.0850) // big loses 15 against a limit of 10

	history, err := h.engine.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	reasons := map[string]model.CloseReason{}
	for _, tr := range history {
		reasons[tr.ID] = tr.CloseReason
	}
	assert.Equal(t, model.ReasonStopLoss, reasons[big.ID])
	assert.Equal(t, model.ReasonRuleViolation, reasons[small.ID])

	var forced bool
	for _, n := range h.notifier.notes {
		if rv, ok := n.(notification.RuleViolated); ok && rv.Forced {
			forced = true
			assert.Equal(t, model.RuleMaxDailyLoss, rv.Violation.Rule)
		}
	}
	assert.True(t, forced)

	_, err = h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	assert.True(t, errors.Is(err, model.ErrRuleViolation))
}

func TestResetBalanceClosesOpenTrades(t *testing.T) {
	h := newHarness(t, Config{StartingBalance: 5000})

	_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	_, err = h.engine.OpenTrade(ctx, "alice", OpenRequest{
		Symbol: "GBPUSD", Direction: model.Sell, Size: 100, StopLoss: 1.26, TakeProfit: 1.24})
	require.NoError(t, err)
	h.prices.set("GBPUSD", 1.2400+0.0050)

	h.advance(time.Minute)
	acct, err := h.engine.ResetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, acct.Balance)
	assert.Equal(t, 5000.0, acct.Equity)
	assert.Equal(t, h.clock, acct.ResetAt)

	history, err := h.engine.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, tr := range history {
		assert.Equal(t, model.StatusClosed, tr.Status)
		assert.Equal(t, model.ReasonReset, tr.CloseReason)
	}
	active, err := h.engine.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)

	status, err := h.engine.GetRulesStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, status.State.TradesToday)
	assert.Zero(t, status.State.DailyLoss)

	stats, err := h.engine.GetPerformanceStats(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stats.HasData, "statistics restart at the reset")
	assert.Equal(t, 0, h.prices.holders("EURUSD"))
	assert.Equal(t, 0, h.prices.holders("GBPUSD"))
}

func TestAchievementsIgnoreTradesBeforeReset(t *testing.T) {
	h := newHarness(t, Config{})

	for i := 0; i < 9; i++ {
		_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
		require.NoError(t, err)
	}
	h.advance(time.Minute)
	_, err := h.engine.ResetBalance(ctx, "alice")
	require.NoError(t, err)

	h.advance(time.Minute)
	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	h.prices.set("EURUSD", 1.1010)
	_, err = h.engine.CloseTrade(ctx, tr.ID, "alice")
	require.NoError(t, err)

	acct, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.AchievementID{achievement.FirstTrade, achievement.FirstWin}, acct.Achievements)
	assert.NotContains(t, acct.Achievements, achievement.TenTrades)
	assert.NotContains(t, acct.Achievements, achievement.Disciplined10)
}

func TestPerformanceStatsWithoutTrades(t *testing.T) {
	h := newHarness(t, Config{})
	stats, err := h.engine.GetPerformanceStats(ctx, "newcomer")
	require.NoError(t, err)
	assert.False(t, stats.HasData)
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.WinRate)
}

func TestPerformanceStatsCached(t *testing.T) {
	h := newHarness(t, Config{})
	cache := &fakeCache{stats: map[string]model.PerformanceStats{}}
	h.engine.cache = cache

	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	_, err = h.engine.GetPerformanceStats(ctx, "alice")
	require.NoError(t, err)
	_, cached, _ := cache.Get(ctx, "alice")
	assert.True(t, cached)

	h.prices.set("EURUSD", 1.1050)
	_, err = h.engine.CloseTrade(ctx, tr.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)

	stats, err := h.engine.GetPerformanceStats(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stats.HasData)
	assert.Equal(t, 1, stats.Wins)
}

func TestPerformanceStatsCachedUnderAccountLock(t *testing.T) {
	h := newHarness(t, Config{})
	locked := false
	cache := &fakeCache{stats: map[string]model.PerformanceStats{}}
	cache.onSet = func(userID string) {
		h.engine.mu.Lock()
		a := h.engine.accounts[userID]
		h.engine.mu.Unlock()
		if a.mu.TryLock() {
			a.mu.Unlock()
			return
		}
		locked = true
	}
	h.engine.cache = cache

	_, err := h.engine.GetPerformanceStats(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked, "a close must not commit between computing and caching stats")
}

func TestStoreFailureOnManualActions(t *testing.T) {
	h := newHarness(t, Config{})
	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	h.store.FailWith(errors.New("disk full"))

	_, err = h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	assert.True(t, errors.Is(err, model.ErrInternal))

	h.prices.set("EURUSD", 1.1050)
	_, err = h.engine.CloseTrade(ctx, tr.ID, "alice")
	assert.True(t, errors.Is(err, model.ErrInternal))

	_, err = h.engine.ResetBalance(ctx, "alice")
	assert.True(t, errors.Is(err, model.ErrInternal))

	h.store.FailWith(nil)
	active, err := h.engine.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1, "failed writes change nothing")
	acct, err := h.engine.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, acct.Balance)
}

func TestAutomaticCloseQueuedWhenStoreFails(t *testing.T) {
	h := newHarness(t, Config{})
	tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)

	h.store.FailWith(errors.New("disk full"))
	h.tick("EURUSD", 1.0950)

	history, err := h.engine.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1, "the close is applied despite the failed write")
	require.Len(t, h.retry.entries, 1)
	assert.Equal(t, tr.ID, h.retry.entries[0][0].ID)
	assert.Equal(t, model.StatusClosed, h.retry.entries[0][0].Status)
}

func TestManualAndAutomaticCloseRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, Config{})
		tr, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
		require.NoError(t, err)
		h.prices.set("EURUSD", 1.1100)

		var wg sync.WaitGroup
		var manualErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, manualErr = h.engine.CloseTrade(ctx, tr.ID, "alice")
		}()
		go func() {
			defer wg.Done()
			h.engine.OnTick(model.Tick{Symbol: "EURUSD", Price: 1.1100, TS: h.clock})
		}()
		wg.Wait()

		if manualErr != nil {
			assert.True(t, errors.Is(manualErr, model.ErrAlreadyClosed), "got %v", manualErr)
		}
		acct, err := h.engine.GetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.InDelta(t, 10_000.01, acct.Balance, 1e-9, "P&L applied exactly once")
		assert.Equal(t, int64(2), acct.Version)
	}
}

func TestRestartResumesMonitoring(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	h.engine.Close()

	restarted, err := New(Config{StartingBalance: 10_000}, Deps{Prices: h.prices, Store: h.store}, zap.NewNop())
	require.NoError(t, err)
	active, err := restarted.GetActiveTrades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, restarted.Watching("EURUSD"))

	h.prices.set("EURUSD", 1.1100)
	restarted.OnTick(model.Tick{Symbol: "EURUSD", Price: 1.1100, TS: time.Now()})
	acct, err := restarted.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10_000.01, acct.Balance, 1e-9)
}

func TestResumeMonitorsWithoutAccountAccess(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.engine.OpenTrade(ctx, "alice", buyEURUSD())
	require.NoError(t, err)
	_, err = h.engine.OpenTrade(ctx, "bob", OpenRequest{Symbol: "GBPUSD", Direction: model.Sell, Size: 1, StopLoss: 1.26, TakeProfit: 1.24})
	require.NoError(t, err)
	_, err = h.engine.GetBalance(ctx, "carol")
	require.NoError(t, err)
	h.engine.Close()
	assert.Equal(t, 0, h.prices.holders("EURUSD"))

	restarted, err := New(Config{StartingBalance: 10_000}, Deps{Prices: h.prices, Store: h.store}, zap.NewNop())
	require.NoError(t, err)
	n, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "carol has no open trades")
	assert.Equal(t, 1, restarted.Watching("EURUSD"))
	assert.Equal(t, 1, restarted.Watching("GBPUSD"))
	assert.Equal(t, 1, h.prices.holders("EURUSD"), "feed acquired without a request")

	h.prices.set("EURUSD", 1.0950)
	restarted.OnTick(model.Tick{Symbol: "EURUSD", Price: 1.0950, TS: time.Now()})
	history, err := restarted.GetTradeHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ReasonStopLoss, history[0].CloseReason)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{StartingBalance: 1}, Deps{}, zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = New(Config{}, Deps{Prices: newFakePrices(), Store: memory.New()}, zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrValidation))
}
