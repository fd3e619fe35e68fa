// Package trading is the trade engine: it owns accounts and their trades,
// validates and opens positions, monitors open positions against every
// price tick, and settles closes into the account balance.
//
// All mutations of one account happen under that account's mutex, shared
// by API calls and the tick monitor. Lock order is account lock, then the
// engine's index lock, then the price generator's lock.
package trading

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
)

// PriceSource provides market prices and feed lifecycle. It is satisfied
// by *pricegen.Generator.
type PriceSource interface {
	Symbol(name string) (model.Symbol, bool)
	CurrentPrice(symbol string) (float64, error)
	Acquire(symbol string) (release func(), err error)
}

// Retrier persists automatic closes whose first write failed.
// It is satisfied by *store.RetryQueue.
type Retrier interface {
	Enqueue(acct *model.Account, trades ...*model.Trade)
}

// Config holds engine settings.
type Config struct {
	StartingBalance       float64          `mapstructure:"starting_balance"`
	Currency              string           `mapstructure:"currency"`
	Rules                 model.RuleLimits `mapstructure:"rules"`
	ForceCloseOnDailyLoss bool             `mapstructure:"force_close_on_daily_loss"`
	StoreTimeout          time.Duration    `mapstructure:"store_timeout"` // per write issued by the monitor
}

// Deps are the collaborators of the engine. Cache and Retry are optional.
type Deps struct {
	Prices   PriceSource
	Store    model.AccountStore
	Cache    model.StatsCache
	Notifier notification.Notifier
	Retry    Retrier
}

// account is the in-memory state of one user.
type account struct {
	mu     sync.Mutex
	loaded bool
	acct   *model.Account
	trades []*model.Trade // OpenedAt order
	byID   map[string]*model.Trade
}

// watch is what the monitor needs to test a trade without taking the
// account lock.
type watch struct {
	userID     string
	direction  model.Direction
	stopLoss   float64
	takeProfit float64
}

// Engine is the trade engine.
type Engine struct {
	cfg      Config
	prices   PriceSource
	store    model.AccountStore
	cache    model.StatsCache
	notifier notification.Notifier
	retry    Retrier
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	accounts map[string]*account

	idxMu    sync.RWMutex
	bySymbol map[string]map[string]watch // symbol -> tradeID -> watch
	releases map[string]func()           // tradeID -> feed release

	// Metrics hooks (optional, set externally)
	OnOpened         func(symbol string)
	OnClosed         func(reason model.CloseReason)
	OnRejected       func(rule model.Rule)
	OnPersistFailure func(op string)
}

// New creates an engine.
func New(cfg Config, deps Deps, log *zap.Logger) (*Engine, error) {
	if deps.Prices == nil || deps.Store == nil {
		return nil, errors.Wrap(model.ErrValidation, "price source and store are required")
	}
	if cfg.StartingBalance <= 0 {
		return nil, errors.Wrap(model.ErrValidation, "starting balance must be positive")
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	n := deps.Notifier
	if n == nil {
		n = notification.NewLogNotifier(log)
	}
	return &Engine{
		cfg:      cfg,
		prices:   deps.Prices,
		store:    deps.Store,
		cache:    deps.Cache,
		notifier: n,
		retry:    deps.Retry,
		log:      log.Named("trading"),
		now:      time.Now,
		newID:    uuid.NewString,
		accounts: make(map[string]*account),
		bySymbol: make(map[string]map[string]watch),
		releases: make(map[string]func()),
	}, nil
}

// Rules returns the configured rule limits.
func (e *Engine) Rules() model.RuleLimits { return e.cfg.Rules }

// lock returns the loaded account of userID with its mutex held. The
// caller must unlock a.mu.
func (e *Engine) lock(ctx context.Context, userID string) (*account, error) {
	if userID == "" {
		return nil, errors.Wrap(model.ErrValidation, "user id is required")
	}
	e.mu.Lock()
	a, ok := e.accounts[userID]
	if !ok {
		a = &account{}
		e.accounts[userID] = a
	}
	e.mu.Unlock()

	a.mu.Lock()
	if !a.loaded {
		if err := e.load(ctx, userID, a); err != nil {
			a.mu.Unlock()
			return nil, err
		}
	}
	return a, nil
}

// Resume loads every account with open trades so their stop-loss and
// take-profit levels are monitored again after a restart. It returns the
// number of accounts loaded.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	users, err := e.store.ListOpenUsers(ctx)
	if err != nil {
		e.persistFailed("list_open_users", "", err)
		return 0, errors.Wrapf(model.ErrInternal, "list open users: %v", err)
	}
	for _, userID := range users {
		a, err := e.lock(ctx, userID)
		if err != nil {
			return 0, err
		}
		a.mu.Unlock()
	}
	e.log.Info("monitoring resumed", zap.Int("accounts", len(users)))
	return len(users), nil
}

// load reads the account from the store, creating it on first access,
// and resumes monitoring of its open trades.
func (e *Engine) load(ctx context.Context, userID string, a *account) error {
	acct, err := e.store.LoadAccount(ctx, userID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		now := e.now().UTC()
		acct = &model.Account{
			UserID:          userID,
			Balance:         e.cfg.StartingBalance,
			Equity:          e.cfg.StartingBalance,
			Currency:        e.cfg.Currency,
			StartingBalance: e.cfg.StartingBalance,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.store.SaveAccount(ctx, acct); err != nil {
			e.persistFailed("create_account", userID, err)
			return errors.Wrapf(model.ErrInternal, "create account %s: %v", userID, err)
		}
		e.log.Info("account created", zap.String("user_id", userID), zap.Float64("balance", acct.Balance))
	case err != nil:
		e.persistFailed("load_account", userID, err)
		return errors.Wrapf(model.ErrInternal, "load account %s: %v", userID, err)
	}

	trades, err := e.store.ListTrades(ctx, userID)
	if err != nil {
		e.persistFailed("list_trades", userID, err)
		return errors.Wrapf(model.ErrInternal, "list trades %s: %v", userID, err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].OpenedAt.Before(trades[j].OpenedAt) })

	a.acct = acct
	a.trades = trades
	a.byID = make(map[string]*model.Trade, len(trades))
	for _, t := range trades {
		a.byID[t.ID] = t
		if t.IsOpen() {
			e.watch(t)
		}
	}
	a.loaded = true
	return nil
}

// watch registers an open trade with the monitor and holds its symbol's
// feed until unwatch.
func (e *Engine) watch(t *model.Trade) {
	release, err := e.prices.Acquire(t.Symbol)
	if err != nil {
		e.log.Error("acquire feed", zap.String("symbol", t.Symbol), zap.String("trade_id", t.ID), zap.Error(err))
	}

	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	w, ok := e.bySymbol[t.Symbol]
	if !ok {
		w = make(map[string]watch)
		e.bySymbol[t.Symbol] = w
	}
	w[t.ID] = watch{userID: t.UserID, direction: t.Direction, stopLoss: t.StopLoss, takeProfit: t.TakeProfit}
	if release != nil {
		e.releases[t.ID] = release
	}
}

func (e *Engine) unwatch(t *model.Trade) {
	e.idxMu.Lock()
	if w, ok := e.bySymbol[t.Symbol]; ok {
		delete(w, t.ID)
		if len(w) == 0 {
			delete(e.bySymbol, t.Symbol)
		}
	}
	release := e.releases[t.ID]
	delete(e.releases, t.ID)
	e.idxMu.Unlock()

	if release != nil {
		release()
	}
}

// Watching returns the number of open trades monitored on symbol.
func (e *Engine) Watching(symbol string) int {
	e.idxMu.RLock()
	defer e.idxMu.RUnlock()
	return len(e.bySymbol[symbol])
}

// Close releases every feed held for open trades.
func (e *Engine) Close() {
	e.idxMu.Lock()
	releases := e.releases
	e.releases = make(map[string]func())
	e.idxMu.Unlock()
	for _, release := range releases {
		release()
	}
}

func (e *Engine) persistFailed(op, userID string, err error) {
	e.log.Error("store write failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	if e.OnPersistFailure != nil {
		e.OnPersistFailure(op)
	}
}

// unrealized returns the open P&L of a's trades at current prices.
func (e *Engine) unrealized(a *account) float64 {
	var sum float64
	for _, t := range a.trades {
		if !t.IsOpen() {
			continue
		}
		price, err := e.prices.CurrentPrice(t.Symbol)
		if err != nil {
			continue
		}
		sum += t.PnLAt(price)
	}
	return sum
}

// snapshot returns a copy of the account with equity marked to market.
func (e *Engine) snapshot(a *account) *model.Account {
	out := a.acct.Clone()
	out.Equity = out.Balance + e.unrealized(a)
	return out
}

// sinceReset returns the closed trades that count toward statistics: those
// closed after the last reset, excluding the reset closes themselves.
func sinceReset(acct *model.Account, trades []*model.Trade) []*model.Trade {
	out := make([]*model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.IsOpen() || t.ClosedAt == nil || t.CloseReason == model.ReasonReset {
			continue
		}
		if t.ClosedAt.Before(acct.ResetAt) {
			continue
		}
		out = append(out, t)
	}
	return out
}
