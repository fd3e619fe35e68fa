package trading

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/achievement"
	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
	"trading-simulator/internal/rules"
)

// OpenRequest is the payload of OpenTrade. The entry price is always the
// current market price of the symbol.
type OpenRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  model.Direction `json:"direction"`
	Size       float64         `json:"size"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
}

// fill is one trade to settle at a price.
type fill struct {
	trade *model.Trade
	price float64
}

// outcome carries the side effects of a settled mutation, delivered
// after the account lock is released.
type outcome struct {
	userID string
	notes  []notification.Notification
	closed []model.CloseReason
}

// OpenTrade validates req, consults the rules and opens a trade at the
// current market price. A failed rule returns a *model.RuleViolation and
// changes nothing.
func (e *Engine) OpenTrade(ctx context.Context, userID string, req OpenRequest) (*model.Trade, error) {
	if !(req.Size > 0) || math.IsInf(req.Size, 0) {
		return nil, errors.Wrap(model.ErrValidation, "size must be a positive number")
	}
	if !req.Direction.Valid() {
		return nil, errors.Wrapf(model.ErrValidation, "unknown direction %q", req.Direction)
	}
	if _, ok := e.prices.Symbol(req.Symbol); !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "symbol %s", req.Symbol)
	}

	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	entry, err := e.prices.CurrentPrice(req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateLevels(req.Direction, entry, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	st := rules.Derive(a.acct, a.trades, now)
	if v := rules.Evaluate(e.cfg.Rules, st); v != nil {
		e.log.Info("open rejected",
			zap.String("user_id", userID), zap.String("rule", string(v.Rule)), zap.String("reason", v.Message))
		if e.OnRejected != nil {
			e.OnRejected(v.Rule)
		}
		e.notifier.Notify(ctx, notification.RuleViolated{UserID: userID, Violation: *v, At: now})
		return nil, v
	}

	t := &model.Trade{
		ID:         e.newID(),
		UserID:     userID,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		EntryPrice: entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Size:       req.Size,
		Status:     model.StatusOpen,
		OpenedAt:   now,
	}
	if err := e.store.SaveTrade(ctx, t); err != nil {
		e.persistFailed("open_trade", userID, err)
		return nil, errors.Wrapf(model.ErrInternal, "save trade: %v", err)
	}

	a.trades = append(a.trades, t)
	a.byID[t.ID] = t
	e.watch(t)

	e.log.Info("trade opened",
		zap.String("user_id", userID), zap.String("trade_id", t.ID), zap.String("symbol", t.Symbol),
		zap.String("direction", string(t.Direction)), zap.Float64("entry", entry), zap.Float64("size", t.Size))
	if e.OnOpened != nil {
		e.OnOpened(t.Symbol)
	}
	return t.Clone(), nil
}

// CloseTrade closes a trade of userID at the current market price. A trade
// that is unknown or owned by another user is ErrNotFound; a CLOSED trade
// is ErrAlreadyClosed.
func (e *Engine) CloseTrade(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	t, ok := a.byID[tradeID]
	if !ok {
		a.mu.Unlock()
		return nil, errors.Wrapf(model.ErrNotFound, "trade %s", tradeID)
	}
	if !t.IsOpen() {
		a.mu.Unlock()
		return nil, errors.Wrapf(model.ErrAlreadyClosed, "trade %s", tradeID)
	}
	price, err := e.prices.CurrentPrice(t.Symbol)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}

	out, err := e.settle(ctx, a, []fill{{trade: t, price: price}}, model.ReasonManual, false, nil)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	forced := e.enforceDailyLoss(ctx, a)
	closed := a.byID[tradeID].Clone()
	a.mu.Unlock()

	e.deliver(ctx, out)
	e.deliver(ctx, forced)
	return closed, nil
}

// ResetBalance closes every open trade at market with reason RESET and
// restores the starting balance. Rule counters and statistics restart
// from the reset time.
func (e *Engine) ResetBalance(ctx context.Context, userID string) (*model.Account, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	fills, err := e.marketFills(a)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	out, err := e.settle(ctx, a, fills, model.ReasonReset, false, func(next *model.Account) {
		next.Balance = e.cfg.StartingBalance
		next.StartingBalance = e.cfg.StartingBalance
		next.ResetAt = next.UpdatedAt
	})
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	snap := e.snapshot(a)
	a.mu.Unlock()

	e.log.Info("account reset", zap.String("user_id", userID), zap.Int("closed", len(fills)))
	e.deliver(ctx, out)
	return snap, nil
}

// marketFills prices every open trade of a at the current market.
func (e *Engine) marketFills(a *account) ([]fill, error) {
	var fills []fill
	for _, t := range a.trades {
		if !t.IsOpen() {
			continue
		}
		price, err := e.prices.CurrentPrice(t.Symbol)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill{trade: t, price: price})
	}
	return fills, nil
}

// settle closes the given trades, applies their P&L, lets adjust change
// the resulting account and commits everything in one write. a.mu must be
// held.
//
// With auto unset a failed write returns ErrInternal and nothing changes.
// With auto set the close is applied anyway and handed to the retry queue:
// the market already crossed the level and the position must not stay at
// risk.
func (e *Engine) settle(ctx context.Context, a *account, fills []fill, reason model.CloseReason, auto bool, adjust func(next *model.Account)) (*outcome, error) {
	now := e.now().UTC()
	next := a.acct.Clone()
	next.Version++
	next.UpdatedAt = now

	closed := make([]*model.Trade, 0, len(fills))
	for _, f := range fills {
		c := f.trade.Clone()
		pnl, err := c.Close(f.price, reason, now)
		if err != nil {
			return nil, err
		}
		next.Balance += pnl
		closed = append(closed, c)
	}
	if adjust != nil {
		adjust(next)
	}

	// Achievements are evaluated against the history since the last reset
	// as it will be after this commit, so they are persisted with it.
	var unlocked []model.AchievementID
	if reason != model.ReasonReset {
		after := make([]*model.Trade, 0, len(a.trades))
		replaced := make(map[string]*model.Trade, len(closed))
		for _, c := range closed {
			replaced[c.ID] = c
		}
		for _, t := range a.trades {
			if c, ok := replaced[t.ID]; ok {
				after = append(after, c)
				continue
			}
			after = append(after, t)
		}
		unlocked = achievement.Evaluate(sinceReset(next, after), next.Achievements)
		next.Achievements = append(next.Achievements, unlocked...)
	}

	open := 0.0
	for _, t := range a.trades {
		if t.IsOpen() {
			if _, closing := findTrade(closed, t.ID); !closing {
				if p, err := e.prices.CurrentPrice(t.Symbol); err == nil {
					open += t.PnLAt(p)
				}
			}
		}
	}
	next.Equity = next.Balance + open

	if err := e.store.CommitClose(ctx, next, closed...); err != nil {
		e.persistFailed("commit_close", next.UserID, err)
		if !auto || e.retry == nil {
			return nil, errors.Wrapf(model.ErrInternal, "commit close: %v", err)
		}
		e.retry.Enqueue(next, closed...)
	}

	// Apply in memory.
	a.acct = next
	out := &outcome{userID: next.UserID}
	for _, c := range closed {
		*a.byID[c.ID] = *c
		e.unwatch(c)
		e.log.Info("trade closed",
			zap.String("user_id", c.UserID), zap.String("trade_id", c.ID), zap.String("reason", string(reason)),
			zap.Float64("close_price", *c.ClosePrice), zap.Float64("pnl", c.PnL()), zap.Float64("balance", next.Balance))
		out.closed = append(out.closed, reason)
		out.notes = append(out.notes, notification.TradeClosed{
			UserID: c.UserID, Trade: c.Clone(), Balance: next.Balance, At: now,
		})
	}
	for _, id := range unlocked {
		def, _ := achievement.Lookup(id)
		out.notes = append(out.notes, notification.AchievementUnlocked{
			UserID: next.UserID, ID: id, Title: def.Title, Description: def.Description, At: now,
		})
	}
	return out, nil
}

// enforceDailyLoss force-closes every remaining open trade when the daily
// loss limit is exceeded and forced closes are enabled. a.mu must be held.
func (e *Engine) enforceDailyLoss(ctx context.Context, a *account) *outcome {
	if !e.cfg.ForceCloseOnDailyLoss {
		return nil
	}
	now := e.now().UTC()
	v := rules.DailyLossBreached(e.cfg.Rules, rules.Derive(a.acct, a.trades, now))
	if v == nil {
		return nil
	}
	fills, err := e.marketFills(a)
	if err != nil {
		e.log.Error("price open trades for forced close", zap.String("user_id", a.acct.UserID), zap.Error(err))
		return nil
	}
	if len(fills) == 0 {
		return nil
	}
	out, err := e.settle(ctx, a, fills, model.ReasonRuleViolation, true, nil)
	if err != nil {
		e.log.Error("forced close failed", zap.String("user_id", a.acct.UserID), zap.Error(err))
		return nil
	}
	e.log.Warn("daily loss limit exceeded, open trades force-closed",
		zap.String("user_id", a.acct.UserID), zap.Int("closed", len(fills)), zap.Float64("loss", v.Actual))
	if e.OnRejected != nil {
		e.OnRejected(v.Rule)
	}
	out.notes = append(out.notes, notification.RuleViolated{UserID: a.acct.UserID, Violation: *v, Forced: true, At: now})
	return out
}

// deliver runs the side effects of a settled mutation.
func (e *Engine) deliver(ctx context.Context, out *outcome) {
	if out == nil {
		return
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, out.userID); err != nil {
			e.log.Warn("invalidate stats cache", zap.String("user_id", out.userID), zap.Error(err))
		}
	}
	for _, reason := range out.closed {
		if e.OnClosed != nil {
			e.OnClosed(reason)
		}
	}
	for _, n := range out.notes {
		e.notifier.Notify(ctx, n)
	}
}

func findTrade(trades []*model.Trade, id string) (*model.Trade, bool) {
	for _, t := range trades {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
