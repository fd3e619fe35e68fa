package trading

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/performance"
	"trading-simulator/internal/rules"
)

// GetBalance returns the account of userID with equity marked to the
// current market.
func (e *Engine) GetBalance(ctx context.Context, userID string) (*model.Account, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()
	return e.snapshot(a), nil
}

// GetActiveTrades returns the open trades of userID ordered by open time.
func (e *Engine) GetActiveTrades(ctx context.Context, userID string) ([]*model.Trade, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	out := make([]*model.Trade, 0)
	for _, t := range a.trades {
		if t.IsOpen() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// GetTradeHistory returns the closed trades of userID ordered by close time.
func (e *Engine) GetTradeHistory(ctx context.Context, userID string) ([]*model.Trade, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	out := make([]*model.Trade, 0)
	for _, t := range a.trades {
		if !t.IsOpen() && t.ClosedAt != nil {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

// GetRulesStatus returns the current rule counters and verdict of userID.
func (e *Engine) GetRulesStatus(ctx context.Context, userID string) (model.RulesStatus, error) {
	a, err := e.lock(ctx, userID)
	if err != nil {
		return model.RulesStatus{}, err
	}
	defer a.mu.Unlock()
	return rules.Status(e.cfg.Rules, rules.Derive(a.acct, a.trades, e.now())), nil
}

// GetPerformanceStats returns the statistics of userID since the last
// reset. A user without closed trades gets HasData=false.
func (e *Engine) GetPerformanceStats(ctx context.Context, userID string) (model.PerformanceStats, error) {
	if e.cache != nil && userID != "" {
		st, ok, err := e.cache.Get(ctx, userID)
		if err != nil {
			e.log.Warn("stats cache read", zap.String("user_id", userID), zap.Error(err))
		}
		if ok {
			return *st, nil
		}
	}

	a, err := e.lock(ctx, userID)
	if err != nil {
		return model.PerformanceStats{}, err
	}
	defer a.mu.Unlock()
	st := performance.Compute(a.acct.StartingBalance, sinceReset(a.acct, a.trades))

	// Written under the account lock: a close commits only after this Set,
	// so its invalidation cannot be overtaken by older stats.
	if e.cache != nil {
		if err := e.cache.Set(ctx, userID, &st); err != nil {
			e.log.Warn("stats cache write", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return st, nil
}
