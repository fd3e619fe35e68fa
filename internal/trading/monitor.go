package trading

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

// triggered reports which level, if any, price crosses. The stop-loss is
// checked first so a gap through both levels closes at a loss.
func (w watch) triggered(price float64) (model.CloseReason, bool) {
	if w.direction == model.Buy {
		switch {
		case price <= w.stopLoss:
			return model.ReasonStopLoss, true
		case price >= w.takeProfit:
			return model.ReasonTakeProfit, true
		}
		return "", false
	}
	switch {
	case price >= w.stopLoss:
		return model.ReasonStopLoss, true
	case price <= w.takeProfit:
		return model.ReasonTakeProfit, true
	}
	return "", false
}

type hit struct {
	tradeID string
	userID  string
	reason  model.CloseReason
}

// OnTick checks every open trade on the tick's symbol and closes those
// whose stop-loss or take-profit the price crossed, filling at the tick
// price. It runs synchronously inside the symbol's tick processing.
func (e *Engine) OnTick(tick model.Tick) {
	e.idxMu.RLock()
	var hits []hit
	for id, w := range e.bySymbol[tick.Symbol] {
		if reason, ok := w.triggered(tick.Price); ok {
			hits = append(hits, hit{tradeID: id, userID: w.userID, reason: reason})
		}
	}
	e.idxMu.RUnlock()
	if len(hits) == 0 {
		return
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].tradeID < hits[j].tradeID })

	for _, h := range hits {
		e.autoClose(h, tick.Price)
	}
}

func (e *Engine) autoClose(h hit, price float64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StoreTimeout)
	defer cancel()

	e.mu.Lock()
	a, ok := e.accounts[h.userID]
	e.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	t, ok := a.byID[h.tradeID]
	if !ok || !t.IsOpen() {
		// A manual close or reset won the race.
		a.mu.Unlock()
		return
	}
	out, err := e.settle(ctx, a, []fill{{trade: t, price: price}}, h.reason, true, nil)
	if err != nil {
		a.mu.Unlock()
		e.log.Error("automatic close failed",
			zap.String("trade_id", h.tradeID), zap.String("reason", string(h.reason)), zap.Error(err))
		return
	}
	forced := e.enforceDailyLoss(ctx, a)
	a.mu.Unlock()

	e.deliver(ctx, out)
	e.deliver(ctx, forced)
}
