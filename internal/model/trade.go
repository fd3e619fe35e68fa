package model

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Direction is the side of a trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Valid reports whether d is BUY or SELL.
func (d Direction) Valid() bool { return d == Buy || d == Sell }

// Sign returns +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

// TradeStatus is the lifecycle state of a trade. CLOSED is terminal.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// CloseReason records what closed a trade.
type CloseReason string

const (
	ReasonManual        CloseReason = "MANUAL"
	ReasonStopLoss      CloseReason = "STOP_LOSS"
	ReasonTakeProfit    CloseReason = "TAKE_PROFIT"
	ReasonRuleViolation CloseReason = "RULE_VIOLATION"
	ReasonReset         CloseReason = "RESET"
)

// Trade is a simulated position owned by one account.
// The close fields are nil while the trade is OPEN.
type Trade struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	EntryPrice  float64     `json:"entry_price"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	Size        float64     `json:"size"`
	Status      TradeStatus `json:"status"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	ClosePrice  *float64    `json:"close_price,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	ProfitLoss  *float64    `json:"profit_loss,omitempty"`
	RMultiple   *float64    `json:"r_multiple,omitempty"`
}

// IsOpen reports whether the trade is still OPEN.
func (t *Trade) IsOpen() bool { return t.Status == StatusOpen }

// PnLAt returns the profit/loss the trade would realise at price.
func (t *Trade) PnLAt(price float64) float64 {
	return (price - t.EntryPrice) * t.Size * t.Direction.Sign()
}

// Risk returns the initial risk of the position: |entry - stop| * size.
func (t *Trade) Risk() float64 {
	return math.Abs(t.EntryPrice-t.StopLoss) * t.Size
}

// PnL returns the realised profit/loss, or 0 while the trade is open.
func (t *Trade) PnL() float64 {
	if t.ProfitLoss == nil {
		return 0
	}
	return *t.ProfitLoss
}

// Close transitions the trade to CLOSED at price and returns the realised
// profit/loss. Closing a CLOSED trade returns ErrAlreadyClosed.
func (t *Trade) Close(price float64, reason CloseReason, at time.Time) (float64, error) {
	if !t.IsOpen() {
		return 0, errors.Wrapf(ErrAlreadyClosed, "trade %s", t.ID)
	}
	pnl := t.PnLAt(price)
	closedAt := at.UTC()
	t.Status = StatusClosed
	t.ClosedAt = &closedAt
	t.ClosePrice = &price
	t.CloseReason = reason
	t.ProfitLoss = &pnl
	if risk := t.Risk(); risk > 0 {
		r := pnl / risk
		t.RMultiple = &r
	}
	return pnl, nil
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		c.ClosedAt = &v
	}
	if t.ClosePrice != nil {
		v := *t.ClosePrice
		c.ClosePrice = &v
	}
	if t.ProfitLoss != nil {
		v := *t.ProfitLoss
		c.ProfitLoss = &v
	}
	if t.RMultiple != nil {
		v := *t.RMultiple
		c.RMultiple = &v
	}
	return &c
}

// ValidateLevels checks the stop/target ordering against an entry price:
// BUY requires stop < entry < target, SELL the reverse.
func ValidateLevels(d Direction, entry, stop, target float64) error {
	if entry <= 0 || stop <= 0 || target <= 0 {
		return errors.Wrap(ErrValidation, "entry, stop_loss and take_profit must be positive")
	}
	switch d {
	case Buy:
		if !(stop < entry && entry < target) {
			return errors.Wrapf(ErrValidation, "BUY requires stop_loss < entry (%v) < take_profit", entry)
		}
	case Sell:
		if !(target < entry && entry < stop) {
			return errors.Wrapf(ErrValidation, "SELL requires take_profit < entry (%v) < stop_loss", entry)
		}
	default:
		return errors.Wrapf(ErrValidation, "unknown direction %q", d)
	}
	return nil
}
