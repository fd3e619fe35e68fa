// Package rules evaluates trading-discipline limits against an account's
// rolling counters. Everything here is pure: the trade engine derives a
// RuleState snapshot and acts on the verdict.
package rules

import (
	"fmt"
	"time"

	"trading-simulator/internal/model"
)

const dayLayout = "2006-01-02"

// Derive computes the rule counters of acct for the UTC day containing now.
// Only trades opened or closed after the account's last reset count toward
// the daily counters; closes made by the reset itself are excluded.
func Derive(acct *model.Account, trades []*model.Trade, now time.Time) model.RuleState {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := dayStart
	if acct.ResetAt.After(since) {
		since = acct.ResetAt
	}

	st := model.RuleState{Day: dayStart.Format(dayLayout)}
	for _, t := range trades {
		if t.IsOpen() {
			st.OpenTrades++
		}
		if !t.OpenedAt.Before(since) {
			st.TradesToday++
		}
		if !t.IsOpen() && t.CloseReason != model.ReasonReset && t.ClosedAt != nil && !t.ClosedAt.Before(since) {
			st.RealizedToday += t.PnL()
		}
	}
	if st.RealizedToday < 0 {
		st.DailyLoss = -st.RealizedToday
	}
	st.DayStartBalance = acct.Balance - st.RealizedToday
	return st
}

// Evaluate returns the first violated rule in the order concurrency limit,
// daily trade count, daily loss. It returns nil when opening another trade
// is allowed.
func Evaluate(limits model.RuleLimits, st model.RuleState) *model.RuleViolation {
	if limits.MaxOpenTrades > 0 && st.OpenTrades >= limits.MaxOpenTrades {
		return &model.RuleViolation{
			Rule:    model.RuleMaxOpenTrades,
			Message: fmt.Sprintf("%d open trades, limit is %d", st.OpenTrades, limits.MaxOpenTrades),
			Limit:   float64(limits.MaxOpenTrades),
			Actual:  float64(st.OpenTrades),
		}
	}
	if limits.MaxTradesPerDay > 0 && st.TradesToday >= limits.MaxTradesPerDay {
		return &model.RuleViolation{
			Rule:    model.RuleMaxTradesPerDay,
			Message: fmt.Sprintf("%d trades opened today, limit is %d", st.TradesToday, limits.MaxTradesPerDay),
			Limit:   float64(limits.MaxTradesPerDay),
			Actual:  float64(st.TradesToday),
		}
	}
	return DailyLossBreached(limits, st)
}

// DailyLossLimit returns the absolute loss allowed for the day.
func DailyLossLimit(limits model.RuleLimits, st model.RuleState) float64 {
	return limits.MaxDailyLossPct / 100 * st.DayStartBalance
}

// DailyLossBreached reports whether the daily loss limit is exceeded.
// The engine also uses it after a close to decide on a forced close.
func DailyLossBreached(limits model.RuleLimits, st model.RuleState) *model.RuleViolation {
	if limits.MaxDailyLossPct <= 0 {
		return nil
	}
	limit := DailyLossLimit(limits, st)
	if st.DailyLoss > limit {
		return &model.RuleViolation{
			Rule:    model.RuleMaxDailyLoss,
			Message: fmt.Sprintf("daily loss %.2f exceeds %.2f%% of %.2f", st.DailyLoss, limits.MaxDailyLossPct, st.DayStartBalance),
			Limit:   limit,
			Actual:  st.DailyLoss,
		}
	}
	return nil
}

// Status bundles the counters, limits and current verdict.
func Status(limits model.RuleLimits, st model.RuleState) model.RulesStatus {
	return model.RulesStatus{State: st, Limits: limits, Violation: Evaluate(limits, st)}
}
