package model

import "time"

// AchievementID names an unlockable milestone.
type AchievementID string

// Account is a user's virtual trading account. It is mutated only by the
// trade engine; Version increases on every mutation.
type Account struct {
	UserID          string          `json:"user_id"`
	Balance         float64         `json:"balance"`
	Equity          float64         `json:"equity"`
	Currency        string          `json:"currency"`
	StartingBalance float64         `json:"starting_balance"`
	ResetAt         time.Time       `json:"reset_at"`
	Achievements    []AchievementID `json:"achievements"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasAchievement reports whether id is already unlocked.
func (a *Account) HasAchievement(id AchievementID) bool {
	for _, got := range a.Achievements {
		if got == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Achievements = append([]AchievementID(nil), a.Achievements...)
	return &c
}

// RuleLimits configures the trading-discipline rules. A zero value
// disables the corresponding rule.
type RuleLimits struct {
	MaxOpenTrades   int     `json:"max_open_trades" mapstructure:"max_open_trades"`
	MaxTradesPerDay int     `json:"max_trades_per_day" mapstructure:"max_trades_per_day"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
}

// RuleState holds the rolling counters of one account, derived from its
// trade history for the current UTC day.
type RuleState struct {
	Day             string  `json:"day"` // YYYY-MM-DD, UTC
	OpenTrades      int     `json:"open_trades"`
	TradesToday     int     `json:"trades_today"`
	RealizedToday   float64 `json:"realized_today"`
	DailyLoss       float64 `json:"daily_loss"`
	DayStartBalance float64 `json:"day_start_balance"`
}

// RulesStatus is the rule snapshot served to a user.
type RulesStatus struct {
	State     RuleState      `json:"state"`
	Limits    RuleLimits     `json:"limits"`
	Violation *RuleViolation `json:"violation,omitempty"`
}
