// Package achievement decides which milestones a trading history unlocks.
package achievement

import (
	"sort"

	"trading-simulator/internal/model"
)

const (
	FirstTrade    model.AchievementID = "FIRST_TRADE"
	FirstWin      model.AchievementID = "FIRST_WIN"
	TenTrades     model.AchievementID = "TEN_TRADES"
	WinStreak5    model.AchievementID = "WIN_STREAK_5"
	TargetHit     model.AchievementID = "TARGET_HIT"
	Disciplined10 model.AchievementID = "DISCIPLINED_10"
)

// Definition describes an achievement for display.
type Definition struct {
	ID          model.AchievementID `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
}

// Catalog lists every achievement in unlock-check order.
var Catalog = []Definition{
	{FirstTrade, "First Trade", "Close your first trade."},
	{FirstWin, "In the Green", "Close a trade in profit."},
	{TenTrades, "Getting Serious", "Close ten trades."},
	{WinStreak5, "Hot Hand", "Close five winning trades in a row."},
	{TargetHit, "Bullseye", "Have a trade closed by its take-profit."},
	{Disciplined10, "Disciplined", "Close ten trades in a row without a rule-violation close."},
}

// Lookup returns the definition of id.
func Lookup(id model.AchievementID) (Definition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// Evaluate returns the achievements earned by the closed trades that are not
// yet in unlocked, in catalog order.
func Evaluate(trades []*model.Trade, unlocked []model.AchievementID) []model.AchievementID {
	closed := make([]*model.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.IsOpen() && t.ClosedAt != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(*closed[j].ClosedAt)
	})

	earned := map[model.AchievementID]bool{}
	if len(closed) >= 1 {
		earned[FirstTrade] = true
	}
	if len(closed) >= 10 {
		earned[TenTrades] = true
	}

	streak, clean := 0, 0
	for _, t := range closed {
		if t.PnL() > 0 {
			earned[FirstWin] = true
			streak++
			if streak >= 5 {
				earned[WinStreak5] = true
			}
		} else {
			streak = 0
		}
		if t.CloseReason == model.ReasonTakeProfit {
			earned[TargetHit] = true
		}
		if t.CloseReason == model.ReasonRuleViolation {
			clean = 0
		} else {
			clean++
			if clean >= 10 {
				earned[Disciplined10] = true
			}
		}
	}

	have := make(map[model.AchievementID]bool, len(unlocked))
	for _, id := range unlocked {
		have[id] = true
	}
	var out []model.AchievementID
	for _, d := range Catalog {
		if earned[d.ID] && !have[d.ID] {
			out = append(out, d.ID)
		}
	}
	return out
}
