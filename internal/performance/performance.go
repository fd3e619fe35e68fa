// Package performance derives trading statistics from closed trades.
package performance

import (
	"math"
	"sort"

	"trading-simulator/internal/model"
)

// Compute replays the closed trades in close order on top of startEquity.
// Open trades are ignored. With no closed trades the result has
// HasData=false and all figures zero.
func Compute(startEquity float64, trades []*model.Trade) model.PerformanceStats {
	closed := make([]*model.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.IsOpen() && t.ClosedAt != nil {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return model.PerformanceStats{}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(*closed[j].ClosedAt)
	})

	var (
		st       = model.PerformanceStats{HasData: true, TotalTrades: len(closed)}
		sumR     float64
		rCount   int
		equity   = startEquity
		peak     = startEquity
		drawdown float64
	)
	for _, t := range closed {
		pnl := t.PnL()
		switch {
		case pnl > 0:
			st.Wins++
			st.GrossProfit += pnl
		case pnl < 0:
			st.Losses++
			st.GrossLoss += -pnl
		}
		if t.RMultiple != nil {
			sumR += *t.RMultiple
			rCount++
		}

		equity += pnl
		if equity > peak {
			peak = equity
		}
		drawdown = peak - equity
		if drawdown > st.MaxDrawdown {
			st.MaxDrawdown = drawdown
			if peak > 0 {
				st.MaxDrawdownPct = drawdown / peak * 100
			}
		}
	}

	st.CurrentDrawdown = drawdown
	st.NetProfit = st.GrossProfit - st.GrossLoss
	st.WinRate = float64(st.Wins) / float64(st.TotalTrades)
	if st.Wins > 0 {
		st.AverageWin = st.GrossProfit / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AverageLoss = st.GrossLoss / float64(st.Losses)
	}
	if rCount > 0 {
		st.AverageR = sumR / float64(rCount)
	}
	st.ProfitFactor = profitFactor(st.GrossProfit, st.GrossLoss)
	return st
}

func profitFactor(grossProfit, grossLoss float64) model.ProfitFactor {
	switch {
	case grossLoss > 0:
		return model.ProfitFactor(grossProfit / grossLoss)
	case grossProfit > 0:
		return model.ProfitFactor(math.Inf(1))
	default:
		return 0
	}
}
