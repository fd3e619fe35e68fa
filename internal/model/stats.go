package model

import (
	"math"
	"strconv"
)

// ProfitFactor is gross profit / gross loss. +Inf is encoded as "Infinity".
type ProfitFactor float64

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(p), 1) {
		return []byte(`"Infinity"`), nil
	}
	return strconv.AppendFloat(nil, float64(p), 'f', -1, 64), nil
}

func (p *ProfitFactor) UnmarshalJSON(b []byte) error {
	if string(b) == `"Infinity"` {
		*p = ProfitFactor(math.Inf(1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*p = ProfitFactor(v)
	return nil
}

// PerformanceStats is a read-only view over an account's closed trades.
// HasData is false for an account without closed trades.
type PerformanceStats struct {
	HasData         bool         `json:"has_data"`
	TotalTrades     int          `json:"total_trades"`
	Wins            int          `json:"wins"`
	Losses          int          `json:"losses"`
	WinRate         float64      `json:"win_rate"`
	AverageWin      float64      `json:"average_win"`
	AverageLoss     float64      `json:"average_loss"`
	AverageR        float64      `json:"average_r"`
	GrossProfit     float64      `json:"gross_profit"`
	GrossLoss       float64      `json:"gross_loss"`
	ProfitFactor    ProfitFactor `json:"profit_factor"`
	NetProfit       float64      `json:"net_profit"`
	CurrentDrawdown float64      `json:"current_drawdown"`
	MaxDrawdown     float64      `json:"max_drawdown"`
	MaxDrawdownPct  float64      `json:"max_drawdown_pct"`
}
