package pricegen

import (
	"math"
	"math/rand"

	"trading-simulator/internal/model"
)

// Model computes the next raw price of a symbol from the previous one.
// The generator clamps and rounds the result, so a Model need not enforce
// continuity itself.
type Model interface {
	Next(sym model.Symbol, prev float64, rng *rand.Rand) float64
}

// RandomWalk is a bounded Gaussian random walk in whole ticks with an
// optional pull toward the symbol's base price.
type RandomWalk struct{}

func (RandomWalk) Next(sym model.Symbol, prev float64, rng *rand.Rand) float64 {
	move := rng.NormFloat64()*sym.Volatility*prev - sym.MeanReversion*(prev-sym.BasePrice)
	ticks := math.Round(move / sym.TickSize)
	limit := float64(sym.MaxStepTicks)
	if ticks > limit {
		ticks = limit
	} else if ticks < -limit {
		ticks = -limit
	}
	return prev + ticks*sym.TickSize
}

// constrain applies the continuity invariants to a proposed price. The
// move is snapped to whole ticks and clamped to ±MaxStepTicks; a result
// below one tick, or one that rounding pushed past MaxStep, keeps prev.
func constrain(sym model.Symbol, prev, next float64) float64 {
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return prev
	}
	ticks := math.Round((next - prev) / sym.TickSize)
	limit := float64(sym.MaxStepTicks)
	if ticks > limit {
		ticks = limit
	} else if ticks < -limit {
		ticks = -limit
	}
	next = sym.Round(prev + ticks*sym.TickSize)
	if next < sym.TickSize || math.Abs(next-prev) > sym.MaxStep()+sym.TickSize*1e-6 {
		return prev
	}
	return next
}
