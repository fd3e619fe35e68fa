package model

import (
	"math"

	"github.com/pkg/errors"
)

// Symbol represents a tradeable instrument of the simulated market.
// Symbols are immutable configuration loaded at process start.
type Symbol struct {
	Name          string  `json:"name" yaml:"name"`
	BasePrice     float64 `json:"base_price" yaml:"base_price"`
	TickSize      float64 `json:"tick_size" yaml:"tick_size"`           // minimum price movement
	Volatility    float64 `json:"volatility" yaml:"volatility"`         // stddev of per-tick relative return
	MaxStepTicks  int     `json:"max_step_ticks" yaml:"max_step_ticks"` // largest move per tick, in ticks
	MeanReversion float64 `json:"mean_reversion" yaml:"mean_reversion"` // pull toward BasePrice, 0 disables
	Digits        int     `json:"digits" yaml:"digits"`                 // price precision; derived from TickSize when 0
}

// MaxStep returns the largest allowed absolute price move between two ticks.
func (s Symbol) MaxStep() float64 {
	return float64(s.MaxStepTicks) * s.TickSize
}

// maxTickDecimals bounds the precision a tick size may need.
const maxTickDecimals = 10

// TickDecimals returns the number of decimals that represent TickSize
// exactly (2 for 0.25, 4 for 0.0001). ok is false when TickSize needs more
// than maxTickDecimals.
func (s Symbol) TickDecimals() (d int, ok bool) {
	if s.TickSize <= 0 {
		return 0, false
	}
	for d = 0; d <= maxTickDecimals; d++ {
		scaled := s.TickSize * math.Pow10(d)
		if math.Abs(scaled-math.Round(scaled)) < 1e-9*math.Max(1, scaled) {
			return d, true
		}
	}
	return maxTickDecimals, false
}

// Precision returns the number of decimals prices are rounded to.
func (s Symbol) Precision() int {
	if s.Digits > 0 {
		return s.Digits
	}
	d, _ := s.TickDecimals()
	return d
}

// Round rounds p to the symbol's precision.
func (s Symbol) Round(p float64) float64 {
	pow := math.Pow10(s.Precision())
	return math.Round(p*pow) / pow
}

// Validate checks the symbol's price model parameters.
func (s Symbol) Validate() error {
	switch {
	case s.Name == "":
		return errors.Wrap(ErrValidation, "symbol name is empty")
	case s.TickSize <= 0:
		return errors.Wrapf(ErrValidation, "symbol %s: tick_size must be positive", s.Name)
	case s.Digits < 0:
		return errors.Wrapf(ErrValidation, "symbol %s: digits must not be negative", s.Name)
	}
	d, ok := s.TickDecimals()
	if !ok {
		return errors.Wrapf(ErrValidation, "symbol %s: tick_size %g needs more than %d decimals", s.Name, s.TickSize, maxTickDecimals)
	}
	if s.Digits > 0 && s.Digits < d {
		return errors.Wrapf(ErrValidation, "symbol %s: digits %d cannot represent tick_size %g", s.Name, s.Digits, s.TickSize)
	}
	switch {
	case s.BasePrice < s.TickSize:
		return errors.Wrapf(ErrValidation, "symbol %s: base_price must be at least one tick", s.Name)
	case s.Volatility < 0:
		return errors.Wrapf(ErrValidation, "symbol %s: volatility must not be negative", s.Name)
	case s.MaxStepTicks < 1:
		return errors.Wrapf(ErrValidation, "symbol %s: max_step_ticks must be at least 1", s.Name)
	case s.MeanReversion < 0 || s.MeanReversion >= 1:
		return errors.Wrapf(ErrValidation, "symbol %s: mean_reversion must be in [0,1)", s.Name)
	}
	return nil
}
