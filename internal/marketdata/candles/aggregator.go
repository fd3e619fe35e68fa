// Package candles aggregates ticks into OHLC candles at several
// granularities at once. Each (symbol, granularity) series keeps one live
// candle and a bounded history of frozen candles.
package candles

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/ringbuf"
)

// Config holds aggregator settings.
type Config struct {
	Granularities []model.Granularity
	History       int // frozen candles kept per series
}

// series holds the candles of one (symbol, granularity) pair.
type series struct {
	gran    model.Granularity
	live    model.Candle
	hasLive bool
	frozen  *ringbuf.Ring[model.Candle]
}

// symbolState is written only by the tick path of its symbol; readers
// take the read lock.
type symbolState struct {
	mu     sync.RWMutex
	series []*series
}

// Aggregator builds candles for every configured symbol and granularity.
type Aggregator struct {
	grans   []model.Granularity
	symbols map[string]*symbolState // fixed at construction
	log     *zap.Logger

	// Metrics hooks (optional, set externally)
	OnDroppedTick func(symbol string)
	OnFrozen      func(c model.Candle)
}

// New creates an Aggregator for the given symbol names.
func New(cfg Config, symbols []string, log *zap.Logger) (*Aggregator, error) {
	if len(cfg.Granularities) == 0 {
		return nil, errors.Wrap(model.ErrValidation, "at least one granularity is required")
	}
	if cfg.History < 1 {
		return nil, errors.Wrap(model.ErrValidation, "candle history must be at least 1")
	}
	seen := make(map[model.Granularity]bool, len(cfg.Granularities))
	for _, g := range cfg.Granularities {
		if g.Duration().Milliseconds() <= 0 {
			return nil, errors.Wrapf(model.ErrValidation, "granularity %s too small", g)
		}
		if seen[g] {
			return nil, errors.Wrapf(model.ErrValidation, "duplicate granularity %s", g)
		}
		seen[g] = true
	}

	a := &Aggregator{
		grans:   append([]model.Granularity(nil), cfg.Granularities...),
		symbols: make(map[string]*symbolState, len(symbols)),
		log:     log.Named("candles"),
	}
	for _, name := range symbols {
		st := &symbolState{series: make([]*series, len(a.grans))}
		for i, g := range a.grans {
			st.series[i] = &series{gran: g, frozen: ringbuf.New[model.Candle](cfg.History)}
		}
		a.symbols[name] = st
	}
	return a, nil
}

// Granularities returns the configured granularities.
func (a *Aggregator) Granularities() []model.Granularity {
	return append([]model.Granularity(nil), a.grans...)
}

// OnTick folds one tick into the live candle of every granularity.
func (a *Aggregator) OnTick(tick model.Tick) {
	st, ok := a.symbols[tick.Symbol]
	if !ok {
		a.log.Warn("tick for unknown symbol", zap.String("symbol", tick.Symbol))
		return
	}

	var frozen []model.Candle
	late := false

	st.mu.Lock()
	for _, s := range st.series {
		bucket := s.gran.Bucket(tick.TS)

		if s.hasLive && bucket.Before(s.live.OpenTime) {
			// Late tick for an older bucket, drop it
			late = true
			continue
		}

		if s.hasLive && bucket.After(s.live.OpenTime) {
			// New bucket, freeze the live candle first
			done := s.live
			done.Final = true
			s.frozen.Push(done)
			frozen = append(frozen, done)
			s.hasLive = false
		}

		if !s.hasLive {
			s.live = model.Candle{
				Symbol:      tick.Symbol,
				Granularity: s.gran,
				OpenTime:    bucket,
				Open:        tick.Price,
				High:        tick.Price,
				Low:         tick.Price,
				Close:       tick.Price,
				Volume:      1,
			}
			s.hasLive = true
			continue
		}

		// Same bucket, update OHLC
		c := &s.live
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume++
	}
	st.mu.Unlock()

	if late && a.OnDroppedTick != nil {
		a.OnDroppedTick(tick.Symbol)
	}
	if a.OnFrozen != nil {
		for _, c := range frozen {
			a.OnFrozen(c)
		}
	}
}

// GetCandles returns up to count of the most recent frozen candles followed
// by the live candle, oldest first. The last entry is provisional
// (Final=false). A symbol without ticks yields an empty slice.
func (a *Aggregator) GetCandles(symbol string, g model.Granularity, count int) ([]model.Candle, error) {
	st, ok := a.symbols[symbol]
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}
	if count <= 0 {
		return nil, errors.Wrapf(model.ErrValidation, "count must be positive, got %d", count)
	}
	idx := a.indexOf(g)
	if idx < 0 {
		return nil, errors.Wrapf(model.ErrValidation, "unsupported granularity %s", g)
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	s := st.series[idx]
	out := s.frozen.Last(count)
	if out == nil {
		out = make([]model.Candle, 0, 1)
	}
	if s.hasLive {
		out = append(out, s.live)
	}
	return out, nil
}

func (a *Aggregator) indexOf(g model.Granularity) int {
	for i, have := range a.grans {
		if have == g {
			return i
		}
	}
	return -1
}
