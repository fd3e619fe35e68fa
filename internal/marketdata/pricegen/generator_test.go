package pricegen

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (s *recordingSink) Publish(t model.Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, t)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tick(nil), s.ticks...)
}

type scripted struct{ prices []float64 }

func (m *scripted) Next(_ model.Symbol, prev float64, _ *rand.Rand) float64 {
	if len(m.prices) == 0 {
		return prev
	}
	p := m.prices[0]
	m.prices = m.prices[1:]
	return p
}

var eurusd = model.Symbol{
	Name: "EURUSD", BasePrice: 1.1, TickSize: 0.0001, Volatility: 0.0005, MaxStepTicks: 5, Digits: 5,
}

func newGen(t *testing.T, cfg Config, sink Sink, symbols ...model.Symbol) *Generator {
	t.Helper()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	g, err := New(cfg, symbols, sink, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestAdvance_BoundedAndPositive(t *testing.T) {
	cases := []model.Symbol{
		eurusd,
		// Wild volatility near the price floor exercises both clamps.
		{Name: "PENNY", BasePrice: 0.0005, TickSize: 0.0001, Volatility: 2, MaxStepTicks: 3, Digits: 4},
		{Name: "BTCUSD", BasePrice: 60000, TickSize: 0.5, Volatility: 0.01, MaxStepTicks: 200, MeanReversion: 0.01},
	}
	for _, sym := range cases {
		t.Run(sym.Name, func(t *testing.T) {
			sink := &recordingSink{}
			g := newGen(t, Config{}, sink, sym)

			prev, err := g.CurrentPrice(sym.Name)
			require.NoError(t, err)
			at := time.Unix(1_700_000_000, 0)
			for i := 0; i < 10_000; i++ {
				tick, err := g.Advance(sym.Name, at.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				assert.LessOrEqual(t, math.Abs(tick.Price-prev), sym.MaxStep()+1e-9, "tick %d", i)
				assert.Greater(t, tick.Price, 0.0, "tick %d", i)
				prev = tick.Price
			}
			assert.Len(t, sink.snapshot(), 10_000)
		})
	}
}

func TestAdvance_ClampsScriptedJumps(t *testing.T) {
	sink := &recordingSink{}
	m := &scripted{prices: []float64{1.2, 0.9, -5}}
	g := newGen(t, Config{Model: m}, sink, eurusd)

	at := time.Now()
	tick, err := g.Advance("EURUSD", at)
	require.NoError(t, err)
	assert.InDelta(t, 1.1005, tick.Price, 1e-9)

	tick, err = g.Advance("EURUSD", at)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, tick.Price, 1e-9)

	tick, err = g.Advance("EURUSD", at)
	require.NoError(t, err)
	assert.InDelta(t, 1.0995, tick.Price, 1e-9)
}

func TestAdvance_StaysOnQuarterTickGrid(t *testing.T) {
	es := model.Symbol{Name: "ES", BasePrice: 5000, TickSize: 0.25, Volatility: 0.001, MaxStepTicks: 1}
	g := newGen(t, Config{}, &recordingSink{}, es)

	prev, err := g.CurrentPrice("ES")
	require.NoError(t, err)
	at := time.Unix(1_700_000_000, 0)
	for i := 0; i < 2_000; i++ {
		tick, err := g.Advance("ES", at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		step := math.Abs(tick.Price - prev)
		assert.LessOrEqual(t, step, es.MaxStep()+1e-9, "tick %d: %v -> %v", i, prev, tick.Price)
		quarters := tick.Price / es.TickSize
		assert.InDelta(t, math.Round(quarters), quarters, 1e-6, "tick %d off grid: %v", i, tick.Price)
		prev = tick.Price
	}
}

func TestAdvance_SnapsScriptedJumpsToTicks(t *testing.T) {
	es := model.Symbol{Name: "ES", BasePrice: 5000, TickSize: 0.25, MaxStepTicks: 2}
	m := &scripted{prices: []float64{5000.3, 5009, 4990}}
	g := newGen(t, Config{Model: m}, &recordingSink{}, es)

	want := []float64{5000.25, 5000.75, 5000.25}
	for i, w := range want {
		tick, err := g.Advance("ES", time.Now())
		require.NoError(t, err)
		assert.InDelta(t, w, tick.Price, 1e-9, "step %d", i)
	}
}

func TestUnknownSymbol(t *testing.T) {
	g := newGen(t, Config{}, &recordingSink{}, eurusd)

	_, err := g.CurrentPrice("XAUUSD")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = g.Acquire("XAUUSD")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = g.Advance("XAUUSD", time.Now())
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestNew_RejectsInvalidSymbols(t *testing.T) {
	_, err := New(Config{TickInterval: time.Second}, []model.Symbol{{Name: "BAD", BasePrice: 1}}, &recordingSink{}, zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = New(Config{TickInterval: time.Second}, []model.Symbol{eurusd, eurusd}, &recordingSink{}, zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestAcquire_StartsAndStopsFeed(t *testing.T) {
	sink := &recordingSink{}
	g := newGen(t, Config{TickInterval: 5 * time.Millisecond}, sink, eurusd)

	assert.False(t, g.Active("EURUSD"))
	release, err := g.Acquire("EURUSD")
	require.NoError(t, err)
	assert.True(t, g.Active("EURUSD"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	release()
	release()
	assert.False(t, g.Active("EURUSD"))

	// Let an in-flight tick finish, then the count must stay put.
	time.Sleep(30 * time.Millisecond)
	settled := len(sink.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, len(sink.snapshot()))

	last, err := g.CurrentPrice("EURUSD")
	require.NoError(t, err)

	release, err = g.Acquire("EURUSD")
	require.NoError(t, err)
	defer release()
	require.Eventually(t, func() bool { return len(sink.snapshot()) > settled }, 2*time.Second, 5*time.Millisecond)

	resumed := sink.snapshot()[settled]
	assert.LessOrEqual(t, math.Abs(resumed.Price-last), eurusd.MaxStep()+1e-9,
		"restart must continue from the last price")
}

func TestAcquire_ReferenceCounted(t *testing.T) {
	g := newGen(t, Config{}, &recordingSink{}, eurusd)

	r1, err := g.Acquire("EURUSD")
	require.NoError(t, err)
	r2, err := g.Acquire("EURUSD")
	require.NoError(t, err)

	r1()
	r1()
	assert.True(t, g.Active("EURUSD"), "second holder keeps the feed alive")

	r2()
	assert.False(t, g.Active("EURUSD"))
}

type panicSink struct{}

func (panicSink) Publish(model.Tick) { panic("consumer fault") }

func TestAdvance_PanicContained(t *testing.T) {
	g := newGen(t, Config{}, panicSink{}, eurusd)
	var panicked []string
	g.OnPanic = func(s string) { panicked = append(panicked, s) }

	_, err := g.Advance("EURUSD", time.Now())
	require.NoError(t, err)
	_, err = g.Advance("EURUSD", time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"EURUSD", "EURUSD"}, panicked)
}

func TestClose_RejectsAcquire(t *testing.T) {
	g := newGen(t, Config{}, &recordingSink{}, eurusd)
	g.Close()

	_, err := g.Acquire("EURUSD")
	assert.True(t, errors.Is(err, model.ErrInternal))
}
