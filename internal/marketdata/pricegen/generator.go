// Package pricegen produces synthetic price ticks per symbol.
//
// A symbol generates ticks only while it is acquired by at least one
// consumer. Each active symbol runs its own ticker goroutine and publishes
// every tick synchronously to the Sink before the next tick fires. Restarting
// a feed continues from the last generated price.
package pricegen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

// Sink receives every generated tick.
type Sink interface {
	Publish(tick model.Tick)
}

// Config holds generator settings.
type Config struct {
	TickInterval time.Duration
	Seed         int64 // 0 seeds from the clock
	Model        Model // nil uses RandomWalk
}

// feed holds per-symbol simulation state.
type feed struct {
	sym model.Symbol

	// tickMu serialises Advance for the symbol; rng is guarded by it.
	tickMu sync.Mutex
	rng    *rand.Rand

	priceMu sync.RWMutex
	price   float64
	lastTS  time.Time

	// guarded by Generator.mu
	refs int
	stop chan struct{}
}

func (f *feed) current() (float64, time.Time) {
	f.priceMu.RLock()
	defer f.priceMu.RUnlock()
	return f.price, f.lastTS
}

// Generator owns the feeds of all configured symbols.
type Generator struct {
	mu     sync.Mutex
	feeds  map[string]*feed
	order  []string
	closed bool

	sink     Sink
	model    Model
	interval time.Duration
	log      *zap.Logger

	// Metrics hooks (optional, set externally)
	OnTick      func(symbol string)
	OnFeedState func(symbol string, active bool)
	OnPanic     func(symbol string)
}

// New creates a Generator for the given symbols. Symbols are validated;
// feeds start idle at their base price.
func New(cfg Config, symbols []model.Symbol, sink Sink, log *zap.Logger) (*Generator, error) {
	if cfg.TickInterval <= 0 {
		return nil, errors.Wrap(model.ErrValidation, "tick interval must be positive")
	}
	if sink == nil {
		return nil, errors.Wrap(model.ErrValidation, "tick sink is required")
	}
	m := cfg.Model
	if m == nil {
		m = RandomWalk{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Generator{
		feeds:    make(map[string]*feed, len(symbols)),
		sink:     sink,
		model:    m,
		interval: cfg.TickInterval,
		log:      log.Named("pricegen"),
	}
	for i, sym := range symbols {
		if err := sym.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.feeds[sym.Name]; dup {
			return nil, errors.Wrapf(model.ErrValidation, "duplicate symbol %s", sym.Name)
		}
		g.feeds[sym.Name] = &feed{
			sym:   sym,
			rng:   rand.New(rand.NewSource(seed + int64(i))),
			price: sym.Round(sym.BasePrice),
		}
		g.order = append(g.order, sym.Name)
	}
	return g, nil
}

// Symbols returns the configured symbols in configuration order.
func (g *Generator) Symbols() []model.Symbol {
	out := make([]model.Symbol, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.feeds[name].sym)
	}
	return out
}

// Symbol returns the configuration of one symbol.
func (g *Generator) Symbol(name string) (model.Symbol, bool) {
	f, ok := g.feeds[name]
	if !ok {
		return model.Symbol{}, false
	}
	return f.sym, true
}

// CurrentPrice returns the last generated price of symbol, whether or not
// its feed is active.
func (g *Generator) CurrentPrice(symbol string) (float64, error) {
	f, ok := g.feeds[symbol]
	if !ok {
		return 0, errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}
	p, _ := f.current()
	return p, nil
}

// Acquire registers interest in symbol. The first acquisition starts the
// feed; the returned release func drops the reference and stops the feed
// after the last release. release is idempotent and never blocks on the
// feed goroutine.
func (g *Generator) Acquire(symbol string) (release func(), err error) {
	f, ok := g.feeds[symbol]
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, errors.Wrap(model.ErrInternal, "price generator closed")
	}
	f.refs++
	started := false
	if f.refs == 1 {
		f.stop = make(chan struct{})
		go g.run(f, f.stop)
		started = true
	}
	g.mu.Unlock()

	if started {
		g.log.Info("feed started", zap.String("symbol", symbol))
		if g.OnFeedState != nil {
			g.OnFeedState(symbol, true)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(f) })
	}, nil
}

func (g *Generator) release(f *feed) {
	g.mu.Lock()
	f.refs--
	stopped := false
	if f.refs == 0 && f.stop != nil {
		close(f.stop)
		f.stop = nil
		stopped = true
	}
	g.mu.Unlock()

	if stopped {
		g.log.Info("feed stopped", zap.String("symbol", f.sym.Name))
		if g.OnFeedState != nil {
			g.OnFeedState(f.sym.Name, false)
		}
	}
}

// Active reports whether symbol currently has at least one acquirer.
func (g *Generator) Active(symbol string) bool {
	f, ok := g.feeds[symbol]
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return f.refs > 0
}

// Advance generates one tick for symbol at the given time and publishes it.
// It is the only write path for the current price.
func (g *Generator) Advance(symbol string, at time.Time) (model.Tick, error) {
	f, ok := g.feeds[symbol]
	if !ok {
		return model.Tick{}, errors.Wrapf(model.ErrNotFound, "symbol %s", symbol)
	}

	f.tickMu.Lock()
	defer f.tickMu.Unlock()

	prev, lastTS := f.current()
	next := constrain(f.sym, prev, g.model.Next(f.sym, prev, f.rng))
	at = at.UTC()
	if at.Before(lastTS) {
		at = lastTS
	}

	f.priceMu.Lock()
	f.price = next
	f.lastTS = at
	f.priceMu.Unlock()

	tick := model.Tick{Symbol: symbol, Price: next, TS: at}
	g.publish(tick)
	return tick, nil
}

// publish hands the tick to the sink. A panic is contained to this tick.
func (g *Generator) publish(tick model.Tick) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("tick processing panicked",
				zap.String("symbol", tick.Symbol), zap.Any("panic", r))
			if g.OnPanic != nil {
				g.OnPanic(tick.Symbol)
			}
		}
	}()
	g.sink.Publish(tick)
	if g.OnTick != nil {
		g.OnTick(tick.Symbol)
	}
}

// run drives one activation of a feed until stop is closed.
func (g *Generator) run(f *feed, stop <-chan struct{}) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if _, err := g.Advance(f.sym.Name, now); err != nil {
				g.log.Error("advance failed", zap.String("symbol", f.sym.Name), zap.Error(err))
			}
		}
	}
}

// Close stops every running feed. Further Acquire calls fail.
func (g *Generator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, f := range g.feeds {
		if f.stop != nil {
			close(f.stop)
			f.stop = nil
		}
	}
}
