package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

// Handler consumes one tick. It runs on the tick goroutine of the symbol.
type Handler func(model.Tick)

type consumer struct {
	name string
	fn   Handler
}

// Dispatcher delivers every tick to its consumers synchronously, in
// registration order, before the generator produces the next tick.
// A panicking consumer is recovered and logged; the remaining consumers
// still receive the tick.
type Dispatcher struct {
	mu        sync.RWMutex
	consumers []consumer
	log       *zap.Logger

	// Metrics hooks (optional, set externally)
	OnPanic    func(consumer string)
	OnDispatch func(elapsed time.Duration)
}

// New creates an empty Dispatcher.
func New(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("bus")}
}

// Subscribe appends a consumer. Consumers registered first run first.
func (d *Dispatcher) Subscribe(name string, fn Handler) {
	d.mu.Lock()
	d.consumers = append(d.consumers, consumer{name: name, fn: fn})
	d.mu.Unlock()
}

// Consumers returns the registered consumer names in dispatch order.
func (d *Dispatcher) Consumers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.consumers))
	for i, c := range d.consumers {
		names[i] = c.name
	}
	return names
}

// Publish delivers tick to every consumer.
func (d *Dispatcher) Publish(tick model.Tick) {
	start := time.Now()

	d.mu.RLock()
	consumers := d.consumers
	d.mu.RUnlock()

	for _, c := range consumers {
		d.deliver(c, tick)
	}

	if d.OnDispatch != nil {
		d.OnDispatch(time.Since(start))
	}
}

func (d *Dispatcher) deliver(c consumer, tick model.Tick) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("consumer panicked",
				zap.String("consumer", c.name),
				zap.String("symbol", tick.Symbol),
				zap.Any("panic", r))
			if d.OnPanic != nil {
				d.OnPanic(c.name)
			}
		}
	}()
	c.fn(tick)
}
