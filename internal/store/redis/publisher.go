package redis

import (
	"context"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/store/breaker"
)

const (
	defaultPublishBuffer = 4096
	publishBatch         = 128
	candleStreamMaxLen   = 2000
)

// Key layout.
func LatestPriceKey(symbol string) string { return "price:latest:" + symbol }
func PriceChannel(symbol string) string   { return "pub:price:" + symbol }
func CandleStreamKey(c model.Candle) string {
	return "candle:" + c.Granularity.String() + ":" + c.Symbol
}
func CandleChannel(c model.Candle) string {
	return "pub:candle:" + c.Granularity.String() + ":" + c.Symbol
}

type event struct {
	tick   *model.Tick
	candle *model.Candle
}

// Publisher mirrors live prices and frozen candles to Redis for external
// readers. Enqueueing never blocks the tick path: events beyond the buffer
// are dropped, and batches are dropped while the breaker is open.
type Publisher struct {
	client goredis.Cmdable
	cb     *breaker.Breaker
	events chan event
	log    *zap.Logger

	// Metrics hooks (optional, set externally)
	OnDrop      func()
	OnPublished func(n int)
}

// NewPublisher creates a Publisher; bufSize <= 0 uses 4096.
func NewPublisher(client goredis.Cmdable, cb *breaker.Breaker, bufSize int, log *zap.Logger) *Publisher {
	if bufSize <= 0 {
		bufSize = defaultPublishBuffer
	}
	return &Publisher{
		client: client,
		cb:     cb,
		events: make(chan event, bufSize),
		log:    log.Named("redis-pub"),
	}
}

// OnTick enqueues a price update.
func (p *Publisher) OnTick(t model.Tick) {
	p.enqueue(event{tick: &t})
}

// OnCandle enqueues a frozen candle.
func (p *Publisher) OnCandle(c model.Candle) {
	p.enqueue(event{candle: &c})
}

func (p *Publisher) enqueue(e event) {
	select {
	case p.events <- e:
	default:
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
}

// Pending returns the number of queued events.
func (p *Publisher) Pending() int { return len(p.events) }

// Run drains the queue in pipelined batches until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	batch := make([]event, 0, publishBatch)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.events:
			batch = append(batch[:0], e)
		fill:
			for len(batch) < publishBatch {
				select {
				case e := <-p.events:
					batch = append(batch, e)
				default:
					break fill
				}
			}
			p.flush(ctx, batch)
		}
	}
}

func (p *Publisher) flush(ctx context.Context, batch []event) {
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		for _, e := range batch {
			switch {
			case e.tick != nil:
				data, err := sonic.MarshalString(e.tick)
				if err != nil {
					continue
				}
				pipe.Set(ctx, LatestPriceKey(e.tick.Symbol), data, 0)
				pipe.Publish(ctx, PriceChannel(e.tick.Symbol), data)
			case e.candle != nil:
				data, err := sonic.MarshalString(e.candle)
				if err != nil {
					continue
				}
				pipe.XAdd(ctx, &goredis.XAddArgs{
					Stream: CandleStreamKey(*e.candle),
					MaxLen: candleStreamMaxLen,
					Approx: true,
					Values: map[string]interface{}{"data": data},
				})
				pipe.Publish(ctx, CandleChannel(*e.candle), data)
			}
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if p.OnDrop != nil {
			for range batch {
				p.OnDrop()
			}
		}
		if err != breaker.ErrOpen {
			p.log.Warn("publish batch failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		return
	}
	if p.OnPublished != nil {
		p.OnPublished(len(batch))
	}
}
