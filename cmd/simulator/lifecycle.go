package main

import (
	"context"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trading-simulator/config"
	"trading-simulator/internal/api"
	"trading-simulator/internal/gateway"
	"trading-simulator/internal/marketdata/bus"
	"trading-simulator/internal/marketdata/candles"
	"trading-simulator/internal/marketdata/pricegen"
	"trading-simulator/internal/metrics"
	"trading-simulator/internal/model"
	"trading-simulator/internal/store"
	"trading-simulator/internal/store/redis"
	"trading-simulator/internal/trading"
)

// tickConsumers are the dispatcher's subscribers, in delivery order.
type tickConsumers struct {
	fx.In

	Config      *config.Config
	Dispatcher  *bus.Dispatcher
	Aggregator  *candles.Aggregator
	Broadcaster *gateway.Broadcaster
	Engine      *trading.Engine
	Health      *metrics.HealthStatus
	Redis       *goredis.Client
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	Lifecycle   fx.Lifecycle
}

// wireTickConsumers registers every tick consumer: candles first so a
// price-update never precedes its candle, then subscribers, then stop and
// target checks, then the Redis publisher.
func wireTickConsumers(p tickConsumers) {
	d := p.Dispatcher
	d.Subscribe("candles", p.Aggregator.OnTick)
	d.Subscribe("broadcaster", p.Broadcaster.OnTick)
	d.Subscribe("monitor", p.Engine.OnTick)

	onFrozen := []func(model.Candle){
		func(c model.Candle) { p.Metrics.CandlesFrozen.WithLabelValues(c.Granularity.String()).Inc() },
		p.Broadcaster.OnCandle,
	}

	if p.Redis != nil {
		pub := redis.NewPublisher(p.Redis, newBreaker("redis", p.Config.Breaker, p.Metrics), p.Config.Redis.PublishBuffer, p.Log)
		pub.OnDrop = func() { p.Metrics.RedisDropped.Inc() }
		pub.OnPublished = func(n int) { p.Metrics.RedisPublished.Add(float64(n)) }
		d.Subscribe("redis", pub.OnTick)
		onFrozen = append(onFrozen, pub.OnCandle)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					pub.Run(ctx)
				}()
				return nil
			},
			OnStop: func(stop context.Context) error {
				cancel()
				select {
				case <-done:
				case <-stop.Done():
				}
				return nil
			},
		})
	}

	d.Subscribe("health", func(t model.Tick) { p.Health.SetLastTickTime(t.TS) })

	p.Aggregator.OnFrozen = func(c model.Candle) {
		for _, fn := range onFrozen {
			fn(c)
		}
	}
	p.Log.Info("tick consumers wired", zap.Strings("order", d.Consumers()))
}

type runtimeDeps struct {
	fx.In

	Config        *config.Config
	Generator     *pricegen.Generator
	Broadcaster   *gateway.Broadcaster
	Engine        *trading.Engine
	Retry         *store.RetryQueue
	Health        *metrics.HealthStatus
	APIServer     *api.Server
	MetricsServer *metrics.Server
	Log           *zap.Logger
}

// runLifecycle starts the background workers and servers and stops them
// in reverse order.
func runLifecycle(lc fx.Lifecycle, p runtimeDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	retryDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(start context.Context) error {
			go func() {
				defer close(retryDone)
				p.Retry.Run(ctx)
			}()
			p.Health.StartLivenessChecker(ctx, p.Config.HealthInterval)

			if _, err := p.Engine.Resume(start); err != nil {
				return err
			}
			p.MetricsServer.Start()
			p.APIServer.Start()
			p.Log.Info("simulator started",
				zap.String("http", p.Config.HTTPAddr), zap.String("metrics", p.Config.MetricsAddr))
			return nil
		},
		OnStop: func(stop context.Context) error {
			p.Log.Info("stopping simulator")
			if err := p.APIServer.Stop(stop); err != nil {
				p.Log.Warn("http shutdown", zap.Error(err))
			}
			p.Broadcaster.Close()
			p.Engine.Close()
			p.Generator.Close()

			cancel()
			select {
			case <-retryDone:
			case <-stop.Done():
				p.Log.Warn("retry queue did not drain before shutdown deadline")
			}
			if err := p.MetricsServer.Stop(stop); err != nil {
				p.Log.Warn("metrics shutdown", zap.Error(err))
			}
			_ = p.Log.Sync()
			return nil
		},
	})
}
