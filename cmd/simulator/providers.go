package main

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trading-simulator/config"
	"trading-simulator/internal/api"
	"trading-simulator/internal/gateway"
	"trading-simulator/internal/logger"
	"trading-simulator/internal/marketdata/bus"
	"trading-simulator/internal/marketdata/candles"
	"trading-simulator/internal/marketdata/pricegen"
	"trading-simulator/internal/metrics"
	"trading-simulator/internal/model"
	"trading-simulator/internal/notification"
	"trading-simulator/internal/store"
	"trading-simulator/internal/store/breaker"
	"trading-simulator/internal/store/redis"
	"trading-simulator/internal/trading"
)

func loadConfig() (*config.Config, error) {
	return config.Load(config.Path())
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Service, cfg.LogLevel)
}

func loadSymbols(cfg *config.Config, log *zap.Logger) ([]model.Symbol, error) {
	symbols, err := config.LoadSymbols(cfg.SymbolsFile)
	if err != nil {
		return nil, err
	}
	log.Info("symbols loaded", zap.String("file", cfg.SymbolsFile), zap.Int("count", len(symbols)))
	return symbols, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.NewMetrics(reg)
}

func newDispatcher(log *zap.Logger, m *metrics.Metrics) *bus.Dispatcher {
	d := bus.New(log)
	d.OnPanic = func(consumer string) { m.ConsumerPanics.WithLabelValues(consumer).Inc() }
	d.OnDispatch = func(elapsed time.Duration) { m.DispatchDur.Observe(elapsed.Seconds()) }
	return d
}

func newGenerator(cfg *config.Config, symbols []model.Symbol, d *bus.Dispatcher, log *zap.Logger, m *metrics.Metrics) (*pricegen.Generator, error) {
	g, err := pricegen.New(pricegen.Config{
		TickInterval: cfg.Market.TickInterval,
		Seed:         cfg.Market.Seed,
	}, symbols, d, log)
	if err != nil {
		return nil, err
	}
	g.OnTick = func(symbol string) { m.TicksTotal.WithLabelValues(symbol).Inc() }
	g.OnFeedState = func(_ string, active bool) {
		if active {
			m.ActiveFeeds.Inc()
		} else {
			m.ActiveFeeds.Dec()
		}
	}
	g.OnPanic = func(symbol string) { m.GeneratorPanics.WithLabelValues(symbol).Inc() }
	return g, nil
}

func newAggregator(cfg *config.Config, symbols []model.Symbol, log *zap.Logger, m *metrics.Metrics) (*candles.Aggregator, error) {
	grans, err := cfg.Granularities()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	a, err := candles.New(candles.Config{Granularities: grans, History: cfg.Market.History}, names, log)
	if err != nil {
		return nil, err
	}
	a.OnDroppedTick = func(symbol string) { m.DroppedTicks.WithLabelValues(symbol).Inc() }
	return a, nil
}

func newBroadcaster(cfg *config.Config, g *pricegen.Generator, log *zap.Logger, m *metrics.Metrics) *gateway.Broadcaster {
	b := gateway.NewBroadcaster(g, cfg.Gateway.OutboxCapacity, log)
	b.OnDrop = func() { m.BroadcastDrops.Inc() }
	b.OnChannels = func(n int) { m.WSClients.Set(float64(n)) }
	return b
}

func newAccountStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (model.AccountStore, error) {
	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return st.Close() }})
	return st, nil
}

// newRedisClient returns nil when Redis is disabled.
func newRedisClient(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*goredis.Client, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled, stats are computed on every request")
		return nil, nil
	}
	rdb, err := redis.NewClient(cfg.Redis.Config, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rdb.Close() }})
	return rdb, nil
}

func newBreaker(name string, cfg config.BreakerConfig, m *metrics.Metrics) *breaker.Breaker {
	cb := breaker.New(cfg.MaxFailures, cfg.ResetTimeout)
	cb.OnStateChange = func(_, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
	return cb
}

func newAlerter(cfg *config.Config, log *zap.Logger) notification.Alerter {
	if cfg.Alerts.WebhookURL != "" {
		return notification.NewWebhookAlerter(cfg.Alerts.WebhookURL, log)
	}
	return notification.NewLogAlerter(log)
}

func newRetryQueue(cfg *config.Config, st model.AccountStore, alerter notification.Alerter, log *zap.Logger, m *metrics.Metrics) *store.RetryQueue {
	q := store.NewRetryQueue(st, newBreaker("store", cfg.Breaker, m), alerter, cfg.Retry, log)
	q.OnDepth = func(depth int) { m.RetryQueueDepth.Set(float64(depth)) }
	q.OnRetry = func(ok bool) { m.RetryAttempts.WithLabelValues(metrics.RetryResult(ok)).Inc() }
	return q
}

func newEngine(cfg *config.Config, g *pricegen.Generator, st model.AccountStore, rdb *goredis.Client,
	b *gateway.Broadcaster, q *store.RetryQueue, log *zap.Logger, m *metrics.Metrics) (*trading.Engine, error) {
	deps := trading.Deps{
		Prices:   g,
		Store:    st,
		Notifier: notification.NewMulti(notification.NewLogNotifier(log), b),
		Retry:    q,
	}
	if rdb != nil {
		deps.Cache = redis.NewStatsCache(rdb, cfg.Redis.StatsTTL)
	}
	e, err := trading.New(cfg.Trading, deps, log)
	if err != nil {
		return nil, err
	}
	e.OnOpened = func(symbol string) { m.TradesOpened.WithLabelValues(symbol).Inc() }
	e.OnClosed = func(reason model.CloseReason) { m.TradesClosed.WithLabelValues(string(reason)).Inc() }
	e.OnRejected = func(rule model.Rule) { m.RuleViolations.WithLabelValues(string(rule)).Inc() }
	e.OnPersistFailure = func(op string) { m.PersistFailures.WithLabelValues(op).Inc() }
	return e, nil
}

func newHealth(st model.AccountStore, rdb *goredis.Client, b *gateway.Broadcaster, log *zap.Logger) *metrics.HealthStatus {
	h := metrics.NewHealthStatus(log)
	h.AddProbe("store", st, true)
	if rdb != nil {
		h.AddProbe("redis", metrics.RedisPinger(rdb), false)
	}
	h.SetLatency(b.Latency.Percentiles)
	return h
}

func newAPIServer(cfg *config.Config, e *trading.Engine, g *pricegen.Generator, a *candles.Aggregator,
	b *gateway.Broadcaster, log *zap.Logger) *api.Server {
	ws := gateway.NewHandler(b, a, log)
	return api.NewServer(cfg.HTTPAddr, api.NewHandler(e, g, a, ws, log), log)
}

func newMetricsServer(cfg *config.Config, reg *prometheus.Registry, h *metrics.HealthStatus, log *zap.Logger) *metrics.Server {
	return metrics.NewServer(cfg.MetricsAddr, reg, h, log)
}
