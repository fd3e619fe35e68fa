// Package metrics exposes the simulator's Prometheus metrics and the
// /healthz liveness report.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simulator"

// Metrics holds all Prometheus metrics for the simulator.
type Metrics struct {
	// Market data
	TicksTotal      *prometheus.CounterVec // labels: symbol
	ActiveFeeds     prometheus.Gauge
	DispatchDur     prometheus.Histogram
	ConsumerPanics  *prometheus.CounterVec // labels: consumer
	GeneratorPanics *prometheus.CounterVec // labels: symbol
	CandlesFrozen   *prometheus.CounterVec // labels: granularity
	DroppedTicks    *prometheus.CounterVec // labels: symbol

	// Gateway
	BroadcastDrops prometheus.Counter
	WSClients      prometheus.Gauge

	// Trading
	TradesOpened    *prometheus.CounterVec // labels: symbol
	TradesClosed    *prometheus.CounterVec // labels: reason
	RuleViolations  *prometheus.CounterVec // labels: rule
	PersistFailures *prometheus.CounterVec // labels: op

	// Persistence
	RetryQueueDepth prometheus.Gauge
	RetryAttempts   *prometheus.CounterVec // labels: result=ok|error
	BreakerState    *prometheus.GaugeVec   // labels: breaker; 0=closed, 1=open, 2=half-open
	BreakerTrips    *prometheus.CounterVec // labels: breaker

	// Redis publisher
	RedisPublished prometheus.Counter
	RedisDropped   prometheus.Counter
}

// NewMetrics creates every metric and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks generated per symbol",
		}, []string{"symbol"}),
		ActiveFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_feeds",
			Help:      "Symbols currently generating ticks",
		}),
		DispatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_dispatch_duration_seconds",
			Help:      "Time to run every tick consumer for one tick",
			Buckets:   []float64{0.000001, 0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		ConsumerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_consumer_panics_total",
			Help:      "Panics recovered in tick consumers",
		}, []string{"consumer"}),
		GeneratorPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_panics_total",
			Help:      "Panics recovered in a symbol's tick loop",
		}, []string{"symbol"}),
		CandlesFrozen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_frozen_total",
			Help:      "Candles closed per granularity",
		}, []string{"granularity"}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candle_late_ticks_total",
			Help:      "Ticks dropped by the aggregator because their bucket had closed",
		}, []string{"symbol"}),

		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Messages evicted from full connection outboxes",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Open WebSocket connections",
		}),

		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Trades opened per symbol",
		}, []string{"symbol"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Trades closed per close reason",
		}, []string{"reason"}),
		RuleViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_violations_total",
			Help:      "Trade requests rejected per rule",
		}, []string{"rule"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Store writes that failed per operation",
		}, []string{"op"}),

		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Closes waiting to be persisted",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retried store writes by result",
		}, []string{"result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times a circuit breaker tripped open",
		}, []string{"breaker"}),

		RedisPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_published_total",
			Help:      "Price and candle events written to Redis",
		}),
		RedisDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_dropped_total",
			Help:      "Events dropped because the publisher buffer was full or Redis was down",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.ActiveFeeds,
		m.DispatchDur,
		m.ConsumerPanics,
		m.GeneratorPanics,
		m.CandlesFrozen,
		m.DroppedTicks,
		m.BroadcastDrops,
		m.WSClients,
		m.TradesOpened,
		m.TradesClosed,
		m.RuleViolations,
		m.PersistFailures,
		m.RetryQueueDepth,
		m.RetryAttempts,
		m.BreakerState,
		m.BreakerTrips,
		m.RedisPublished,
		m.RedisDropped,
	)

	return m
}

// RetryResult returns the label for a retry outcome.
func RetryResult(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
