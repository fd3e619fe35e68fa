// Command simulator runs the paper-trading simulator: the synthetic price
// feed, candle aggregation, the trade engine and its REST and WebSocket
// surfaces.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func options() fx.Option {
	return fx.Options(
		fx.Provide(
			loadConfig,
			newLogger,
			loadSymbols,
			newRegistry,
			newMetrics,
			newDispatcher,
			newGenerator,
			newAggregator,
			newBroadcaster,
			newAccountStore,
			newRedisClient,
			newAlerter,
			newRetryQueue,
			newEngine,
			newHealth,
			newAPIServer,
			newMetricsServer,
		),
		fx.Invoke(
			wireTickConsumers,
			runLifecycle,
		),
	)
}

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		options(),
	).Run()
}
