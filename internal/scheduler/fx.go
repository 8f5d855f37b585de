package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewExpiryScheduler),
	fx.Provide(NewHTTPProbe),
	fx.Provide(NewShipmentDetector),
	fx.Invoke(runWorkers),
)

func runWorkers(lc fx.Lifecycle, expiry *ExpiryScheduler, detector *ShipmentDetector) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go expiry.RunForever(ctx)
			go detector.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
