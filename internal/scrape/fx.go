package scrape

import (
	"context"

	"github.com/smallbiznis/dealbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scrape",
	fx.Provide(func(cfg config.Config, log *zap.Logger) *HTTPFetcher {
		return NewHTTPFetcher(cfg.Scrape.FetchTimeout, log)
	}),
	fx.Provide(func(cfg config.Config, fetcher *HTTPFetcher, log *zap.Logger) *AdmissionQueue {
		return NewAdmissionQueue(fetcher, cfg.Scrape.Concurrency, cfg.Scrape.BatchDelay, log)
	}),
	fx.Provide(func(cfg config.Config, queue *AdmissionQueue, log *zap.Logger) Fetcher {
		var store productCache
		if cfg.Scrape.RedisAddr != "" {
			store = newRedisCache(cfg.Scrape.RedisAddr, log)
		} else {
			store = newMemoryCache()
		}
		return NewCachedFetcher(queue, store, cfg.Scrape.CacheTTL)
	}),
	fx.Invoke(runQueue),
)

func runQueue(lc fx.Lifecycle, queue *AdmissionQueue) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go queue.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
