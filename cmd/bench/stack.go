package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/config"
	"github.com/IvanBrykalov/coord/limiter"
	pmet "github.com/IvanBrykalov/coord/metrics/prom"
	"github.com/IvanBrykalov/coord/monitor"
	"github.com/IvanBrykalov/coord/race"
	"github.com/IvanBrykalov/coord/ratelimit"
	"github.com/IvanBrykalov/coord/resolve"
	"github.com/IvanBrykalov/coord/retry"
	"github.com/IvanBrykalov/coord/source"
)

// stack is the process-wide set of primitives, built once from Config.
type stack struct {
	resolver *resolve.Resolver[source.Template]
	monitor  *monitor.Monitor
	cache    cache.Cache[string, source.Template] // nil when caching is off
	closers  []func() error
}

func buildStack(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *slog.Logger) (_ *stack, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := &stack{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	st.monitor = monitor.New(monitor.Options{
		MemoryThreshold: cfg.MemoryThreshold,
		Sink:            pmet.NewOperations(reg, "coord", nil),
		Logger:          logger,
	})
	inFlight := pmet.NewInFlight(reg, "coord", nil)

	if cfg.EnableCaching {
		st.cache = cache.New[string, source.Template](cache.Options[string, source.Template]{
			Capacity: cfg.CacheMaxSize,
			TTL:      cfg.CacheTTL,
			Shards:   cfg.CacheShards,
			Metrics:  pmet.NewCache(reg, "coord", "templates", nil),
			Logger:   logger,
		})
		st.closers = append(st.closers, st.cache.Close)
	}

	producers := []source.Producer{source.Builtin{}}
	if cfg.CatalogPath != "" {
		cat, err := source.OpenCatalog(ctx, cfg.CatalogPath, logger)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, cat.Close)
		producers = append(producers, cat)
	}
	if len(cfg.Repositories) > 0 {
		rl, err := ratelimit.New(ratelimit.Options{
			PerSecond: cfg.RateLimitRPS,
			Burst:     cfg.RateLimitBurst,
			Name:      "remote",
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		remote, err := source.NewRemote(source.RemoteOptions{
			Repositories: cfg.Repositories,
			MaxSessions:  cfg.PoolMaxResources,
			RateLimit:    rl,
			Download: retry.Policy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				If:          source.Transient,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() error { remote.Close(); return nil })
		producers = append(producers, remote)
	}

	races, err := limiter.New(limiter.Options{Capacity: cfg.MaxConcurrentRaces, Name: "race", Observer: inFlight, Logger: logger})
	if err != nil {
		return nil, err
	}
	rr, err := race.New(race.Options[string, source.Template]{Producers: producers, Limiter: races, Logger: logger})
	if err != nil {
		return nil, err
	}

	ops, err := limiter.New(limiter.Options{Capacity: cfg.MaxConcurrentOperations, Name: "resolve", Observer: inFlight, Logger: logger})
	if err != nil {
		return nil, err
	}
	st.resolver, err = resolve.New(resolve.Options[source.Template]{
		Source:    rr,
		Name:      "get_template",
		Namespace: "template",
		Cache:     st.cache,
		Limiter:   ops,
		Monitor:   st.monitor,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Close releases everything in reverse construction order.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
