package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/gate/redisquota"
	"github.com/fyrsmithlabs/copyd/internal/http"
	"github.com/fyrsmithlabs/copyd/internal/llm"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
	"github.com/fyrsmithlabs/copyd/internal/prompts"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/secrets"
)

// components holds everything the server needs and owns their lifetimes.
type components struct {
	store    *records.SQLiteStore
	redis    *redis.Client
	gate     *gate.Gate
	prompts  *prompts.Library
	contexts *brandctx.Aggregator
	pipeline *pipeline.Service
}

// build wires the store, gate, prompt library, provider, aggregator and
// pipeline. On error everything already opened is closed.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.store, err = records.NewSQLiteStore(cfg.Store.Path); err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Info("record store opened", zap.String("path", cfg.Store.Path))

	counter, err := c.counter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	quota, err := gate.NewQuotaChecker(counter, c.store, gate.TiersFromConfig(cfg.Quota.Tiers), gate.QuotaOptions{
		DefaultTier:  cfg.Quota.DefaultTier,
		PlanCacheTTL: cfg.Quota.PlanCacheTTL.Duration(),
		PlanCacheMax: cfg.Quota.PlanCacheMax,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating quota checker: %w", err)
	}
	burst := gate.NewBurstLimiter(
		gate.WithSweepInterval(cfg.Burst.SweepInterval.Duration()),
		gate.WithIdleTTL(max(cfg.Burst.Window.Duration(), 10*time.Minute)),
	)
	if c.gate, err = gate.New(burst, quota, logger); err != nil {
		return nil, fmt.Errorf("creating gate: %w", err)
	}
	c.gate.Start(ctx)

	if c.prompts, err = prompts.Load(cfg.Prompts.Path, logger); err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	if cfg.Prompts.Path != "" && cfg.Prompts.Watch {
		if err := c.prompts.Watch(ctx); err != nil {
			logger.Warn("prompt hot reload disabled", zap.Error(err))
		}
	}

	client, err := llm.New(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider.Name, err)
	}

	var scrubber secrets.Scrubber
	if cfg.Context.ScrubSecrets {
		sc := secrets.DefaultConfig()
		sc.Gitleaks = cfg.Context.GitleaksRules
		if scrubber, err = secrets.New(sc); err != nil {
			return nil, fmt.Errorf("creating scrubber: %w", err)
		}
	}
	c.contexts = brandctx.NewAggregator(c.store, scrubber, brandctx.Options{
		MaxChars:       cfg.Context.MaxChars,
		MaxSourceChars: cfg.Context.MaxSourceChars,
		MaxFieldChars:  cfg.Context.MaxFieldChars,
		MaxItems:       cfg.Context.MaxItems,
	}, logger)

	c.pipeline, err = pipeline.NewService(c.gate, c.contexts, client, c.prompts,
		pipeline.NewStoreSink(c.store),
		pipeline.Config{Burst: gate.BurstPolicy{
			MaxRequests: cfg.Burst.MaxRequests,
			Window:      cfg.Burst.Window.Duration(),
		}},
		logger)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return c, nil
}

// counter selects where monthly usage is counted.
func (c *components) counter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gate.Counter, error) {
	if cfg.Quota.Backend != config.QuotaBackendRedis {
		return c.store, nil
	}
	client, err := redisquota.Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	c.redis = client
	logger.Info("usage counted in redis", zap.String("addr", cfg.Redis.Addr))
	return redisquota.New(client, cfg.Redis.KeyPrefix, 0), nil
}

func (c *components) deps() http.Deps {
	return http.Deps{
		Pipeline: c.pipeline,
		Usage:    c.gate,
		Contexts: c.contexts,
		Records:  c.store,
	}
}

// Close stops background work and releases connections.
func (c *components) Close() {
	if c.gate != nil {
		c.gate.Stop()
	}
	if c.prompts != nil {
		c.prompts.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}
