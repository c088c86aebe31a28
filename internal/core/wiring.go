package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/cache"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/geo"
	"github.com/joseph-ayodele/flyerscan/internal/llm/openai"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
)

// Pipeline bundles the orchestrator with the resources it owns.
type Pipeline struct {
	Orchestrator *Orchestrator
	Cache        *cache.Service
}

// NewPipeline builds the cache, vision client and location resolver from cfg.
// A durable cache tier that cannot be opened degrades to memory only.
func NewPipeline(ctx context.Context, cfg *common.Config, logger *slog.Logger, counters *metrics.Counters) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []cache.Option{
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMaxEntries(cfg.Cache.MemoryEntries),
		cache.WithFingerprintMode(cache.FingerprintMode(cfg.Cache.Fingerprint)),
		cache.WithJanitorInterval(cfg.Cache.JanitorInterval),
		cache.WithLogger(logger),
		cache.WithMetrics(counters),
	}
	if store := openStore(ctx, cfg, logger); store != nil {
		opts = append(opts, cache.WithStore(store))
	}
	cacheSvc := cache.New(opts...)

	vision := openai.NewClient(openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
		LenientOptional: cfg.LLM.LenientOptional,
	}, logger)

	var geocoder geo.Geocoder
	if cfg.Geo.MapboxToken != "" {
		geocoder = geo.NewMapboxGeocoder(geo.MapboxConfig{
			BaseURL: cfg.Geo.MapboxBaseURL,
			Token:   cfg.Geo.MapboxToken,
			Country: cfg.Geo.Country,
			Timeout: cfg.Geo.Timeout,
		}, logger)
	} else {
		logger.Warn("pipeline.geocoder.disabled", "reason", "MAPBOX_TOKEN not set")
	}
	var tz geo.TimezoneFinder
	if finder, err := geo.NewTZFFinder(); err != nil {
		logger.Warn("pipeline.timezone.disabled", "error", err)
	} else {
		tz = finder
	}

	return &Pipeline{
		Orchestrator: NewOrchestrator(logger, cacheSvc, vision, geo.NewResolver(geocoder, tz, logger)),
		Cache:        cacheSvc,
	}, nil
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) cache.Store {
	switch {
	case cfg.Cache.DSN != "":
		store, err := cache.OpenPostgres(ctx, cache.PostgresConfig{
			DSN:             cfg.Cache.DSN,
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
			Retry:           cfg.Retry,
		}, logger)
		if err != nil {
			logger.Warn("pipeline.cache.durable_unavailable", "backend", "postgres", "error", err)
			return nil
		}
		return store
	case cfg.Cache.SQLitePath != "":
		store, err := cache.OpenSQLite(cfg.Cache.SQLitePath)
		if err != nil {
			logger.Warn("pipeline.cache.durable_unavailable", "backend", "sqlite", "error", err)
			return nil
		}
		return store
	default:
		return nil
	}
}

// Close releases the durable cache tier.
func (p *Pipeline) Close() error {
	return p.Cache.Close()
}
