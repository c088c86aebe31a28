package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
)

const (
	DefaultTTL             = 24 * time.Hour
	defaultJanitorInterval = 10 * time.Minute
)

// Service is the two-tier result cache: a bounded in-process map in front
// of an optional durable Store. Durable failures degrade to misses.
type Service struct {
	mem             *memoryTier
	store           Store
	ttl             time.Duration
	mode            FingerprintMode
	janitorInterval time.Duration
	logger          *slog.Logger
	counters        *metrics.Counters
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore attaches the durable tier.
func WithStore(s Store) Option { return func(c *Service) { c.store = s } }

// WithTTL sets the default entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Service) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxEntries caps the in-process tier.
func WithMaxEntries(n int) Option { return func(c *Service) { c.mem = newMemoryTier(n) } }

// WithFingerprintMode selects full or prefix hashing.
func WithFingerprintMode(m FingerprintMode) Option {
	return func(c *Service) {
		if m == FingerprintPrefix || m == FingerprintFull {
			c.mode = m
		}
	}
}

// WithJanitorInterval sets how often Run purges expired rows.
func WithJanitorInterval(d time.Duration) Option {
	return func(c *Service) {
		if d > 0 {
			c.janitorInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Service) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Counters) Option { return func(c *Service) { c.counters = m } }

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option { return func(c *Service) { c.now = now } }

// New constructs a cache service. Without WithStore only the in-process tier is used.
func New(opts ...Option) *Service {
	s := &Service{
		mem:             newMemoryTier(500),
		ttl:             DefaultTTL,
		mode:            FingerprintFull,
		janitorInterval: defaultJanitorInterval,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fingerprint hashes image with the configured mode.
func (s *Service) Fingerprint(image []byte) string { return Fingerprint(image, s.mode) }

// Get returns the raw value for key from the fast tier, then the durable tier.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	now := s.now()
	if v, ok := s.mem.get(key, now); ok {
		return v, true
	}
	if s.store == nil {
		return nil, false
	}
	v, ok, err := s.store.Get(ctx, key, now)
	if err != nil {
		s.durableFailed("get", key, err)
		return nil, false
	}
	return v, ok
}

// Put writes value to both tiers. ttl<=0 uses the default TTL.
func (s *Service) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	expiresAt := s.now().Add(ttl)
	s.mem.put(key, value, expiresAt)
	if s.store == nil {
		return
	}
	if err := s.store.Put(ctx, key, value, expiresAt); err != nil {
		s.durableFailed("put", key, err)
	}
}

// Invalidate removes key from both tiers.
func (s *Service) Invalidate(ctx context.Context, key string) {
	s.mem.delete(key)
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.durableFailed("invalidate", key, err)
	}
}

// InvalidateAll removes every key starting with prefix from both tiers.
func (s *Service) InvalidateAll(ctx context.Context, prefix string) {
	n := s.mem.deletePrefix(prefix)
	var durable int64
	if s.store != nil {
		var err error
		durable, err = s.store.DeletePrefix(ctx, prefix)
		if err != nil {
			s.durableFailed("invalidate_all", prefix, err)
		}
	}
	s.logger.Info("cache.invalidate_all", "prefix", prefix, "memory", n, "durable", durable)
}

// GetSingle looks up a single-event result by fingerprint.
func (s *Service) GetSingle(ctx context.Context, fp string) (*entity.ExtractionResult, bool) {
	var out entity.ExtractionResult
	ok := s.getJSON(ctx, SingleKey(fp), &out)
	s.record(ok)
	if !ok {
		return nil, false
	}
	return &out, true
}

// PutSingle stores a single-event result under its namespaced key.
func (s *Service) PutSingle(ctx context.Context, fp string, r *entity.ExtractionResult) {
	s.putJSON(ctx, SingleKey(fp), r)
}

// GetMulti looks up a multi-event result by fingerprint.
func (s *Service) GetMulti(ctx context.Context, fp string) (*entity.MultiEventResult, bool) {
	var out entity.MultiEventResult
	ok := s.getJSON(ctx, MultiKey(fp), &out)
	s.record(ok)
	if !ok {
		return nil, false
	}
	return &out, true
}

// Lookup tries the multi-event key, then the single-event key, and counts
// one hit or one miss for the pair. A single-event hit is wrapped.
func (s *Service) Lookup(ctx context.Context, fp string) (*entity.MultiEventResult, bool) {
	var multi entity.MultiEventResult
	if s.getJSON(ctx, MultiKey(fp), &multi) {
		s.record(true)
		return &multi, true
	}
	var single entity.ExtractionResult
	if s.getJSON(ctx, SingleKey(fp), &single) {
		s.record(true)
		return &entity.MultiEventResult{
			Success:     single.Success,
			Events:      []entity.ExtractionResult{single},
			ExtractedAt: single.ExtractedAt,
		}, true
	}
	s.record(false)
	return nil, false
}

// PutMulti stores a multi-event result under its namespaced key.
func (s *Service) PutMulti(ctx context.Context, fp string, r *entity.MultiEventResult) {
	s.putJSON(ctx, MultiKey(fp), r)
}

func (s *Service) getJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("cache.decode_failed", "key", key, "error", err)
		s.Invalidate(ctx, key)
		return false
	}
	return true
}

func (s *Service) record(hit bool) {
	if hit {
		s.counters.CacheHit()
	} else {
		s.counters.CacheMiss()
	}
}

func (s *Service) putJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache.encode_failed", "key", key, "error", err)
		return
	}
	s.Put(ctx, key, raw, 0)
}

// Run purges expired entries until ctx is done.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(s.janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.PurgeExpired(ctx)
		}
	}
}

// PurgeExpired removes expired entries from both tiers once.
func (s *Service) PurgeExpired(ctx context.Context) {
	now := s.now()
	n := s.mem.purgeExpired(now)
	var durable int64
	if s.store != nil {
		var err error
		durable, err = s.store.PurgeExpired(ctx, now)
		if err != nil {
			s.durableFailed("purge", "", err)
		}
	}
	if n > 0 || durable > 0 {
		s.logger.Debug("cache.janitor.purged", "memory", n, "durable", durable)
	}
}

// Ping reports durable tier health. A memory-only cache is always healthy.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Ping(ctx); err != nil {
		return errors.Join(common.ErrCacheUnavailable, err)
	}
	return nil
}

// Close releases the durable tier.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) durableFailed(op, key string, err error) {
	s.counters.CacheError()
	s.logger.Warn("cache.durable.unavailable", "op", op, "key", key, "error", errors.Join(common.ErrCacheUnavailable, err))
}
