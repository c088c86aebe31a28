package cache

import (
	"context"
	"time"
)

// Store is the durable tier of the result cache. Implementations keep
// (key, value, expires_at) rows and must ignore expired rows on read.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
