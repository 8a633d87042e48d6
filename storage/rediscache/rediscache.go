// Package rediscache wraps any entitlement.Store with a Redis read-through
// cache. Paywall guards read entitlements on every request, while the
// webhook pipeline writes them rarely; caching the read path keeps the
// primary store out of the request hot path. Merges always go to the inner
// store first and invalidate the cached entry, so the cache never serves a
// record the inner store has not accepted.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// Store decorates an entitlement.Store with a Redis cache.
type Store struct {
	inner  entitlement.Store
	client redis.UniversalClient
	config Config
	logger entitlement.Logger
}

// Config holds Redis cache configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "betledger:ent:")
	KeyPrefix string

	// TTL bounds staleness when an invalidation is lost (default: 5m)
	TTL time.Duration

	// Logger receives cache errors; cache failures never fail the request.
	Logger entitlement.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "betledger:ent:",
		TTL:       5 * time.Minute,
	}
}

// New creates a caching store around inner.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(inner entitlement.Store, client redis.UniversalClient, config Config) (*Store, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "betledger:ent:"
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}

	var logger entitlement.Logger = &entitlement.NoopLogger{}
	if config.Logger != nil {
		logger = config.Logger
	}

	return &Store{
		inner:  inner,
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// cachedRecord is the wire form of a cache entry. notFound entries are
// cached too, so a burst of guard checks for an unknown email does not
// hammer the inner store.
type cachedRecord struct {
	NotFound bool                `json:"notFound,omitempty"`
	Record   *entitlement.Record `json:"record,omitempty"`
}

func (s *Store) key(email string) string {
	return s.config.KeyPrefix + email
}

// GetByEmail implements entitlement.Store.
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Record, error) {
	key := s.key(email)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedRecord
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached.NotFound {
				return nil, entitlement.ErrRecordNotFound
			}
			if cached.Record != nil {
				rec := *cached.Record
				return &rec, nil
			}
		}
		// Unparseable entry: fall through to the inner store and rewrite it.
	} else if err != redis.Nil {
		s.logger.Warn("entitlement cache read failed",
			entitlement.Field{Key: "error", Value: err.Error()})
	}

	rec, err := s.inner.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.fill(ctx, key, &cachedRecord{Record: rec})
		return rec, nil
	case err == entitlement.ErrRecordNotFound:
		s.fill(ctx, key, &cachedRecord{NotFound: true})
		return nil, err
	default:
		return nil, err
	}
}

// Merge implements entitlement.Store. The inner merge is the source of
// truth; the cache entry is dropped afterwards so the next read refills it
// with the merged record.
func (s *Store) Merge(ctx context.Context, email string, snap *entitlement.Snapshot) error {
	if err := s.inner.Merge(ctx, email, snap); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil {
		// TTL bounds how long the stale entry can live.
		s.logger.Warn("entitlement cache invalidation failed",
			entitlement.Field{Key: "email", Value: email},
			entitlement.Field{Key: "error", Value: err.Error()})
	}

	return nil
}

// Ping implements entitlement.Store. Only the inner store decides health;
// a degraded cache is not an outage.
func (s *Store) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *Store) fill(ctx context.Context, key string, entry *cachedRecord) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.config.TTL).Err(); err != nil {
		s.logger.Warn("entitlement cache write failed",
			entitlement.Field{Key: "error", Value: err.Error()})
	}
}
