// Package cache provides the per-audit key/value cache plugins reach through
// the CACHE_* RPC calls.
//
// Entries are scoped by audit name so that removing an audit can evict
// everything it cached in one call.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores JSON values per audit.
type Cache interface {
	// Get returns the raw JSON value and whether it was present.
	Get(ctx context.Context, audit, key string) (json.RawMessage, bool, error)
	// Set stores value as JSON. A zero ttl never expires.
	Set(ctx context.Context, audit, key string, value any, ttl time.Duration) error
	Check(ctx context.Context, audit, key string) (bool, error)
	Remove(ctx context.Context, audit, key string) error
	// Clean evicts every entry of the audit.
	Clean(ctx context.Context, audit string) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Redis   RedisConfig
}

// New builds the configured backend. An empty backend means memory.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func encodeValue(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	return raw, nil
}
