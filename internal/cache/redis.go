package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// cleanBatch is the SCAN COUNT hint used by Clean.
const cleanBatch = 500

// Redis is a Cache shared across processes.
// Keys are laid out as <prefix>:<audit>:<key>.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "auditcore:cache"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}

	return &Redis{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (r *Redis) Get(ctx context.Context, audit, key string) (json.RawMessage, bool, error) {
	raw, err := r.client.Get(ctx, r.entryKey(audit, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get: %w", err)
	}
	return json.RawMessage(raw), true, nil
}

func (r *Redis) Set(ctx context.Context, audit, key string, value any, ttl time.Duration) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.entryKey(audit, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (r *Redis) Check(ctx context.Context, audit, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.entryKey(audit, key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis cache check: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Remove(ctx context.Context, audit, key string) error {
	if err := r.client.Del(ctx, r.entryKey(audit, key)).Err(); err != nil {
		return fmt.Errorf("redis cache remove: %w", err)
	}
	return nil
}

// Clean deletes every key of the audit using SCAN so the server is never
// blocked by a KEYS call.
func (r *Redis) Clean(ctx context.Context, audit string) error {
	pattern := r.auditPattern(audit)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, cleanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis cache clean %s: scan: %w", audit, err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis cache clean %s: unlink: %w", audit, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes Redis resources.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) entryKey(audit, key string) string {
	return r.prefix + ":" + audit + ":" + key
}

func (r *Redis) auditPattern(audit string) string {
	return r.prefix + ":" + escapeGlob(audit) + ":*"
}

// escapeGlob escapes SCAN MATCH metacharacters so an audit name matches literally.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
