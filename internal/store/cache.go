package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache key prefixes
const (
	KeyWrappedAsset = "csp:wrapped"
	KeyRetainedMsg  = "csp:resume"
	KeyPairLock     = "csp:lock"
)

// How long retained message ids stay resumable. The underlying message
// never expires on chain; this only bounds cache growth.
const retainedMessageTTL = 7 * 24 * time.Hour

var ErrCacheMiss = fmt.Errorf("cache miss")

// Cache fronts Redis with an in-memory fallback. It caches confirmed
// wrapped-asset lookups, retains message ids for resumable runs, and
// provides the per-pair advisory lock.
type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// When Redis is unavailable, fall back to an in-memory store
	mem *memoryStore

	// In-memory lock table for when Redis is unavailable
	lockMu sync.Mutex
	locks  map[string]time.Time

	logger *zap.SugaredLogger
}

func NewCache(addr string, logger *zap.SugaredLogger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache", "error", err)
		}
		return &Cache{
			client: nil,
			mem:    newMemoryStore(),
			locks:  make(map[string]time.Time),
			logger: logger,
		}, nil
	}

	return &Cache{
		client: client,
		locks:  make(map[string]time.Time),
		logger: logger,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				return ErrCacheMiss
			}
			if c.logger != nil {
				c.logger.Errorw("Cache get error", "key", key, "error", err)
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		if err := json.Unmarshal([]byte(val), dest); err != nil {
			return fmt.Errorf("cache unmarshal error: %w", err)
		}
		return nil
	}

	data, err := c.mem.Get(ctx, key)
	if err != nil {
		if err == errNotFound {
			return ErrCacheMiss
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache set error", "key", key, "error", err)
			}
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.mem.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.mem.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// GetWrappedAsset returns a previously confirmed wrapped-asset mapping.
func (c *Cache) GetWrappedAsset(ctx context.Context, pairKey string, dest *bridge.WrappedAssetRef) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyWrappedAsset, pairKey), dest)
}

// SetWrappedAsset caches a confirmed wrapped-asset mapping. The mapping
// is permanent on chain, so a long TTL is safe.
func (c *Cache) SetWrappedAsset(ctx context.Context, pairKey string, value *bridge.WrappedAssetRef) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyWrappedAsset, pairKey), value, 24*time.Hour)
}

// RetainMessage implements bridge.MessageRetainer.
func (c *Cache) RetainMessage(ctx context.Context, pairKey string, id bridge.MessageID) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyRetainedMsg, pairKey), id, retainedMessageTTL)
}

// RetainedMessage returns the retained message id for pairKey, or nil.
func (c *Cache) RetainedMessage(ctx context.Context, pairKey string) (*bridge.MessageID, error) {
	var id bridge.MessageID
	err := c.Get(ctx, fmt.Sprintf("%s:%s", KeyRetainedMsg, pairKey), &id)
	if err == ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Acquire implements bridge.AdvisoryLocker with SETNX semantics.
func (c *Cache) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := fmt.Sprintf("%s:%s", KeyPairLock, key)

	if c.client != nil {
		ok, err := c.client.SetNX(ctx, lockKey, "1", ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("lock acquire error: %w", err)
		}
		if !ok {
			return nil, false, nil
		}
		release := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			c.client.Del(ctx, lockKey)
		}
		return release, true, nil
	}

	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if expiry, held := c.locks[lockKey]; held && time.Now().Before(expiry) {
		return nil, false, nil
	}
	c.locks[lockKey] = time.Now().Add(ttl)
	release := func() {
		c.lockMu.Lock()
		defer c.lockMu.Unlock()
		delete(c.locks, lockKey)
	}
	return release, true, nil
}

// IsInMemoryMode returns true if the cache is running in in-memory mode
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

// Close connection
func (c *Cache) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.mem != nil {
		if closeErr := c.mem.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
