package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// JSONCache stores JSON documents under versioned keys. Bumping a scope's
// version orphans every key built before it; the TTL reclaims them.
// A nil client turns the cache into a pass-through that still de-duplicates
// concurrent loads.
type JSONCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewJSON builds a cache whose keys live under prefix.
func NewJSON(client *redis.Client, prefix string, ttl time.Duration) *JSONCache {
	return &JSONCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *JSONCache) versionKey(scope string) string {
	return c.prefix + ":version:" + scope
}

// Channel is where version bumps are published.
func (c *JSONCache) Channel() string { return c.prefix + ":bump" }

// Version returns the scope's current version, initialising it when missing.
func (c *JSONCache) Version(ctx context.Context, scope string) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, c.versionKey(scope)).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, c.versionKey(scope), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, c.versionKey(scope)).Int64()
	}
	return ver, err
}

// Key composes a key for scope tagged with the scope's current version.
func (c *JSONCache) Key(ctx context.Context, scope string, parts ...string) (string, error) {
	ver, err := c.Version(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("platform/cache: version %s: %w", scope, err)
	}
	return fmt.Sprintf("%s:%s:%s:v%d", c.prefix, scope, strings.Join(parts, ":"), ver), nil
}

// Fetch decodes the value cached under key into dest, calling loader on a
// miss. Concurrent misses for one key share a single loader call.
func (c *JSONCache) Fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("platform/cache: loader required")
	}
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("platform/cache: get %s: %w", key, err)
		}
	}
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if c.client != nil {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				return nil, fmt.Errorf("platform/cache: set %s: %w", key, err)
			}
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates scope and publishes the new version.
func (c *JSONCache) Bump(ctx context.Context, scope string) error {
	if c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, c.versionKey(scope)).Result()
	if err != nil {
		return fmt.Errorf("platform/cache: bump %s: %w", scope, err)
	}
	return c.client.Publish(ctx, c.Channel(), scope+"="+strconv.FormatInt(ver, 10)).Err()
}

// Listen applies versions announced by other processes until ctx ends.
func (c *JSONCache) Listen(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("platform/cache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				scope, raw, found := strings.Cut(msg.Payload, "=")
				ver, err := strconv.ParseInt(raw, 10, 64)
				if !found || err != nil {
					continue
				}
				key := c.versionKey(scope)
				if cur, err := c.client.Get(ctx, key).Int64(); err == nil && cur >= ver {
					continue
				}
				_ = c.client.Set(ctx, key, ver, 0).Err()
			}
		}
	}()
	return nil
}
