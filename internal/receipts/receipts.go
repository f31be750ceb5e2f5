// Package receipts remembers which entries were delivered, so an entry
// whose send succeeded but whose MarkSent failed is not sent twice.
package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Receipt is what is kept for a delivered entry.
type Receipt struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

type Cache interface {
	Record(ctx context.Context, entryID, remoteID string, sentAt time.Time) error
	Lookup(ctx context.Context, entryID string) (Receipt, bool, error)
	Forget(ctx context.Context, entryID string) error
}

const DefaultTTL = 72 * time.Hour

type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, prefix string) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "wasched:sent:"
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }

func (c *RedisCache) Record(ctx context.Context, entryID, remoteID string, sentAt time.Time) error {
	b, err := json.Marshal(Receipt{RemoteMessageID: remoteID, SentAt: sentAt.UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(entryID), b, c.ttl).Err()
}

func (c *RedisCache) Lookup(ctx context.Context, entryID string) (Receipt, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(entryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, false, err
	}
	return r, true, nil
}

func (c *RedisCache) Forget(ctx context.Context, entryID string) error {
	return c.rdb.Del(ctx, c.key(entryID)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *RedisCache) Close() error { return c.rdb.Close() }

// Nop never remembers anything. Used when redis is not configured.
type Nop struct{}

func (Nop) Record(context.Context, string, string, time.Time) error { return nil }
func (Nop) Lookup(context.Context, string) (Receipt, bool, error)   { return Receipt{}, false, nil }
func (Nop) Forget(context.Context, string) error                    { return nil }
