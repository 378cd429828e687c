// Package cache memoises conversion results in Redis for a short TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"snapshift/internal/domain"
	"snapshift/internal/infra/logging"
)

const keyPrefix = "convcache:"

// Cache is a Redis-backed result cache. A nil *Cache is valid and never hits.
type Cache struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxBytes int
	timeout  time.Duration
}

// New returns a cache over rdb, or nil when rdb is nil.
func New(rdb *redis.Client, ttl time.Duration, maxBytes int) *Cache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, maxBytes: maxBytes, timeout: time.Second}
}

// Key derives a cache key from an operation name and its inputs. Each part is
// length-prefixed so that different splits of the same bytes never collide.
func Key(op string, parts ...[]byte) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range append([][]byte{[]byte(op)}, parts...) {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return keyPrefix + op + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for key. Redis errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (domain.Result, bool) {
	if c == nil {
		return domain.Result{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return domain.Result{}, false
	}
	data, ok := fields["data"]
	if !ok {
		return domain.Result{}, false
	}

	logging.Debug("Result cache hit", "key", key)
	return domain.Result{
		Data:        []byte(data),
		ContentType: fields["content_type"],
		Filename:    fields["filename"],
	}, true
}

// Set stores res under key. Results larger than the configured limit are not cached.
func (c *Cache) Set(ctx context.Context, key string, res domain.Result) {
	if c == nil {
		return
	}
	if c.maxBytes > 0 && len(res.Data) > c.maxBytes {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"data":         res.Data,
			"content_type": res.ContentType,
			"filename":     res.Filename,
		})
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
