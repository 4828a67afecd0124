// Package dedup provides the Redis membership set of document identifiers
// that are already fully persisted. It is a performance layer only: the
// store's uniqueness constraint on the document identifier is the
// correctness backstop, so a cache miss costs a redundant idempotent write,
// never a duplicate.
package dedup

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for dedup cache operations.
var (
	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_cache_hits_total",
		Help: "Total number of dedup cache hits",
	})

	dedupMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_cache_misses_total",
		Help: "Total number of dedup cache misses",
	})

	dedupErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_cache_errors_total",
		Help: "Total number of dedup cache operation errors",
	}, []string{"operation"})
)

// setKey is the Redis SET holding identifiers of committed declarations.
const setKey = "nazk:document_ids:seen"

// preloadChunkSize bounds SADD argument counts during bulk preload.
const preloadChunkSize = 5000

// Cache is the Redis-backed membership set. Safe for use by concurrent
// workers; all mutate operations are single Redis commands.
type Cache struct {
	redis *redis.Client
}

// New creates a dedup cache on the given Redis client.
func New(redisClient *redis.Client) *Cache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Cache{redis: redisClient}
}

// Seen reports whether the document identifier was committed before.
func (c *Cache) Seen(ctx context.Context, documentID string) (bool, error) {
	member, err := c.redis.SIsMember(ctx, setKey, documentID).Result()
	if err != nil {
		dedupErrorsTotal.WithLabelValues("seen").Inc()
		return false, fmt.Errorf("dedup seen: %w", err)
	}
	if member {
		dedupHitsTotal.Inc()
	} else {
		dedupMissesTotal.Inc()
	}
	return member, nil
}

// MarkSeen records a document identifier after its commit succeeded. Callers
// must not mark before the commit: a crash between fetch and commit has to
// leave the identifier absent so the retry is not skipped.
func (c *Cache) MarkSeen(ctx context.Context, documentID string) error {
	if err := c.redis.SAdd(ctx, setKey, documentID).Err(); err != nil {
		dedupErrorsTotal.WithLabelValues("mark_seen").Inc()
		return fmt.Errorf("dedup mark seen: %w", err)
	}
	return nil
}

// Preload bulk-populates the set from the store's existing identifiers at
// cold start. The set is rebuilt from scratch so stale entries from a prior
// store cannot linger.
func (c *Cache) Preload(ctx context.Context, documentIDs []string) error {
	if err := c.redis.Del(ctx, setKey).Err(); err != nil {
		dedupErrorsTotal.WithLabelValues("preload").Inc()
		return fmt.Errorf("dedup preload clear: %w", err)
	}

	for start := 0; start < len(documentIDs); start += preloadChunkSize {
		end := start + preloadChunkSize
		if end > len(documentIDs) {
			end = len(documentIDs)
		}
		chunk := make([]interface{}, 0, end-start)
		for _, id := range documentIDs[start:end] {
			chunk = append(chunk, id)
		}
		if err := c.redis.SAdd(ctx, setKey, chunk...).Err(); err != nil {
			dedupErrorsTotal.WithLabelValues("preload").Inc()
			return fmt.Errorf("dedup preload: %w", err)
		}
	}
	return nil
}

// Size returns the current number of identifiers in the set.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	size, err := c.redis.SCard(ctx, setKey).Result()
	if err != nil {
		dedupErrorsTotal.WithLabelValues("size").Inc()
		return 0, fmt.Errorf("dedup size: %w", err)
	}
	return size, nil
}
