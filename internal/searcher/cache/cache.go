// Package cache memoises search results. Entries live in a local expirable
// LRU and, when configured, in Redis so replicas share work. Keys include the
// searched volume's content fingerprint rather than a process-local counter,
// so replicas only share entries computed from identical content and a
// publish that changes a volume makes its old entries unreachable without an
// explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/LuizLemos21/FileExplorer/internal/searcher/evaluator"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
	pkgredis "github.com/LuizLemos21/FileExplorer/pkg/redis"
	"github.com/LuizLemos21/FileExplorer/pkg/resilience"
)

const keyPrefix = "search:"

const (
	tierLocal  = "local"
	tierRemote = "redis"
)

// Store is the shared second tier. *redis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	LocalHits    int64  `json:"local_hits"`
	RemoteHits   int64  `json:"remote_hits"`
	LocalEntries int    `json:"local_entries"`
	Remote       string `json:"remote"`
}

type QueryCache struct {
	local   *expirable.LRU[string, []evaluator.Result]
	remote  Store
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	localHits  atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
}

// New builds a QueryCache. remote and m may be nil; localSize <= 0 disables
// the local tier.
func New(remote Store, cfg config.RedisConfig, localSize int, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		remote:  remote,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	if localSize > 0 {
		c.local = expirable.NewLRU[string, []evaluator.Result](localSize, nil, cfg.CacheTTL)
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Key derives the cache key for q evaluated against a volume with the given
// fingerprint (see fsindex.VolumeIndex.Fingerprint).
func Key(fingerprint string, q evaluator.Query) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%t|%t|%s|%d",
		fingerprint,
		q.VolumeID,
		strings.ToLower(q.Text),
		q.Extension,
		q.AcceptFiles,
		q.AcceptDirectories,
		q.Scope,
		q.Limit,
	)
	sum := sha256.Sum256([]byte(raw))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Get looks key up in the local tier, then Redis. A Redis hit is promoted
// into the local tier.
func (c *QueryCache) Get(ctx context.Context, key string) ([]evaluator.Result, bool) {
	results, tier, ok := c.lookup(ctx, key)
	c.record(tier, ok)
	return results, ok
}

// Set stores results in both tiers. Redis failures are logged, not returned.
func (c *QueryCache) Set(ctx context.Context, key string, results []evaluator.Result) {
	if c.local != nil {
		c.local.Add(key, results)
	}
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.remote.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached results for key or runs compute once for
// all concurrent callers asking for the same key. The bool reports a hit.
//
// compute receives a context that keeps ctx's values but not its
// cancellation, so one caller going away does not fail the others sharing
// the computation. compute must bound its own run time. A caller whose ctx
// ends stops waiting and gets ctx.Err().
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) ([]evaluator.Result, error),
) ([]evaluator.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if results, tier, ok := c.lookup(ctx, key); ok {
		c.record(tier, true)
		return results, true, nil
	}
	c.record("", false)
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if results, _, ok := c.lookup(shared, key); ok {
			return results, nil
		}
		results, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, key, results)
		return results, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]evaluator.Result), false, nil
	}
}

// Invalidate drops every cached search result in both tiers.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	if c.local != nil {
		c.local.Purge()
	}
	if c.remote == nil {
		c.logger.Info("cache invalidated", "tier", tierLocal)
		return nil
	}
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.remote.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		LocalHits:  c.localHits.Load(),
		RemoteHits: c.remoteHits.Load(),
		Misses:     c.misses.Load(),
		Remote:     "disabled",
	}
	s.Hits = s.LocalHits + s.RemoteHits
	if c.local != nil {
		s.LocalEntries = c.local.Len()
	}
	if c.remote != nil {
		s.Remote = c.breaker.GetState().String()
	}
	return s
}

func (c *QueryCache) lookup(ctx context.Context, key string) ([]evaluator.Result, string, bool) {
	if c.local != nil {
		if results, ok := c.local.Get(key); ok {
			return results, tierLocal, true
		}
	}
	if c.remote == nil || !c.breaker.Allow() {
		return nil, "", false
	}
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.remote.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, "", false
	}
	if data == nil {
		return nil, "", false
	}
	var results []evaluator.Result
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, "", false
	}
	if c.local != nil {
		c.local.Add(key, results)
	}
	return results, tierRemote, true
}

func (c *QueryCache) record(tier string, hit bool) {
	if !hit {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return
	}
	if tier == tierLocal {
		c.localHits.Add(1)
	} else {
		c.remoteHits.Add(1)
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}
