package cache

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"collab-board/backend/internal/monitoring"

	"github.com/sony/gobreaker"
)

// MultiLevelCache reads through a process-local L1 into a shared Redis L2.
// L2 calls go through a circuit breaker; while it is open the cache degrades
// to L1 only and L2 errors never reach the caller.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      Cache
	l1TTL   time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewMultiLevelCache(l2 Cache, l1TTL time.Duration) *MultiLevelCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &MultiLevelCache{
		l1:      NewMemoryCache(),
		l2:      l2,
		l1TTL:   l1TTL,
		breaker: newBreaker("board-cache-l2"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("⚠️  Circuit breaker %s state change: %s -> %s", name, from, to)
		},
	})
}

func (c *MultiLevelCache) callL2(fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		monitoring.CacheErrors.Inc()
	}
	return err
}

func (c *MultiLevelCache) Set(key string, value interface{}, ttl time.Duration) error {
	l1TTL := ttl
	if l1TTL > c.l1TTL {
		l1TTL = c.l1TTL
	}
	if err := c.l1.Set(key, value, l1TTL); err != nil {
		return err
	}

	if c.l2 != nil {
		_ = c.callL2(func() error {
			return c.l2.Set(key, value, ttl)
		})
	}
	return nil
}

func (c *MultiLevelCache) Get(key string, dest interface{}) error {
	err := c.l1.Get(key, dest)
	if err == nil {
		monitoring.CacheLookups.WithLabelValues("l1", "hit").Inc()
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	if c.l2 != nil {
		var miss bool
		err := c.callL2(func() error {
			err := c.l2.Get(key, dest)
			if errors.Is(err, ErrCacheMiss) {
				miss = true
				return nil
			}
			return err
		})
		if err == nil && !miss {
			monitoring.CacheLookups.WithLabelValues("l2", "hit").Inc()
			if data, err := json.Marshal(dest); err == nil {
				c.l1.setEncoded(key, data, c.l1TTL)
			}
			return nil
		}
	}

	monitoring.CacheLookups.WithLabelValues("all", "miss").Inc()
	return ErrCacheMiss
}

// Delete always clears L1; an L2 failure is returned so callers know other
// instances may still read the stale entry until it expires.
func (c *MultiLevelCache) Delete(key string) error {
	c.l1.Delete(key)

	if c.l2 != nil {
		return c.callL2(func() error {
			return c.l2.Delete(key)
		})
	}
	return nil
}

func (c *MultiLevelCache) DeletePattern(pattern string) error {
	c.l1.DeletePattern(pattern)

	if c.l2 != nil {
		return c.callL2(func() error {
			return c.l2.DeletePattern(pattern)
		})
	}
	return nil
}

func (c *MultiLevelCache) Exists(key string) (bool, error) {
	if found, _ := c.l1.Exists(key); found {
		return true, nil
	}

	if c.l2 != nil {
		var exists bool
		err := c.callL2(func() error {
			var err error
			exists, err = c.l2.Exists(key)
			return err
		})
		return exists, err
	}
	return false, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	counts := c.breaker.Counts()
	stats := map[string]interface{}{
		"l1": c.l1.Stats(),
		"circuit_breaker": map[string]interface{}{
			"state":                c.breaker.State().String(),
			"requests":             counts.Requests,
			"consecutive_failures": counts.ConsecutiveFailures,
		},
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health() error {
	if c.l2 != nil {
		return c.l2.Health()
	}
	return nil
}

func (c *MultiLevelCache) Close() error {
	c.l1.Close()

	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}
