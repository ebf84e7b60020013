package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is the per-process L1 for board snapshots. Entries are held
// JSON-encoded, so every reader decodes a private copy and a caller that
// mutates the slice it cached never changes what the next reader sees.
type MemoryCache struct {
	entries sync.Map // string -> *snapshot
	now     func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64

	stop      chan struct{}
	closeOnce sync.Once
}

type snapshot struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Minute, time.Now)
}

func newMemoryCache(sweep time.Duration, now func() time.Time) *MemoryCache {
	c := &MemoryCache{now: now, stop: make(chan struct{})}
	go c.sweep(sweep)
	return c
}

func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	c.setEncoded(key, data, ttl)
	return nil
}

// setEncoded stores an already encoded value, used when filling L1 from L2.
func (c *MemoryCache) setEncoded(key string, data []byte, ttl time.Duration) {
	c.entries.Store(key, &snapshot{data: data, expiresAt: c.now().Add(ttl)})
}

func (c *MemoryCache) Get(key string, dest interface{}) error {
	s, ok := c.lookup(key)
	if !ok {
		c.misses.Add(1)
		return ErrCacheMiss
	}
	c.hits.Add(1)
	if err := json.Unmarshal(s.data, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (c *MemoryCache) lookup(key string) (*snapshot, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	s := v.(*snapshot)
	if !c.now().Before(s.expiresAt) {
		if c.entries.CompareAndDelete(key, v) {
			c.expired.Add(1)
		}
		return nil, false
	}
	return s, true
}

func (c *MemoryCache) Exists(key string) (bool, error) {
	_, ok := c.lookup(key)
	return ok, nil
}

func (c *MemoryCache) Delete(key string) error {
	c.entries.Delete(key)
	return nil
}

// DeletePattern understands "*" and trailing-wildcard prefixes such as
// "board:*", the only shapes board keys take.
func (c *MemoryCache) DeletePattern(pattern string) error {
	c.entries.Range(func(key, _ interface{}) bool {
		if matchPattern(key.(string), pattern) {
			c.entries.Delete(key)
		}
		return true
	})
	return nil
}

func (c *MemoryCache) Stats() map[string]interface{} {
	items := 0
	c.entries.Range(func(_, _ interface{}) bool {
		items++
		return true
	})

	return map[string]interface{}{
		"type":    "memory",
		"items":   items,
		"hits":    c.hits.Load(),
		"misses":  c.misses.Load(),
		"expired": c.expired.Load(),
	}
}

func (c *MemoryCache) Health() error {
	return nil
}

func (c *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.entries.Range(func(key, v interface{}) bool {
				if !now.Before(v.(*snapshot).expiresAt) && c.entries.CompareAndDelete(key, v) {
					c.expired.Add(1)
				}
				return true
			})
		}
	}
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

func matchPattern(key, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}
