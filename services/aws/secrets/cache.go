package secrets

import (
	"math"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// InMemoryCache is a TTL cache backed by go-cache. Expired entries are never
// returned. A bounded cache makes room by evicting the entry that would
// expire soonest.
type InMemoryCache struct {
	store      *gocache.Cache
	maxSize    int
	defaultTTL time.Duration

	// mu serializes writers of a bounded cache so the size check and the
	// eviction happen together.
	mu sync.Mutex
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache returns a cache whose entries live for defaultTTL unless
// Set says otherwise. maxSize 0 means unbounded.
func NewInMemoryCache(defaultTTL time.Duration, maxSize int) *InMemoryCache {
	janitor := time.Duration(0)
	if defaultTTL > 0 {
		janitor = 2 * defaultTTL
	}
	return &InMemoryCache{
		store:      gocache.New(defaultTTL, janitor),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

func (c *InMemoryCache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

func (c *InMemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if c.maxSize <= 0 {
		c.store.Set(key, value, ttl)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.makeRoomLocked(key)
	c.store.Set(key, value, ttl)
}

func (c *InMemoryCache) makeRoomLocked(incoming string) {
	items := c.store.Items()
	if _, ok := items[incoming]; ok || len(items) < c.maxSize {
		return
	}
	victim, soonest := "", int64(0)
	for k, item := range items {
		exp := item.Expiration
		if exp == 0 {
			// never expires
			exp = math.MaxInt64
		}
		if victim == "" || exp < soonest {
			victim, soonest = k, exp
		}
	}
	c.store.Delete(victim)
}

func (c *InMemoryCache) Delete(key string) {
	c.store.Delete(key)
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (c *InMemoryCache) DeletePrefix(prefix string) int {
	n := 0
	for k := range c.store.Items() {
		if strings.HasPrefix(k, prefix) {
			c.store.Delete(k)
			n++
		}
	}
	return n
}

func (c *InMemoryCache) Clear() {
	c.store.Flush()
}

// Size returns the number of unexpired entries.
func (c *InMemoryCache) Size() int {
	c.store.DeleteExpired()
	return c.store.ItemCount()
}
