// Package querycache keeps the client's fetched REST queries and lets the
// realtime bus mark them stale when the server announces a change.
package querycache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"go-realtime-bus/internal/infrastructure/logger"
)

// Entry is one cached query result.
type Entry struct {
	Body      json.RawMessage
	FetchedAt time.Time
	Stale     bool
}

type Options struct {
	TTL      time.Duration
	Capacity uint64
	// RefetchOnInvalidate starts a background fetch for every key marked
	// stale, so the next Get is served fresh.
	RefetchOnInvalidate bool
	FetchTimeout        time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:          5 * time.Minute,
		Capacity:     1024,
		FetchTimeout: 10 * time.Second,
	}
}

// Cache maps query keys to their last fetched body. Invalidation is a hint:
// a read racing an invalidation may still see the previous body.
type Cache struct {
	items   *ttlcache.Cache[Key, Entry]
	fetcher Fetcher
	opts    Options
	group   singleflight.Group
	logger  logger.Logger

	// gens counts invalidations per fetched key. A fetch that sees its key's
	// generation move while it runs does not store its result.
	mu   sync.Mutex
	gens map[Key]uint64

	now func() time.Time
}

func New(fetcher Fetcher, opts Options, logger logger.Logger) *Cache {
	ttlOpts := []ttlcache.Option[Key, Entry]{
		ttlcache.WithTTL[Key, Entry](opts.TTL),
		ttlcache.WithDisableTouchOnHit[Key, Entry](),
	}
	if opts.Capacity > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithCapacity[Key, Entry](opts.Capacity))
	}

	c := &Cache{
		items:   ttlcache.New[Key, Entry](ttlOpts...),
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.WithField("component", "querycache"),
		gens:    make(map[Key]uint64),
		now:     time.Now,
	}

	c.items.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, Entry]) {
		if reason == ttlcache.EvictionReasonExpired {
			c.logger.Debugf("Query %s expired", item.Key())
		}
	})

	return c
}

// Start runs the expiry loop until Stop is called.
func (c *Cache) Start() {
	c.items.Start()
}

func (c *Cache) Stop() {
	c.items.Stop()
}

// Get returns the body for key, fetching it when it is missing or stale.
func (c *Cache) Get(ctx context.Context, key Key) (json.RawMessage, error) {
	if item := c.items.Get(key); item != nil && !item.Value().Stale {
		return item.Value().Body, nil
	}
	return c.fetch(ctx, key)
}

// Peek returns the entry for key without fetching.
func (c *Cache) Peek(key Key) (Entry, bool) {
	item := c.items.Get(key)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

// Invalidate marks every entry at or below prefix stale and returns how many
// entries it marked. Fetches of those keys already in flight will not store
// their result, so the next Get fetches again.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.gens {
		if key.HasPrefix(prefix) {
			c.gens[key]++
			c.group.Forget(string(key))
		}
	}

	marked := 0
	for _, key := range c.items.Keys() {
		if !key.HasPrefix(prefix) {
			continue
		}

		item := c.items.Get(key)
		if item == nil {
			continue
		}
		remaining := time.Until(item.ExpiresAt())
		if remaining <= 0 {
			continue
		}

		entry := item.Value()
		entry.Stale = true
		c.items.Set(key, entry, remaining)
		marked++

		if c.opts.RefetchOnInvalidate {
			go c.refetch(key)
		}
	}

	c.logger.Debugf("Invalidated %d queries under %s", marked, prefix)
	return marked
}

// Len returns the number of cached queries, stale ones included.
func (c *Cache) Len() int {
	return c.items.Len()
}

func (c *Cache) fetch(ctx context.Context, key Key) (json.RawMessage, error) {
	v, err, _ := c.group.Do(string(key), func() (any, error) {
		c.mu.Lock()
		gen := c.gens[key]
		c.gens[key] = gen
		c.mu.Unlock()

		body, err := c.fetcher.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[key] != gen {
			c.logger.Debugf("Query %s invalidated during fetch, not caching", key)
			return body, nil
		}
		c.items.Set(key, Entry{Body: body, FetchedAt: c.now()}, ttlcache.DefaultTTL)
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (c *Cache) refetch(key Key) {
	ctx := context.Background()
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	if _, err := c.fetch(ctx, key); err != nil {
		c.logger.Warnf("Re-fetch of %s failed, entry stays stale: %v", key, err)
		return
	}
	c.logger.Debugf("Re-fetched %s", key)
}
