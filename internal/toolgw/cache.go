package toolgw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long a server's tool list stays fresh.
const DefaultCacheTTL = time.Hour

// ToolLister is the discovery dependency of the cache.
type ToolLister interface {
	ListTools(ctx context.Context, serverAddress string) ([]models.ToolDescriptor, error)
}

type cacheEntry struct {
	tools     []models.ToolDescriptor
	fetchedAt time.Time
}

// DiscoveryCache caches per-server tool lists with a TTL. Concurrent
// refreshes of the same server are collapsed into one network call;
// readers never observe a half-written entry.
type DiscoveryCache struct {
	lister ToolLister
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
	inWork  map[string]*sync.WaitGroup
}

// CacheOption configures the discovery cache.
type CacheOption func(*DiscoveryCache)

// WithTTL overrides the default 1h freshness window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *DiscoveryCache) { c.ttl = ttl }
}

// WithClock injects the time source. Tests use this to step through
// expiry deterministically.
func WithClock(now func() time.Time) CacheOption {
	return func(c *DiscoveryCache) { c.now = now }
}

// NewDiscoveryCache creates a cache over the given lister.
func NewDiscoveryCache(lister ToolLister, opts ...CacheOption) *DiscoveryCache {
	c := &DiscoveryCache{
		lister:  lister,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
		inWork:  make(map[string]*sync.WaitGroup),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover returns the server's tool list, refreshing it when stale.
// Discovery failure yields an empty list, never an error: a server
// that cannot enumerate tools simply contributes nothing to the turn.
func (c *DiscoveryCache) Discover(ctx context.Context, serverAddress string) []models.ToolDescriptor {
	for {
		c.mu.Lock()
		if entry, ok := c.entries[serverAddress]; ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			tools := entry.tools
			c.mu.Unlock()
			return tools
		}

		if wg, busy := c.inWork[serverAddress]; busy {
			// Another goroutine is refreshing this server. Wait for it
			// and re-check the entry.
			c.mu.Unlock()
			wg.Wait()
			continue
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inWork[serverAddress] = wg
		c.mu.Unlock()

		tools, err := c.lister.ListTools(ctx, serverAddress)
		if err != nil {
			log.Warn().Err(err).Str("server", serverAddress).Msg("tool discovery failed")
			tools = nil
		}

		// A failure caused by the caller going away says nothing about
		// the server; leave the entry absent so the next turn retries
		// instead of inheriting an empty list for the TTL.
		c.mu.Lock()
		if err == nil || !callerCancelled(ctx, err) {
			c.entries[serverAddress] = &cacheEntry{tools: tools, fetchedAt: c.now()}
		}
		delete(c.inWork, serverAddress)
		c.mu.Unlock()
		wg.Done()

		return tools
	}
}

// callerCancelled reports whether a discovery failure came from the
// caller's context rather than the server.
func callerCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops a server's cached entry.
func (c *DiscoveryCache) Invalidate(serverAddress string) {
	c.mu.Lock()
	delete(c.entries, serverAddress)
	c.mu.Unlock()
}
