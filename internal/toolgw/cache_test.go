package toolgw

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/models"
)

type fakeLister struct {
	mu    sync.Mutex
	calls int32
	tools []models.ToolDescriptor
	err   error
	delay time.Duration
}

func (f *fakeLister) ListTools(ctx context.Context, serverAddress string) ([]models.ToolDescriptor, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools, f.err
}

func TestDiscoverCachesWithinTTL(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{tools: []models.ToolDescriptor{{Name: "get_order"}}}
	cache := NewDiscoveryCache(lister, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	first := cache.Discover(ctx, "http://tools.local")
	second := cache.Discover(ctx, "http://tools.local")

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Discover() = %d, %d tools, want 1 each", len(first), len(second))
	}
	if got := atomic.LoadInt32(&lister.calls); got != 1 {
		t.Errorf("lister called %d times, want 1 (cached)", got)
	}
}

func TestDiscoverRefreshesAfterTTL(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{tools: []models.ToolDescriptor{{Name: "get_order"}}}
	cache := NewDiscoveryCache(lister, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	cache.Discover(ctx, "http://tools.local")

	now = now.Add(DefaultCacheTTL + time.Minute)
	cache.Discover(ctx, "http://tools.local")

	if got := atomic.LoadInt32(&lister.calls); got != 2 {
		t.Errorf("lister called %d times, want 2 (TTL expired)", got)
	}
}

func TestDiscoverFailureIsEmptyList(t *testing.T) {
	lister := &fakeLister{err: fmt.Errorf("connection refused")}
	cache := NewDiscoveryCache(lister)

	tools := cache.Discover(context.Background(), "http://down.local")
	if len(tools) != 0 {
		t.Fatalf("Discover() = %d tools, want 0 on failure", len(tools))
	}
}

// ctxAwareLister fails when the caller's context is already done, the
// way a real HTTP client does.
type ctxAwareLister struct {
	calls int32
	tools []models.ToolDescriptor
}

func (f *ctxAwareLister) ListTools(ctx context.Context, _ string) ([]models.ToolDescriptor, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.tools, nil
}

func TestDiscoverDoesNotCacheCallerCancellation(t *testing.T) {
	lister := &ctxAwareLister{tools: []models.ToolDescriptor{{Name: "get_order"}}}
	cache := NewDiscoveryCache(lister)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if tools := cache.Discover(cancelled, "http://tools.local"); len(tools) != 0 {
		t.Fatalf("Discover() with cancelled context = %d tools, want 0", len(tools))
	}

	tools := cache.Discover(context.Background(), "http://tools.local")
	if len(tools) != 1 {
		t.Fatalf("Discover() after cancelled turn = %d tools, want 1: one client disconnecting must not blank the server for later turns", len(tools))
	}
	if got := atomic.LoadInt32(&lister.calls); got != 2 {
		t.Errorf("lister called %d times, want 2 (cancelled attempt not cached)", got)
	}
}

func TestDiscoverServerFailureStaysCached(t *testing.T) {
	lister := &fakeLister{err: fmt.Errorf("connection refused")}
	cache := NewDiscoveryCache(lister)

	ctx := context.Background()
	cache.Discover(ctx, "http://down.local")
	cache.Discover(ctx, "http://down.local")

	if got := atomic.LoadInt32(&lister.calls); got != 1 {
		t.Errorf("lister called %d times, want 1 (server failure cached for the TTL)", got)
	}
}

func TestDiscoverCollapsesConcurrentRefresh(t *testing.T) {
	lister := &fakeLister{
		tools: []models.ToolDescriptor{{Name: "t"}},
		delay: 50 * time.Millisecond,
	}
	cache := NewDiscoveryCache(lister)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Discover(context.Background(), "http://tools.local")
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&lister.calls); got != 1 {
		t.Errorf("lister called %d times, want 1 (single-flight)", got)
	}
}

func TestInvalidate(t *testing.T) {
	lister := &fakeLister{tools: []models.ToolDescriptor{{Name: "t"}}}
	cache := NewDiscoveryCache(lister)

	ctx := context.Background()
	cache.Discover(ctx, "http://tools.local")
	cache.Invalidate("http://tools.local")
	cache.Discover(ctx, "http://tools.local")

	if got := atomic.LoadInt32(&lister.calls); got != 2 {
		t.Errorf("lister called %d times, want 2 after Invalidate", got)
	}
}
