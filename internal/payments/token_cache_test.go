package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingFetcher struct {
	calls  atomic.Int32
	clock  *fakeClock
	ttl    time.Duration
	err    error
	gate   chan struct{}
	issued atomic.Int32
}

func (f *countingFetcher) fetch(ctx context.Context) (*oauth2.Token, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	n := f.issued.Add(1)
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		TokenType:   "O-Bearer",
		Expiry:      f.clock.Now().Add(f.ttl),
	}, nil
}

func TestTokenCacheReusesTokenUntilBuffer(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{clock: clock, ttl: time.Hour}
	cache := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now))

	first, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	clock.Advance(58 * time.Minute)
	second, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if first.AccessToken != second.AccessToken {
		t.Fatalf("expected cached token, got %q then %q", first.AccessToken, second.AccessToken)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	// 59m01s is inside the 60s refresh buffer.
	clock.Advance(61 * time.Second)
	third, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if third.AccessToken == first.AccessToken {
		t.Fatalf("expected refreshed token inside buffer")
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected two fetches, got %d", got)
	}
}

func TestTokenCacheRefreshesAtExactBuffer(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{clock: clock, ttl: 10 * time.Minute}
	cache := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now))

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	clock.Advance(9 * time.Minute)
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected refresh when now == expiry-buffer, got %d fetches", got)
	}
}

func TestTokenCacheCoalescesConcurrentRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{clock: clock, ttl: time.Hour, gate: make(chan struct{})}
	cache := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now))

	const workers = 20
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			errs[i] = err
			if tok != nil {
				results[i] = tok.AccessToken
			}
		}(i)
	}
	for fetcher.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected a single outbound fetch, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "token-1" {
			t.Fatalf("worker %d got %q", i, results[i])
		}
	}
}

func TestTokenCacheSharedFetchSurvivesCallerCancel(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	started := make(chan struct{})
	gate := make(chan struct{})
	var fetchErr atomic.Value
	cache := NewTokenCache(func(ctx context.Context) (*oauth2.Token, error) {
		close(started)
		<-gate
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
			return nil, err
		}
		return &oauth2.Token{AccessToken: "token-1", Expiry: clock.Now().Add(time.Hour)}, nil
	}, WithTokenClock(clock.Now))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Token(firstCtx)
		firstErr <- err
	}()
	<-started

	second := make(chan *oauth2.Token, 1)
	go func() {
		tok, err := cache.Token(context.Background())
		if err != nil {
			second <- nil
			return
		}
		second <- tok
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled caller to return context.Canceled, got %v", err)
	}
	close(gate)

	tok := <-second
	if tok == nil || tok.AccessToken != "token-1" {
		t.Fatalf("expected waiting caller to receive the shared token, got %+v", tok)
	}
	if err := fetchErr.Load(); err != nil {
		t.Fatalf("shared fetch saw cancellation: %v", err)
	}
}

func TestTokenCachePropagatesFetchError(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	boom := errors.New("identity down")
	fetcher := &countingFetcher{clock: clock, ttl: time.Hour, err: boom}
	cache := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now))

	if _, err := cache.Token(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{clock: clock, ttl: time.Hour}
	cache := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now))

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	cache.Invalidate(context.Background())
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "token-2" {
		t.Fatalf("expected new token after invalidate, got %q", tok.AccessToken)
	}
}

func TestTokenCacheSharesTokenThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisTokenStore(client, "test:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	fetcher := &countingFetcher{clock: clock, ttl: time.Hour}
	first := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now), WithTokenStore(store, "phonepe"))
	second := NewTokenCache(fetcher.fetch, WithTokenClock(clock.Now), WithTokenStore(store, "phonepe"))

	a, err := first.Token(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	b, err := second.Token(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if a.AccessToken != b.AccessToken {
		t.Fatalf("expected shared token, got %q and %q", a.AccessToken, b.AccessToken)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch across instances, got %d", got)
	}
	if !mr.Exists("test:phonepe") {
		t.Fatalf("expected token key in redis")
	}
	if ttl := mr.TTL("test:phonepe"); ttl <= 0 {
		t.Fatalf("expected ttl on token key, got %v", ttl)
	}

	first.Invalidate(context.Background())
	if mr.Exists("test:phonepe") {
		t.Fatalf("expected invalidate to remove shared token")
	}
}

func TestMemoryTokenStoreRoundTrip(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	tok, err := store.Load(ctx, "missing")
	if err != nil || tok != nil {
		t.Fatalf("expected empty load, got %v %v", tok, err)
	}
	if err := store.Save(ctx, "k", &oauth2.Token{AccessToken: "abc"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tok, err = store.Load(ctx, "k")
	if err != nil || tok == nil || tok.AccessToken != "abc" {
		t.Fatalf("unexpected load: %v %v", tok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tok, _ := store.Load(ctx, "k"); tok != nil {
		t.Fatalf("expected token removed")
	}
}
