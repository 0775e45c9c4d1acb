package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how long before expiry a cached token stops being served.
const DefaultRefreshBuffer = 60 * time.Second

// tokenFetchTimeout bounds a shared fetch, which outlives the caller that started it.
const tokenFetchTimeout = 15 * time.Second

// TokenFetcher obtains a fresh access token from the gateway.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// TokenCache serves a cached OAuth token and refreshes it once it falls inside the refresh
// buffer. Concurrent callers that miss the cache share one outbound fetch.
type TokenCache struct {
	fetch  TokenFetcher
	clock  func() time.Time
	buffer time.Duration
	store  TokenStore
	key    string
	logger Logger

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// TokenCacheOption customises a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithTokenClock overrides the clock used for expiry checks.
func WithTokenClock(clock func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRefreshBuffer overrides DefaultRefreshBuffer.
func WithRefreshBuffer(buffer time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if buffer >= 0 {
			c.buffer = buffer
		}
	}
}

// WithTokenStore shares tokens across instances through store under key.
func WithTokenStore(store TokenStore, key string) TokenCacheOption {
	return func(c *TokenCache) {
		c.store = store
		c.key = key
	}
}

// WithTokenLogger attaches a logger for store failures.
func WithTokenLogger(logger Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// NewTokenCache constructs a cache around fetch.
func NewTokenCache(fetch TokenFetcher, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		fetch:  fetch,
		clock:  time.Now,
		buffer: DefaultRefreshBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = func(context.Context, string, map[string]any) {}
	}
	return c
}

// Token returns a valid access token, fetching a new one when the cached token is missing or
// within the refresh buffer of its expiry.
func (c *TokenCache) Token(ctx context.Context) (*oauth2.Token, error) {
	if c == nil || c.fetch == nil {
		return nil, errors.New("payments: token cache not configured")
	}
	if tok := c.cached(); tok != nil {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok := res.Val.(*oauth2.Token)
		copied := *tok
		return &copied, nil
	}
}

func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		return tok, nil
	}
	if tok := c.loadShared(ctx); tok != nil {
		c.set(tok)
		return tok, nil
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("payments: token endpoint returned no access token")
	}
	c.set(tok)
	c.saveShared(ctx, tok)
	return tok, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(ctx, c.key); err != nil {
			c.logger(ctx, "payments.token.store.delete_failed", map[string]any{"error": err.Error()})
		}
	}
}

func (c *TokenCache) cached() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.usable(c.token) {
		return nil
	}
	copied := *c.token
	return &copied
}

func (c *TokenCache) set(tok *oauth2.Token) {
	c.mu.Lock()
	copied := *tok
	c.token = &copied
	c.mu.Unlock()
}

// usable reports whether now < expiry - buffer. Tokens without an expiry are never reused.
func (c *TokenCache) usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" || tok.Expiry.IsZero() {
		return false
	}
	return c.clock().Before(tok.Expiry.Add(-c.buffer))
}

func (c *TokenCache) loadShared(ctx context.Context) *oauth2.Token {
	if c.store == nil {
		return nil
	}
	tok, err := c.store.Load(ctx, c.key)
	if err != nil {
		c.logger(ctx, "payments.token.store.load_failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !c.usable(tok) {
		return nil
	}
	return tok
}

func (c *TokenCache) saveShared(ctx context.Context, tok *oauth2.Token) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.key, tok); err != nil {
		c.logger(ctx, "payments.token.store.save_failed", map[string]any{"error": err.Error()})
	}
}
