package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// TokenStore persists gateway tokens so several API instances can share one.
// Load returns (nil, nil) when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context, key string) (*oauth2.Token, error)
	Save(ctx context.Context, key string, token *oauth2.Token) error
	Delete(ctx context.Context, key string) error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// NewMemoryTokenStore constructs an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]oauth2.Token)}
}

func (s *MemoryTokenStore) Load(_ context.Context, key string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("payments: nil token")
	}
	s.mu.Lock()
	s.tokens[key] = *token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
	return nil
}

// RedisTokenStore keeps tokens in Redis with a TTL matching the token expiry.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewRedisTokenStore wraps client. Keys are written as prefix+key.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) (*RedisTokenStore, error) {
	if client == nil {
		return nil, errors.New("payments: redis client is required")
	}
	if prefix == "" {
		prefix = "payments:token:"
	}
	return &RedisTokenStore{client: client, prefix: prefix, clock: time.Now}, nil
}

type storedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType,omitempty"`
	Expiry      time.Time `json:"expiry"`
}

func (s *RedisTokenStore) Load(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payments: load token: %w", err)
	}
	var stored storedToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("payments: decode token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: stored.AccessToken,
		TokenType:   stored.TokenType,
		Expiry:      stored.Expiry,
	}, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("payments: nil token")
	}
	ttl := token.Expiry.Sub(s.clock())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(storedToken{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry.UTC(),
	})
	if err != nil {
		return fmt.Errorf("payments: encode token: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("payments: save token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("payments: delete token: %w", err)
	}
	return nil
}
