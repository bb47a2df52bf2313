// Package redis provides a Redis implementation of the refresh token store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/identity"
	goredis "github.com/redis/go-redis/v9"
)

// expiryGrace keeps expired tokens readable for a while after ExpiresAt so that
// their use is reported as expired rather than unknown.
const expiryGrace = time.Hour

// KEYS[1] user key, KEYS[2] new token key.
// ARGV[1] token key prefix, ARGV[2] new token value, ARGV[3] record, ARGV[4] ttl ms.
var saveTokenLua = goredis.NewScript(`
local previous = redis.call("GET", KEYS[1])
if previous then
  redis.call("DEL", ARGV[1] .. previous)
end
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[4])
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[4])
return 1
`)

// KEYS[1] token key, KEYS[2] user key. ARGV[1] token value.
var deleteTokenLua = goredis.NewScript(`
redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return 1
`)

// KEYS[1] user key. ARGV[1] token key prefix.
var deleteUserTokenLua = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  redis.call("DEL", ARGV[1] .. current)
  redis.call("DEL", KEYS[1])
end
return 1
`)

type record struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Store implements identity.RefreshTokenStore on Redis.
// Each user maps to a single token key; replacing a token is one Lua script call.
//
// The scripts delete the previous token key, which they build from ARGV and
// cannot declare in KEYS. Store therefore requires a single-node Redis and
// takes a *goredis.Client rather than a cluster-capable client.
type Store struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewStore creates a store namespacing its keys under prefix.
func NewStore(client *goredis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) tokenPrefix() string {
	return s.prefix + "refresh:token:"
}

func (s *Store) tokenKey(value string) string {
	return s.tokenPrefix() + value
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "refresh:user:" + userID
}

// SaveRefreshToken stores token and drops the user's previous token atomically.
func (s *Store) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	data, err := json.Marshal(record{
		UserID:    token.UserID,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode refresh token: %w", err)
	}

	ttl := token.ExpiresAt.Sub(s.now())
	if ttl < 0 {
		ttl = 0
	}
	ttl += expiryGrace

	err = saveTokenLua.Run(ctx, s.client,
		[]string{s.userKey(token.UserID), s.tokenKey(token.Token)},
		s.tokenPrefix(), token.Token, data, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns identity.ErrRefreshTokenNotFound when no token has the value.
func (s *Store) GetRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	data, err := s.client.Get(ctx, s.tokenKey(value)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, identity.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return &domain.RefreshToken{
		UserID:    rec.UserID,
		Token:     rec.Token,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteRefreshToken removes the token and, if it is still the user's current one, the user index.
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	token, err := s.GetRefreshToken(ctx, value)
	if errors.Is(err, identity.ErrRefreshTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = deleteTokenLua.Run(ctx, s.client,
		[]string{s.tokenKey(value), s.userKey(token.UserID)},
		value,
	).Err()
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteUserRefreshTokens removes the user's current token, if any.
func (s *Store) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	err := deleteUserTokenLua.Run(ctx, s.client, []string{s.userKey(userID)}, s.tokenPrefix()).Err()
	if err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
