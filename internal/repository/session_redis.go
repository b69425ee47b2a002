package repository

import (
	"context" // deadlines and cancellation for Redis calls
	"errors"  // matching redis.Nil
	"time"    // TTL computation

	"github.com/redis/go-redis/v9" // Redis client
)

// RedisSessionStore keeps the refresh token hash per user under
// "<prefix>:<userID>" with a TTL equal to the token's remaining lifetime.
// Redis applies each command atomically, so a GET after a SET on the same
// key always observes the write.
type RedisSessionStore struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// NewRedisSessionStore returns a store over rdb. Keys default to the
// "session" prefix when prefix is empty.
func NewRedisSessionStore(rdb *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisSessionStore{Client: rdb, Prefix: prefix, Now: time.Now}
}

func (s *RedisSessionStore) key(userID string) string { return s.Prefix + ":" + userID }

// SetRefreshToken overwrites the user's slot. An empty hash, or an expiry
// that has already passed, clears it.
func (s *RedisSessionStore) SetRefreshToken(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	ttl := exp.Sub(s.now())
	if tokenHash == "" || ttl <= 0 {
		return s.ClearRefreshToken(ctx, userID)
	}
	return s.Client.Set(ctx, s.key(userID), tokenHash, ttl).Err()
}

// GetRefreshToken returns the stored hash or "" when the key is absent.
// Redis expires the key itself, so an expired slot reads as absent.
func (s *RedisSessionStore) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	v, err := s.Client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// ClearRefreshToken deletes the user's slot; deleting a missing key is fine.
func (s *RedisSessionStore) ClearRefreshToken(ctx context.Context, userID string) error {
	return s.Client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisSessionStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
