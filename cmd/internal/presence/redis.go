// Package presence keeps user-level online flags and last-seen times in Redis so that
// several chat processes can agree on them.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobchat/cmd/internal/chat"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "chat:presence:"
	lastSeenTTL      = 30 * 24 * time.Hour
)

// RedisLastSeen is a chat.LastSeenStore on go-redis.
type RedisLastSeen struct {
	client *redis.Client
	prefix string
}

var _ chat.LastSeenStore = (*RedisLastSeen)(nil)

// Open parses redisURL, connects and pings.
func Open(ctx context.Context, redisURL string) (*RedisLastSeen, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("presence: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("presence: ping: %w", err)
	}
	return New(c, ""), nil
}

// New wraps an existing client. An empty prefix selects the default.
func New(client *redis.Client, prefix string) *RedisLastSeen {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLastSeen{client: client, prefix: prefix}
}

func (s *RedisLastSeen) onlineKey(userID string) string   { return s.prefix + "online:" + userID }
func (s *RedisLastSeen) lastSeenKey(userID string) string { return s.prefix + "last_seen:" + userID }

// MarkOnline sets the online flag and clears last-seen.
func (s *RedisLastSeen) MarkOnline(ctx context.Context, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.onlineKey(userID), "1", 0)
		p.Del(ctx, s.lastSeenKey(userID))
		return nil
	})
	return err
}

// MarkOffline clears the online flag and stores at as last-seen.
func (s *RedisLastSeen) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.onlineKey(userID))
		p.Set(ctx, s.lastSeenKey(userID), at.UTC().Format(time.RFC3339Nano), lastSeenTTL)
		return nil
	})
	return err
}

// LastSeen returns the stored last-seen time, nil when online or unknown.
func (s *RedisLastSeen) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, s.lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("presence: bad last_seen %q: %w", raw, err)
	}
	return &ts, nil
}

// Ping checks connectivity (readiness).
func (s *RedisLastSeen) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisLastSeen) Close() error { return s.client.Close() }
