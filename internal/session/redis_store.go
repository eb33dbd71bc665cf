package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis so sessions survive a restart
// of a single instance and can be shared behind a sticky load balancer.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // idle expiry, refreshed on every Put
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		prefix: "dialogue:session:",
	}, nil
}

func (r *RedisStore) sessionKey(sessionID string) string {
	return r.prefix + sessionID
}

// Get loads a session; a missing key is not an error.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*ConversationState, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from Redis: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session data: %w", err)
	}
	if state.IntentCounts == nil {
		state.IntentCounts = make(map[script.Intent]int)
	}
	return &state, nil
}

// Put saves the session and refreshes its TTL.
func (r *RedisStore) Put(ctx context.Context, state *ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(state.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to Redis: %w", err)
	}
	return nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
