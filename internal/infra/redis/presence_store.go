package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"storymap-live/internal/domain"
)

// PresenceStore marks live sessions in Redis so any front-end instance can
// resolve a join code to a session. Keys expire with the configured TTL;
// a running session refreshes its marker on every Touch.
type PresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresenceStore(client *redis.Client, ttl time.Duration) *PresenceStore {
	return &PresenceStore{client: client, ttl: ttl}
}

// Register maps a join code to its session id.
func (s *PresenceStore) Register(ctx context.Context, joinCode, sessionID string) error {
	return s.client.Set(ctx, s.key(joinCode), sessionID, s.ttl).Err()
}

// Resolve returns the session id behind a join code.
func (s *PresenceStore) Resolve(ctx context.Context, joinCode string) (string, error) {
	sessionID, err := s.client.Get(ctx, s.key(joinCode)).Result()
	if err == redis.Nil {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// Touch extends the liveness marker.
func (s *PresenceStore) Touch(ctx context.Context, joinCode string) error {
	return s.client.Expire(ctx, s.key(joinCode), s.ttl).Err()
}

// Release drops the marker when the session ends.
func (s *PresenceStore) Release(ctx context.Context, joinCode string) error {
	return s.client.Del(ctx, s.key(joinCode)).Err()
}

func (s *PresenceStore) key(joinCode string) string {
	return "session:code:" + joinCode
}
