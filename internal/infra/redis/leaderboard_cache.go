package redis

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"storymap-live/internal/domain"
)

// RosterLoader fetches the leaderboard from the backing roster service.
type RosterLoader interface {
	GetLeaderboard(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error)
}

// LeaderboardCache caches rosters in Redis and falls back to a loader on
// cache miss. Scores live in a sorted set, display names in a hash:
//
//	ZADD session:{id}:scores {score} {participantID}
//	HSET session:{id}:names  {participantID} {displayName}
type LeaderboardCache struct {
	client *redis.Client
	loader RosterLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, loader RosterLoader, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error) {
	if cached, ok := c.fromCache(ctx, sessionID, limit); ok {
		return cached, nil
	}

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if cached, ok := c.fromCache(ctx, sessionID, limit); ok {
			return cached, nil
		}

		participants, err := c.loader.GetLeaderboard(ctx, sessionID, limit)
		if err != nil {
			return nil, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		for _, p := range participants {
			pipe.ZAdd(ctx, c.scoresKey(sessionID), redis.Z{Score: float64(p.Score), Member: p.ID})
			pipe.HSet(ctx, c.namesKey(sessionID), p.ID, p.DisplayName)
		}
		if ttl > 0 {
			pipe.Expire(ctx, c.scoresKey(sessionID), ttl)
			pipe.Expire(ctx, c.namesKey(sessionID), ttl)
		}
		_, _ = pipe.Exec(ctx)

		return participants, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Participant), nil
}

// Invalidate drops the cached roster, forcing the next read to the loader.
func (c *LeaderboardCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.scoresKey(sessionID), c.namesKey(sessionID)).Err()
}

func (c *LeaderboardCache) fromCache(ctx context.Context, sessionID string, limit int) ([]domain.Participant, bool) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	entries, err := c.client.ZRevRangeWithScores(ctx, c.scoresKey(sessionID), 0, stop).Result()
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	names, _ := c.client.HGetAll(ctx, c.namesKey(sessionID)).Result()

	participants := make([]domain.Participant, 0, len(entries))
	for _, entry := range entries {
		id, _ := entry.Member.(string)
		participants = append(participants, domain.Participant{
			ID:          id,
			DisplayName: names[id],
			Score:       int(entry.Score),
		})
	}
	return participants, true
}

func (c *LeaderboardCache) scoresKey(sessionID string) string {
	return "session:" + sessionID + ":scores"
}

func (c *LeaderboardCache) namesKey(sessionID string) string {
	return "session:" + sessionID + ":names"
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
