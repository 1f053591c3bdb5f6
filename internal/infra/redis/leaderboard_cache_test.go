package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storymap-live/internal/domain"
	"storymap-live/internal/infra/memory"
)

func TestLeaderboardCacheFillsOnMiss(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingRoster()
	cache := NewLeaderboardCache(newClient(mr), loader, time.Minute)

	board, err := cache.GetLeaderboard(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(board) != 3 || board[0].DisplayName != "Ada" {
		t.Fatalf("expected Ada on top, got %+v", board)
	}

	// Second call should hit cache, loader not incremented.
	board, err = cache.GetLeaderboard(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if board[0].Score != 30 || board[0].DisplayName != "Ada" {
		t.Fatalf("cached read must carry scores and names, got %+v", board[0])
	}
}

func TestLeaderboardCacheLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewLeaderboardCache(newClient(mr), newCountingRoster(), time.Minute)

	if _, err := cache.GetLeaderboard(context.Background(), "s1", 0); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	top, err := cache.GetLeaderboard(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("limited get: %v", err)
	}
	if len(top) != 2 || top[1].DisplayName != "Bea" {
		t.Fatalf("expected top two from cache, got %+v", top)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := newCountingRoster()
	cache := NewLeaderboardCache(newClient(mr), loader, time.Minute)

	if _, err := cache.GetLeaderboard(context.Background(), "s1", 0); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := cache.Invalidate(context.Background(), "s1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.GetLeaderboard(context.Background(), "s1", 0); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestPresenceStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewPresenceStore(newClient(mr), time.Minute)
	ctx := context.Background()

	if err := store.Register(ctx, "DEMO42", "s1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	sessionID, err := store.Resolve(ctx, "DEMO42")
	if err != nil || sessionID != "s1" {
		t.Fatalf("expected s1, got %q err=%v", sessionID, err)
	}
	if err := store.Touch(ctx, "DEMO42"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	// Expiry is what makes dead sessions unresolvable.
	mr.FastForward(2 * time.Minute)
	if _, err := store.Resolve(ctx, "DEMO42"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after expiry, got %v", err)
	}

	if err := store.Register(ctx, "DEMO42", "s1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if err := store.Release(ctx, "DEMO42"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.Resolve(ctx, "DEMO42"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after release, got %v", err)
	}
}

type countingRoster struct {
	inner *memory.RosterService
	calls int
}

func newCountingRoster() *countingRoster {
	inner := memory.NewRosterService()
	inner.Join("s1", domain.Participant{ID: "u1", DisplayName: "Zoe"})
	inner.Join("s1", domain.Participant{ID: "u2", DisplayName: "Ada"})
	inner.Join("s1", domain.Participant{ID: "u3", DisplayName: "Bea"})
	inner.AddScore("s1", "u2", 30)
	inner.AddScore("s1", "u3", 10)
	return &countingRoster{inner: inner}
}

func (r *countingRoster) GetLeaderboard(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error) {
	r.calls++
	return r.inner.GetLeaderboard(ctx, sessionID, limit)
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
