package roster_test

import (
	"context"
	"encoding/json"
	"testing"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
	"storymap-live/internal/roster"
)

type stubRoster struct {
	participants []domain.Participant
	calls        int
}

func (s *stubRoster) GetLeaderboard(_ context.Context, _ string, limit int) ([]domain.Participant, error) {
	s.calls++
	out := make([]domain.Participant, len(s.participants))
	copy(out, s.participants)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestRefreshOrdersByScoreThenName(t *testing.T) {
	svc := &stubRoster{participants: []domain.Participant{
		{ID: "u1", DisplayName: "Zoe", Score: 10},
		{ID: "u2", DisplayName: "Ada", Score: 30},
		{ID: "u3", DisplayName: "Bea", Score: 10},
	}}
	v := roster.NewView(svc, "s1", 0)

	got, err := v.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	want := []string{"Ada", "Bea", "Zoe"}
	for i, p := range got {
		if p.DisplayName != want[i] {
			t.Fatalf("rank %d: expected %q, got %q", i, want[i], p.DisplayName)
		}
	}
}

func TestLookupResolvesFromCache(t *testing.T) {
	svc := &stubRoster{participants: []domain.Participant{{ID: "u1", DisplayName: "Ada", Score: 5}}}
	v := roster.NewView(svc, "s1", 0)

	if _, ok := v.Lookup("u1"); ok {
		t.Fatalf("cache must be empty before the first refresh")
	}
	if _, err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	p, ok := v.Lookup("u1")
	if !ok || p.DisplayName != "Ada" {
		t.Fatalf("expected Ada in cache, got %+v ok=%v", p, ok)
	}
}

func TestJoinEventRefreshesAndResyncs(t *testing.T) {
	svc := &stubRoster{participants: []domain.Participant{{ID: "u1", DisplayName: "Ada"}}}
	v := roster.NewView(svc, "s1", 0)
	resyncs := 0
	v.OnJoin(func(context.Context) { resyncs++ })

	d := channel.NewDispatcher()
	v.Register(d)

	raw, _ := json.Marshal(domain.Participant{ID: "u1", DisplayName: "Ada"})
	if !d.Dispatch(channel.EventParticipantJoined, raw) {
		t.Fatalf("expected joined handler registered")
	}
	if svc.calls != 1 {
		t.Fatalf("expected one refresh, got %d", svc.calls)
	}
	if resyncs != 1 {
		t.Fatalf("expected newcomer resync hook, got %d", resyncs)
	}
	if len(v.Participants()) != 1 {
		t.Fatalf("expected cached roster after join")
	}
}

func TestLeaveEventRefreshesWithoutResync(t *testing.T) {
	svc := &stubRoster{}
	v := roster.NewView(svc, "s1", 0)
	resyncs := 0
	v.OnJoin(func(context.Context) { resyncs++ })

	d := channel.NewDispatcher()
	v.Register(d)

	raw, _ := json.Marshal(domain.Participant{ID: "u1"})
	if !d.Dispatch(channel.EventParticipantLeft, raw) {
		t.Fatalf("expected left handler registered")
	}
	if svc.calls != 1 {
		t.Fatalf("expected one refresh, got %d", svc.calls)
	}
	if resyncs != 0 {
		t.Fatalf("leave must not trigger the resync hook")
	}
}
