// Package roster keeps a read-mostly cache of the participant list, which
// doubles as the leaderboard.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
)

// Service is the external roster service.
type Service interface {
	GetLeaderboard(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error)
}

// View caches the roster and refreshes it on demand and on join/leave
// notifications. The coordinator never originates participants.
type View struct {
	svc       Service
	sessionID string
	limit     int

	// onJoin re-publishes the current segment position and base-layer
	// selection: a newcomer needs the full current state, not just the
	// delta that triggered the last send.
	onJoin func(ctx context.Context)

	mu           sync.RWMutex
	participants []domain.Participant
	byID         map[string]domain.Participant
}

func NewView(svc Service, sessionID string, limit int) *View {
	return &View{
		svc:       svc,
		sessionID: sessionID,
		limit:     limit,
		byID:      make(map[string]domain.Participant),
	}
}

// OnJoin registers the newcomer re-sync hook.
func (v *View) OnJoin(fn func(ctx context.Context)) { v.onJoin = fn }

// Refresh fetches the full participant list, ordered by score descending
// with name as the tie-breaker when the service returns no rank order.
func (v *View) Refresh(ctx context.Context) ([]domain.Participant, error) {
	participants, err := v.svc.GetLeaderboard(ctx, v.sessionID, v.limit)
	if err != nil {
		return nil, fmt.Errorf("refresh roster: %w", err)
	}

	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].Score != participants[j].Score {
			return participants[i].Score > participants[j].Score
		}
		return participants[i].DisplayName < participants[j].DisplayName
	})

	v.mu.Lock()
	v.participants = participants
	v.byID = make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		v.byID[p.ID] = p
	}
	v.mu.Unlock()
	return participants, nil
}

// Lookup resolves a participant from the cache by id.
func (v *View) Lookup(id string) (domain.Participant, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.byID[id]
	return p, ok
}

// Participants returns the cached leaderboard snapshot.
func (v *View) Participants() []domain.Participant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Participant, len(v.participants))
	copy(out, v.participants)
	return out
}

// Register wires join/leave notifications into the dispatcher.
func (v *View) Register(d *channel.Dispatcher) {
	d.On(channel.EventParticipantJoined, v.handleJoined)
	d.On(channel.EventParticipantLeft, v.handleLeft)
}

func (v *View) handleJoined(payload json.RawMessage) {
	var p domain.Participant
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("participant joined event: bad payload: %v", err)
		return
	}
	ctx := context.Background()
	if _, err := v.Refresh(ctx); err != nil {
		log.Printf("roster refresh after join: %v", err)
	}
	if v.onJoin != nil {
		v.onJoin(ctx)
	}
}

func (v *View) handleLeft(payload json.RawMessage) {
	var p domain.Participant
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("participant left event: bad payload: %v", err)
		return
	}
	if _, err := v.Refresh(context.Background()); err != nil {
		log.Printf("roster refresh after leave: %v", err)
	}
}
