package memory

import (
	"context"
	"sort"
	"sync"

	"storymap-live/internal/domain"
)

// RosterService is an in-memory implementation of the external roster
// service. Participants are reflected from join/leave traffic, never
// originated here.
type RosterService struct {
	mu      sync.RWMutex
	rosters map[string]map[string]domain.Participant // session id -> participant id
}

func NewRosterService() *RosterService {
	return &RosterService{rosters: make(map[string]map[string]domain.Participant)}
}

func (s *RosterService) GetLeaderboard(_ context.Context, sessionID string, limit int) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := s.rosters[sessionID]
	out := make([]domain.Participant, 0, len(roster))
	for _, p := range roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Join upserts a participant into a session roster.
func (s *RosterService) Join(sessionID string, p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		roster = make(map[string]domain.Participant)
		s.rosters[sessionID] = roster
	}
	if existing, ok := roster[p.ID]; ok {
		existing.DisplayName = p.DisplayName
		roster[p.ID] = existing
		return
	}
	roster[p.ID] = p
}

// Leave removes a participant from a session roster.
func (s *RosterService) Leave(sessionID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rosters[sessionID], participantID)
}

// AddScore accumulates points for a participant.
func (s *RosterService) AddScore(sessionID, participantID string, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[sessionID]
	p, ok := roster[participantID]
	if !ok {
		return
	}
	p.Score += points
	roster[participantID] = p
}
