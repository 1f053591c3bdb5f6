package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storymap-live/internal/domain"
)

// GroupService is an in-memory implementation of the external group service.
// Membership records are stored separately from the group documents, mirroring
// the usual collection split.
type GroupService struct {
	mu          sync.Mutex
	groups      map[string]domain.Group
	members     map[string][]domain.GroupMember // group id -> records
	submissions map[string]*domain.Submission
}

func NewGroupService() *GroupService {
	return &GroupService{
		groups:      make(map[string]domain.Group),
		members:     make(map[string][]domain.GroupMember),
		submissions: make(map[string]*domain.Submission),
	}
}

func (s *GroupService) ListGroups(_ context.Context, sessionID string) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Group
	for _, g := range s.groups {
		if g.SessionID == sessionID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *GroupService) GetGroup(_ context.Context, groupID string) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	return g, nil
}

func (s *GroupService) GetGroupMembers(_ context.Context, groupID string) ([]domain.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, domain.ErrGroupNotFound
	}
	records := s.members[groupID]
	out := make([]domain.GroupMember, len(records))
	copy(out, records)
	return out, nil
}

func (s *GroupService) CreateGroup(_ context.Context, g domain.Group) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.GroupID = uuid.New().String()
	if g.LeaderID == "" && len(g.MemberIDs) > 0 {
		g.LeaderID = g.MemberIDs[0]
	}
	s.groups[g.GroupID] = g
	records := make([]domain.GroupMember, len(g.MemberIDs))
	for i, id := range g.MemberIDs {
		// Display names are resolved later; the record starts bare.
		records[i] = domain.GroupMember{ParticipantID: id}
	}
	s.members[g.GroupID] = records
	return g, nil
}

func (s *GroupService) DeleteGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return domain.ErrGroupNotFound
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	return nil
}

func (s *GroupService) ListSubmissions(_ context.Context, sessionID string) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Submission
	for _, sub := range s.submissions {
		g, ok := s.groups[sub.GroupID]
		if ok && g.SessionID == sessionID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *GroupService) GradeSubmission(_ context.Context, submissionID string, score int, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	now := time.Now()
	sub.Score = &score
	sub.Feedback = feedback
	sub.GradedAt = &now
	return nil
}

// AddSubmission records incoming group work, as the channel would deliver it.
func (s *GroupService) AddSubmission(sub domain.Submission) domain.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.New().String()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	s.submissions[sub.SubmissionID] = &sub
	return sub
}

// SetMemberName fills the display name on a membership record, for tests of
// the name-resolution fallback.
func (s *GroupService) SetMemberName(groupID, participantID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.members[groupID] {
		if rec.ParticipantID == participantID {
			s.members[groupID][i].DisplayName = name
		}
	}
}
