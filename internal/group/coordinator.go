// Package group coordinates small-group collaboration in a session: group
// formation under the one-group-per-participant invariant, work submission
// intake, and grading.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
)

// Service is the external group service. Membership records live apart from
// the group documents, so member names are fetched separately.
type Service interface {
	ListGroups(ctx context.Context, sessionID string) ([]domain.Group, error)
	GetGroup(ctx context.Context, groupID string) (domain.Group, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error)
	CreateGroup(ctx context.Context, g domain.Group) (domain.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	ListSubmissions(ctx context.Context, sessionID string) ([]domain.Submission, error)
	GradeSubmission(ctx context.Context, submissionID string, score int, feedback string) error
}

// NameResolver looks a participant up in the roster cache.
type NameResolver interface {
	Lookup(id string) (domain.Participant, bool)
}

// Detail is a group joined with its resolved member names.
type Detail struct {
	Group   domain.Group         `json:"group"`
	Members []domain.GroupMember `json:"members"`
}

// Coordinator owns the session-wide assigned-member set. Exclusivity is
// enforced here client-side; the server should enforce it too, but the
// coordinator must not rely on that.
type Coordinator struct {
	svc       Service
	resolver  NameResolver
	sessionID string

	mu          sync.Mutex
	groups      []domain.Group
	submissions []domain.Submission
	assigned    map[string]string // participant id -> group id
	busy        bool
}

func NewCoordinator(svc Service, resolver NameResolver, sessionID string) *Coordinator {
	return &Coordinator{
		svc:       svc,
		resolver:  resolver,
		sessionID: sessionID,
		assigned:  make(map[string]string),
	}
}

// Load pulls the current groups and submissions and rebuilds the assigned set.
func (c *Coordinator) Load(ctx context.Context) error {
	groups, err := c.svc.ListGroups(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	submissions, err := c.svc.ListSubmissions(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = groups
	c.submissions = submissions
	c.assigned = make(map[string]string)
	for _, g := range groups {
		for _, id := range g.MemberIDs {
			c.assigned[id] = g.GroupID
		}
	}
	return nil
}

// CreateGroup forms a new group from the given members. It rejects an empty
// member list and any member already assigned to a group in this session,
// before any network call. On success the members join the assigned set.
func (c *Coordinator) CreateGroup(ctx context.Context, name, color string, memberIDs []string) (domain.Group, error) {
	if len(memberIDs) == 0 {
		return domain.Group{}, domain.ErrEmptyGroup
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return domain.Group{}, nil
	}
	for _, id := range memberIDs {
		if gid, ok := c.assigned[id]; ok {
			c.mu.Unlock()
			return domain.Group{}, fmt.Errorf("%w: %s (group %s)", domain.ErrMemberAlreadyAssigned, id, gid)
		}
	}
	c.busy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	created, err := c.svc.CreateGroup(ctx, domain.Group{
		SessionID: c.sessionID,
		Name:      name,
		Color:     color,
		MemberIDs: memberIDs,
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}

	c.mu.Lock()
	c.upsertLocked(created)
	c.mu.Unlock()
	return created, nil
}

// DeleteGroup removes a group. Its former members are released back into the
// assignable pool; holding them locked would make the exclusivity invariant
// unsatisfiable once groups are torn down and rebuilt mid-session.
func (c *Coordinator) DeleteGroup(ctx context.Context, groupID string) error {
	if err := c.svc.DeleteGroup(ctx, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, g := range c.groups {
		if g.GroupID != groupID {
			continue
		}
		for _, id := range g.MemberIDs {
			delete(c.assigned, id)
		}
		c.groups = append(c.groups[:i], c.groups[i+1:]...)
		break
	}
	return nil
}

// GradeSubmission is a single round trip. There is no optimistic local
// mutation: the caller re-fetches the submission list afterward, so a grade
// the grading service rejects is never shown.
func (c *Coordinator) GradeSubmission(ctx context.Context, submissionID string, score int, feedback string) error {
	if err := c.svc.GradeSubmission(ctx, submissionID, score, feedback); err != nil {
		return fmt.Errorf("grade submission: %w", err)
	}
	return nil
}

// RefreshSubmissions re-fetches the submission list, the authoritative view
// of graded state.
func (c *Coordinator) RefreshSubmissions(ctx context.Context) ([]domain.Submission, error) {
	submissions, err := c.svc.ListSubmissions(ctx, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	c.mu.Lock()
	c.submissions = submissions
	c.mu.Unlock()
	return submissions, nil
}

// GroupDetail fetches a group with member display names resolved through a
// three-tier fallback: the membership record's own name, then the roster
// cache, then a synthesized placeholder. Membership records may be written
// before the roster cache is warm.
func (c *Coordinator) GroupDetail(ctx context.Context, groupID string) (Detail, error) {
	g, err := c.svc.GetGroup(ctx, groupID)
	if err != nil {
		return Detail{}, fmt.Errorf("get group: %w", err)
	}
	records, err := c.svc.GetGroupMembers(ctx, groupID)
	if err != nil {
		return Detail{}, fmt.Errorf("get group members: %w", err)
	}

	members := make([]domain.GroupMember, len(records))
	for i, rec := range records {
		name := rec.DisplayName
		if name == "" && c.resolver != nil {
			if p, ok := c.resolver.Lookup(rec.ParticipantID); ok {
				name = p.DisplayName
			}
		}
		if name == "" {
			name = fmt.Sprintf("Member %d", i+1)
		}
		members[i] = domain.GroupMember{ParticipantID: rec.ParticipantID, DisplayName: name}
	}
	return Detail{Group: g, Members: members}, nil
}

// Groups returns a snapshot of the local roster of groups.
func (c *Coordinator) Groups() []domain.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// Submissions returns a snapshot of the local submission list.
func (c *Coordinator) Submissions() []domain.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Submission, len(c.submissions))
	copy(out, c.submissions)
	return out
}

// Assigned reports whether a participant already belongs to a group.
func (c *Coordinator) Assigned(participantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.assigned[participantID]
	return ok
}

// Register wires the coordinator's inbound handlers into the membership
// channel's dispatcher.
func (c *Coordinator) Register(d *channel.Dispatcher) {
	d.On(channel.EventGroupCreated, c.handleGroupCreated)
	d.On(channel.EventWorkSubmitted, c.handleWorkSubmitted)
	d.On(channel.EventSubmissionGraded, c.handleSubmissionGraded)
}

func (c *Coordinator) handleGroupCreated(payload json.RawMessage) {
	var g domain.Group
	if err := json.Unmarshal(payload, &g); err != nil {
		log.Printf("group created event: bad payload: %v", err)
		return
	}
	if g.SessionID == "" {
		g.SessionID = c.sessionID
	}
	c.mu.Lock()
	c.upsertLocked(g)
	c.mu.Unlock()
}

func (c *Coordinator) handleWorkSubmitted(payload json.RawMessage) {
	var s domain.Submission
	if err := json.Unmarshal(payload, &s); err != nil {
		log.Printf("work submitted event: bad payload: %v", err)
		return
	}
	c.mu.Lock()
	c.submissions = append(c.submissions, s)
	c.mu.Unlock()
}

// handleSubmissionGraded only logs. Graded state is re-fetched on demand
// rather than merged from the event payload, so a partial payload can never
// diverge the local view.
func (c *Coordinator) handleSubmissionGraded(payload json.RawMessage) {
	var s domain.Submission
	if err := json.Unmarshal(payload, &s); err != nil {
		log.Printf("submission graded event: bad payload: %v", err)
		return
	}
	log.Printf("submission %s graded, refetch to observe", s.SubmissionID)
}

func (c *Coordinator) upsertLocked(g domain.Group) {
	for _, id := range g.MemberIDs {
		c.assigned[id] = g.GroupID
	}
	for i, existing := range c.groups {
		if existing.GroupID == g.GroupID {
			c.groups[i] = g
			return
		}
	}
	c.groups = append(c.groups, g)
}
