package group_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
	"storymap-live/internal/group"
	"storymap-live/internal/infra/memory"
)

type staticResolver map[string]string

func (r staticResolver) Lookup(id string) (domain.Participant, bool) {
	name, ok := r[id]
	return domain.Participant{ID: id, DisplayName: name}, ok
}

func newTestCoordinator(t *testing.T) (*group.Coordinator, *memory.GroupService) {
	t.Helper()
	svc := memory.NewGroupService()
	c := group.NewCoordinator(svc, staticResolver{}, "s1")
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c, svc
}

func TestCreateGroupEnforcesExclusivity(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	g1, err := c.CreateGroup(ctx, "Alpha", "#ff0000", []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("create alpha: %v", err)
	}
	if !c.Assigned("u1") || !c.Assigned("u2") {
		t.Fatalf("members must join the assigned set")
	}

	_, err = c.CreateGroup(ctx, "Beta", "#00ff00", []string{"u2", "u3"})
	if !errors.Is(err, domain.ErrMemberAlreadyAssigned) {
		t.Fatalf("expected ErrMemberAlreadyAssigned, got %v", err)
	}
	if c.Assigned("u3") {
		t.Fatalf("rejected create must not assign anyone")
	}
	if len(c.Groups()) != 1 {
		t.Fatalf("rejected create must not alter the roster, got %d groups", len(c.Groups()))
	}
	for _, g := range c.Groups() {
		if g.GroupID == g1.GroupID && len(g.MemberIDs) != 2 {
			t.Fatalf("existing membership must be untouched")
		}
	}
}

func TestCreateGroupRejectsEmptyMemberList(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.CreateGroup(context.Background(), "Empty", "#fff", nil); !errors.Is(err, domain.ErrEmptyGroup) {
		t.Fatalf("expected ErrEmptyGroup, got %v", err)
	}
}

func TestDeleteGroupReleasesMembers(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.CreateGroup(ctx, "Alpha", "#f00", []string{"u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.DeleteGroup(ctx, g.GroupID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.Assigned("u1") {
		t.Fatalf("deleting a group must release its members")
	}
	if _, err := c.CreateGroup(ctx, "Beta", "#0f0", []string{"u1"}); err != nil {
		t.Fatalf("released member must be assignable again: %v", err)
	}
}

func TestGradeThenRefetchObservesScore(t *testing.T) {
	c, svc := newTestCoordinator(t)
	ctx := context.Background()

	g, _ := c.CreateGroup(ctx, "Alpha", "#f00", []string{"u1"})
	sub := svc.AddSubmission(domain.Submission{GroupID: g.GroupID, Content: "our map notes"})

	if err := c.GradeSubmission(ctx, sub.SubmissionID, 8, "solid work"); err != nil {
		t.Fatalf("grade: %v", err)
	}

	// No optimistic mutation: the grade shows up only after a re-fetch.
	subs, err := c.RefreshSubmissions(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(subs) != 1 || subs[0].Score == nil || *subs[0].Score != 8 || subs[0].GradedAt == nil {
		t.Fatalf("expected graded submission after refetch, got %+v", subs)
	}
}

func TestGradeUnknownSubmission(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.GradeSubmission(context.Background(), "missing", 5, ""); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func TestGroupDetailNameFallback(t *testing.T) {
	svc := memory.NewGroupService()
	resolver := staticResolver{"u2": "Bea"}
	c := group.NewCoordinator(svc, resolver, "s1")
	_ = c.Load(context.Background())

	g, err := c.CreateGroup(context.Background(), "Alpha", "#f00", []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// First tier: explicit name on the membership record.
	svc.SetMemberName(g.GroupID, "u1", "Ada")

	detail, err := c.GroupDetail(context.Background(), g.GroupID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	want := []string{"Ada", "Bea", "Member 3"}
	for i, member := range detail.Members {
		if member.DisplayName != want[i] {
			t.Fatalf("member %d: expected %q, got %q", i, want[i], member.DisplayName)
		}
	}
}

func TestChannelEventsUpdateLocalRoster(t *testing.T) {
	c, _ := newTestCoordinator(t)
	d := channel.NewDispatcher()
	c.Register(d)

	g := domain.Group{GroupID: "g-remote", SessionID: "s1", Name: "Remote", MemberIDs: []string{"u9"}}
	raw, _ := json.Marshal(g)
	if !d.Dispatch(channel.EventGroupCreated, raw) {
		t.Fatalf("expected group created handler registered")
	}
	if len(c.Groups()) != 1 || !c.Assigned("u9") {
		t.Fatalf("expected remote group appended and members assigned")
	}

	sub := domain.Submission{SubmissionID: "sub-1", GroupID: "g-remote", Content: "essay"}
	raw, _ = json.Marshal(sub)
	if !d.Dispatch(channel.EventWorkSubmitted, raw) {
		t.Fatalf("expected work submitted handler registered")
	}
	if len(c.Submissions()) != 1 {
		t.Fatalf("expected submission appended")
	}

	// Graded events are observed but never merged.
	score := 10
	graded := domain.Submission{SubmissionID: "sub-1", Score: &score}
	raw, _ = json.Marshal(graded)
	if !d.Dispatch(channel.EventSubmissionGraded, raw) {
		t.Fatalf("expected graded handler registered")
	}
	if c.Submissions()[0].Score != nil {
		t.Fatalf("graded event must not mutate local state")
	}
}
