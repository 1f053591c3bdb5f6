// Package session owns the live-session lifecycle. The machine is the single
// source of truth for whether broadcasting is permitted.
package session

import (
	"context"
	"log"
	"sync"

	"storymap-live/internal/domain"
)

// Service is the external session service confirming every transition before
// local state is updated.
type Service interface {
	Start(ctx context.Context, sessionID string) error
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	End(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
}

type action string

const (
	actionStart  action = "start"
	actionPause  action = "pause"
	actionResume action = "resume"
	actionEnd    action = "end"
)

type edge struct {
	from domain.SessionStatus
	act  action
}

// transitions is the full table; anything else is rejected.
var transitions = map[edge]domain.SessionStatus{
	{domain.StatusNotStarted, actionStart}: domain.StatusRunning,
	{domain.StatusEnded, actionStart}:      domain.StatusRunning,
	{domain.StatusRunning, actionPause}:    domain.StatusPaused,
	{domain.StatusPaused, actionResume}:    domain.StatusRunning,
	{domain.StatusRunning, actionEnd}:      domain.StatusEnded,
	{domain.StatusPaused, actionEnd}:       domain.StatusEnded,
}

// Machine drives one session's lifecycle. Commands come from the single
// control client; a transition already in flight makes any further request a
// no-op until it settles.
type Machine struct {
	svc       Service
	sessionID string

	// onRestart runs after a start from Ended, before broadcasting resumes:
	// the question pointer, cached results and displayed errors are cleared
	// and replay-from-list mode is re-entered.
	onRestart func()
	// onSync runs after a confirmed start or pause so late joiners and
	// resuming viewers re-synchronize to the current position.
	onSync func(ctx context.Context)

	mu       sync.Mutex
	status   domain.SessionStatus
	inFlight bool
}

func NewMachine(svc Service, sessionID string, status domain.SessionStatus) *Machine {
	if status == "" {
		status = domain.StatusNotStarted
	}
	return &Machine{svc: svc, sessionID: sessionID, status: status}
}

// OnRestart registers the restart hook. Must be set before commands flow.
func (m *Machine) OnRestart(fn func()) { m.onRestart = fn }

// OnSync registers the post-start/pause resync hook.
func (m *Machine) OnSync(fn func(ctx context.Context)) { m.onSync = fn }

// Status returns the current lifecycle state.
func (m *Machine) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Running reports whether broadcasting is currently permitted.
func (m *Machine) Running() bool {
	return m.Status() == domain.StatusRunning
}

func (m *Machine) Start(ctx context.Context) error {
	return m.transition(ctx, actionStart, m.svc.Start)
}

func (m *Machine) Pause(ctx context.Context) error {
	return m.transition(ctx, actionPause, m.svc.Pause)
}

func (m *Machine) Resume(ctx context.Context) error {
	return m.transition(ctx, actionResume, m.svc.Resume)
}

func (m *Machine) End(ctx context.Context) error {
	return m.transition(ctx, actionEnd, m.svc.End)
}

func (m *Machine) transition(ctx context.Context, act action, call func(context.Context, string) error) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil
	}
	next, ok := transitions[edge{m.status, act}]
	if !ok {
		m.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	restarting := act == actionStart && m.status == domain.StatusEnded
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	if err := call(ctx, m.sessionID); err != nil {
		// Local state untouched; the same command can simply be retried.
		return err
	}

	m.mu.Lock()
	m.status = next
	m.mu.Unlock()

	if restarting && m.onRestart != nil {
		log.Printf("session %s restarted, clearing question state", m.sessionID)
		m.onRestart()
	}
	if (act == actionStart || act == actionPause) && m.onSync != nil {
		m.onSync(ctx)
	}
	return nil
}
