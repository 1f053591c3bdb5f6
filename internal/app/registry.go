package app

import (
	"context"
	"fmt"
	"sync"
)

// Registry hands out one control plane per session, creating it lazily on
// first use. The session must exist in the session service.
type Registry struct {
	svcs Services
	opts Options

	mu       sync.Mutex
	controls map[string]*Control
}

func NewRegistry(svcs Services, opts Options) *Registry {
	return &Registry{
		svcs:     svcs,
		opts:     opts,
		controls: make(map[string]*Control),
	}
}

// GetOrCreate returns the control plane for a session, wiring a new one
// against the external services on first request.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*Control, error) {
	r.mu.Lock()
	if c, ok := r.controls[sessionID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	sess, err := r.svcs.Session.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	c := NewControl(sess.ID, sess.Status, r.svcs, r.opts)
	if err := c.Questions.LoadQueue(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Groups.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.controls[sessionID]; ok {
		r.mu.Unlock()
		c.Close()
		return existing, nil
	}
	r.controls[sessionID] = c
	r.mu.Unlock()
	return c, nil
}

// Get returns an existing control plane without creating one.
func (r *Registry) Get(sessionID string) (*Control, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[sessionID]
	return c, ok
}

// Drop tears down and forgets a session's control plane.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	c, ok := r.controls[sessionID]
	delete(r.controls, sessionID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Close tears down every control plane.
func (r *Registry) Close() {
	r.mu.Lock()
	controls := r.controls
	r.controls = make(map[string]*Control)
	r.mu.Unlock()
	for _, c := range controls {
		c.Close()
	}
}
