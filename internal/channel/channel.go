package channel

import (
	"context"
	"encoding/json"
	"sync"
)

// Event names carried over the session channel. Control messages flow from the
// teacher client outward; participant and group events flow back in.
const (
	EventSegmentSync       = "segment.sync"
	EventLayerSync         = "layer.sync"
	EventQuestionBroadcast = "question.broadcast"
	EventQuestionReveal    = "question.reveal"
	EventQuestionExtend    = "question.extend"
	EventGroupCreated      = "group.created"
	EventWorkSubmitted     = "work.submitted"
	EventSubmissionGraded  = "submission.graded"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
)

// Sender is the outbound half of the channel contract: a named event is
// pushed to every subscriber, with at-least-once semantics owned by the
// transport underneath.
type Sender interface {
	Send(ctx context.Context, event string, payload any) error
}

// Handler consumes one inbound event payload.
type Handler func(payload json.RawMessage)

// Dispatcher is a typed dispatch table from event name to handler. Handlers
// are registered at connection time and deregistered on teardown, instead of
// ad hoc closures capturing controller state across reconnects.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// On registers the handler for an event name, replacing any previous one.
func (d *Dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = h
}

// Off removes the handler for an event name.
func (d *Dispatcher) Off(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

// Dispatch routes a payload to the registered handler. It reports whether a
// handler was found; unknown events are the caller's problem to log.
func (d *Dispatcher) Dispatch(event string, payload json.RawMessage) bool {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}

// Reset drops every registered handler. Called on channel teardown.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string]Handler)
}
