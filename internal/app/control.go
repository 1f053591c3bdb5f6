// Package app wires the session state machine, the segment broadcaster, the
// question controller, the group coordinator and the roster view onto their
// channels. It is the single control-client context that owns all of them.
package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
	"storymap-live/internal/group"
	"storymap-live/internal/question"
	"storymap-live/internal/roster"
	"storymap-live/internal/segment"
	"storymap-live/internal/session"
)

// Services groups the external collaborators the control plane depends on.
type Services struct {
	Session  session.Service
	Question question.Service
	Group    group.Service
	Roster   roster.Service
}

// Options tunes the controllers. Zero values fall back to defaults.
type Options struct {
	Debounce        time.Duration
	ExtendWindow    time.Duration
	LeaderboardSize int
}

// Control is the session control plane for one live session. The session
// channel carries sync and question traffic; a second channel instance
// carries membership and submission traffic.
type Control struct {
	SessionID string

	Machine   *session.Machine
	Segments  *segment.Broadcaster
	Questions *question.Controller
	Groups    *group.Coordinator
	Roster    *roster.View

	sessionBus    *channel.Bus
	groupBus      *channel.Bus
	sessionEvents *channel.Dispatcher
	groupEvents   *channel.Dispatcher

	mu        sync.Mutex
	baseLayer string
	lastErr   string
}

// NewControl builds and wires a control plane for the given session.
func NewControl(sessionID string, status domain.SessionStatus, svcs Services, opts Options) *Control {
	c := &Control{
		SessionID:     sessionID,
		sessionBus:    channel.NewBus(),
		groupBus:      channel.NewBus(),
		sessionEvents: channel.NewDispatcher(),
		groupEvents:   channel.NewDispatcher(),
	}

	limit := opts.LeaderboardSize
	if limit <= 0 {
		limit = 50
	}

	c.Machine = session.NewMachine(svcs.Session, sessionID, status)
	c.Segments = segment.NewBroadcaster(c.sessionBus, opts.Debounce, c.reportError)
	c.Questions = question.NewController(svcs.Question, &busPublisher{bus: c.sessionBus}, c.sessionBus, sessionID, c.Machine.Running)
	c.Questions.SetExtendWindow(opts.ExtendWindow)
	c.Roster = roster.NewView(svcs.Roster, sessionID, limit)
	c.Groups = group.NewCoordinator(svcs.Group, c.Roster, sessionID)

	// Restart after Ended: the server queue is spent, so question state is
	// cleared and replay-from-list mode re-entered before anything is sent.
	c.Machine.OnRestart(func() {
		c.Questions.Reset()
		c.ClearError()
	})
	c.Machine.OnSync(c.Resync)
	c.Roster.OnJoin(c.Resync)

	c.Roster.Register(c.sessionEvents)
	c.Groups.Register(c.groupEvents)

	return c
}

// SessionBus is the channel instance carrying sync and question traffic.
func (c *Control) SessionBus() *channel.Bus { return c.sessionBus }

// GroupBus is the second channel instance carrying membership traffic.
func (c *Control) GroupBus() *channel.Bus { return c.groupBus }

// SessionEvents is the inbound dispatcher for the session channel.
func (c *Control) SessionEvents() *channel.Dispatcher { return c.sessionEvents }

// GroupEvents is the inbound dispatcher for the membership channel.
func (c *Control) GroupEvents() *channel.Dispatcher { return c.groupEvents }

// SetBaseLayer broadcasts the selected map base layer and remembers it for
// newcomer re-sync.
func (c *Control) SetBaseLayer(ctx context.Context, layerID string) {
	c.mu.Lock()
	c.baseLayer = layerID
	c.mu.Unlock()
	if err := c.sessionBus.Send(ctx, channel.EventLayerSync, map[string]string{"layerId": layerID}); err != nil {
		c.reportError(err)
	}
}

// Resync re-publishes the last segment position and the base-layer choice.
// Runs after start/pause transitions, participant joins, and reconnects.
func (c *Control) Resync(ctx context.Context) {
	c.Segments.Rebroadcast(ctx)
	c.mu.Lock()
	layer := c.baseLayer
	c.mu.Unlock()
	if layer == "" {
		return
	}
	if err := c.sessionBus.Send(ctx, channel.EventLayerSync, map[string]string{"layerId": layer}); err != nil {
		c.reportError(err)
	}
}

// LastError returns the most recent user-visible failure message, if any.
func (c *Control) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearError wipes the displayed error.
func (c *Control) ClearError() {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *Control) reportError(err error) {
	log.Printf("session %s: %v", c.SessionID, err)
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// Close tears down both channels and their handler tables.
func (c *Control) Close() {
	c.sessionEvents.Reset()
	c.groupEvents.Reset()
	c.sessionBus.Close()
	c.groupBus.Close()
}

// busPublisher adapts the bus to the question publisher contract. The ack id
// stands in for the server-issued broadcast identifier.
type busPublisher struct {
	bus *channel.Bus
}

func (p *busPublisher) PublishQuestion(ctx context.Context, q domain.BroadcastQuestion) (string, error) {
	id := uuid.New().String()
	err := p.bus.Send(ctx, channel.EventQuestionBroadcast, map[string]any{
		"broadcastId": id,
		"question":    q,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *busPublisher) RevealAnswer(ctx context.Context, broadcastID, answer string) error {
	return p.bus.Send(ctx, channel.EventQuestionReveal, map[string]string{
		"broadcastId":   broadcastID,
		"correctAnswer": answer,
	})
}
