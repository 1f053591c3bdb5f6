// Package question advances, extends and reveals the question currently
// broadcast to a session. Progression normally follows the server-side queue;
// once that queue is exhausted the controller degrades to replaying from its
// locally cached list instead of surfacing an error.
package question

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
)

// DefaultExtendWindow suppresses accidental double-activation of extend.
const DefaultExtendWindow = 1500 * time.Millisecond

// Service is the external question-bank service owning the queue.
type Service interface {
	GetQueue(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
	AdvanceQueue(ctx context.Context, sessionID string) error
	SkipCurrent(ctx context.Context, sessionID string) error
	ExtendTime(ctx context.Context, sessionQuestionID string, seconds int) error
	GetResponses(ctx context.Context, broadcastID string) ([]domain.ParticipantAnswer, error)
}

// Publisher pushes question events through the channel. PublishQuestion
// returns the server-issued broadcast identifier carried on the ack.
type Publisher interface {
	PublishQuestion(ctx context.Context, q domain.BroadcastQuestion) (string, error)
	RevealAnswer(ctx context.Context, broadcastID, answer string) error
}

// State is the per-session broadcast phase.
type State string

const (
	StateIdle         State = "idle"
	StateBroadcasting State = "broadcasting"
	StateRevealing    State = "revealing_results"
)

type extendKey struct {
	questionID string
	seconds    int
}

// Controller tracks the active question by index into the loaded queue.
// Commands come from the single control client.
type Controller struct {
	svc       Service
	publisher Publisher
	sender    channel.Sender
	sessionID string
	running   func() bool
	now       func() time.Time
	window    time.Duration

	mu          sync.Mutex
	queue       []domain.SessionQuestion
	current     int
	state       State
	broadcastID string
	replay      bool
	result      *domain.QuestionResult
	lastExtend  map[extendKey]time.Time
	busy        bool
}

// NewController builds a controller gated on running (the session state
// machine's Running check).
func NewController(svc Service, publisher Publisher, sender channel.Sender, sessionID string, running func() bool) *Controller {
	return &Controller{
		svc:        svc,
		publisher:  publisher,
		sender:     sender,
		sessionID:  sessionID,
		running:    running,
		now:        time.Now,
		window:     DefaultExtendWindow,
		current:    -1,
		state:      StateIdle,
		lastExtend: make(map[extendKey]time.Time),
	}
}

// SetExtendWindow overrides the extend dedup window. Non-positive values are
// ignored.
func (c *Controller) SetExtendWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.window = d
	c.mu.Unlock()
}

// LoadQueue fetches the session's ordered question list. The list is the
// replay source after the server queue is exhausted, so it is kept whole.
func (c *Controller) LoadQueue(ctx context.Context) error {
	queue, err := c.svc.GetQueue(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("load question queue: %w", err)
	}
	c.mu.Lock()
	c.queue = queue
	c.mu.Unlock()
	return nil
}

// State returns the current broadcast phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentIndex returns the index of the question currently broadcast, or -1.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Current returns the question currently broadcast, if any.
func (c *Controller) Current() (domain.SessionQuestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.current >= len(c.queue) {
		return domain.SessionQuestion{}, false
	}
	return c.queue[c.current], true
}

// BroadcastID returns the acknowledged broadcast identifier, empty until the
// latest broadcast has been acked.
func (c *Controller) BroadcastID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcastID
}

// ReplayFromList reports whether progression is driven from the local list.
func (c *Controller) ReplayFromList() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replay
}

// Reset clears the active-question pointer, cached results and extend
// history, and re-enters replay mode. Called when a session restarts after
// Ended: the server-side queue is assumed exhausted.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = -1
	c.state = StateIdle
	c.broadcastID = ""
	c.result = nil
	c.replay = true
	c.lastExtend = make(map[extendKey]time.Time)
}

// Broadcast pushes the question at index to all subscribers. Re-broadcasting
// the current question is allowed and simply restarts subscriber timers. Any
// held result is discarded. The broadcast identifier is empty until the ack
// arrives, which disables Extend in the meantime.
func (c *Controller) Broadcast(ctx context.Context, index int) error {
	if !c.running() {
		return domain.ErrSessionNotRunning
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil
	}
	if index < 0 || index >= len(c.queue) {
		c.mu.Unlock()
		return domain.ErrQuestionNotFound
	}
	sq := c.queue[index]
	c.busy = true
	c.broadcastID = ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	id, err := c.publisher.PublishQuestion(ctx, sq.Question.Sanitized())
	if err != nil {
		return fmt.Errorf("broadcast question: %w", err)
	}

	c.mu.Lock()
	c.current = index
	c.state = StateBroadcasting
	c.broadcastID = id
	c.result = nil
	c.mu.Unlock()
	return nil
}

// Next advances to the following question. Past the end it is inert: no call
// is made and no error raised. When the server queue reports exhaustion the
// controller flips to replay mode and broadcasts the locally computed next
// question directly; once in replay mode the advance call is skipped outright.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	last := len(c.queue) - 1
	if last < 0 || c.current >= last {
		c.mu.Unlock()
		return nil
	}
	next := c.current + 1
	replay := c.replay
	c.mu.Unlock()

	// From idle the server cursor already sits at the head of the queue;
	// advancing would silently swallow the first question.
	if replay || next == 0 {
		return c.Broadcast(ctx, next)
	}
	if err := c.svc.AdvanceQueue(ctx, c.sessionID); err != nil {
		if !errors.Is(err, domain.ErrNoMoreQuestions) {
			return fmt.Errorf("advance queue: %w", err)
		}
		log.Printf("session %s: server queue exhausted, replaying from local list", c.sessionID)
		c.mu.Lock()
		c.replay = true
		c.mu.Unlock()
	}
	return c.Broadcast(ctx, next)
}

// Skip drops the current question and moves on. Unlike Next, skipping while
// already at the last question is an invalid action, rejected with an error
// the caller surfaces to the user.
func (c *Controller) Skip(ctx context.Context) error {
	c.mu.Lock()
	last := len(c.queue) - 1
	if last < 0 || c.current >= last {
		c.mu.Unlock()
		return domain.ErrAlreadyLastQuestion
	}
	next := c.current + 1
	replay := c.replay
	c.mu.Unlock()

	if replay || next == 0 {
		return c.Broadcast(ctx, next)
	}
	if err := c.svc.SkipCurrent(ctx, c.sessionID); err != nil {
		if !errors.Is(err, domain.ErrNoMoreQuestions) {
			return fmt.Errorf("skip question: %w", err)
		}
		c.mu.Lock()
		c.replay = true
		c.mu.Unlock()
	}
	return c.Broadcast(ctx, next)
}

// Extend adds seconds to the running timer of the acknowledged broadcast. A
// repeat of the same (question, seconds) pair inside the dedup window is
// dropped silently; double-clicks must not hit the external service twice.
func (c *Controller) Extend(ctx context.Context, seconds int) error {
	c.mu.Lock()
	if c.broadcastID == "" || c.current < 0 {
		c.mu.Unlock()
		return domain.ErrNoActiveBroadcast
	}
	sq := c.queue[c.current]
	key := extendKey{questionID: sq.QuestionID, seconds: seconds}
	if at, ok := c.lastExtend[key]; ok && c.now().Sub(at) < c.window {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.svc.ExtendTime(ctx, sq.SessionQuestionID, seconds); err != nil {
		// The dedup entry is only recorded on success so a retry after a
		// transient failure is not swallowed.
		return fmt.Errorf("extend time: %w", err)
	}

	c.mu.Lock()
	c.lastExtend[key] = c.now()
	broadcastID := c.broadcastID
	c.mu.Unlock()

	if err := c.sender.Send(ctx, channel.EventQuestionExtend, map[string]any{
		"broadcastId": broadcastID,
		"seconds":     seconds,
	}); err != nil {
		log.Printf("extend notification failed: %v", err)
	}
	return nil
}

// ShowResults reveals the correct answer to subscribers and moves the
// controller into the revealing phase.
func (c *Controller) ShowResults(ctx context.Context) error {
	c.mu.Lock()
	if c.current < 0 || c.broadcastID == "" {
		c.mu.Unlock()
		return domain.ErrNoActiveBroadcast
	}
	sq := c.queue[c.current]
	broadcastID := c.broadcastID
	c.mu.Unlock()

	answer := CorrectAnswerText(sq.Question)
	if err := c.publisher.RevealAnswer(ctx, broadcastID, answer); err != nil {
		return fmt.Errorf("reveal answer: %w", err)
	}

	c.mu.Lock()
	c.state = StateRevealing
	if c.result == nil {
		c.result = &domain.QuestionResult{BroadcastID: broadcastID}
	}
	c.result.CorrectAnswer = answer
	c.mu.Unlock()
	return nil
}

// LoadResponses pulls all subscriber answers for the current broadcast. This
// feeds the response-review view and is not part of the broadcast path.
func (c *Controller) LoadResponses(ctx context.Context) ([]domain.ParticipantAnswer, error) {
	c.mu.Lock()
	broadcastID := c.broadcastID
	c.mu.Unlock()
	if broadcastID == "" {
		return nil, domain.ErrNoActiveBroadcast
	}

	answers, err := c.svc.GetResponses(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}

	c.mu.Lock()
	if c.result == nil {
		c.result = &domain.QuestionResult{BroadcastID: broadcastID}
	}
	c.result.Answers = answers
	c.mu.Unlock()
	return answers, nil
}

// Result returns the held result for the current broadcast, if any.
func (c *Controller) Result() (domain.QuestionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return domain.QuestionResult{}, false
	}
	return *c.result, true
}

// CorrectAnswerText renders the correct answer in the form appropriate to the
// question type: the exact text for free-text questions, the option marked
// correct for choice questions, and a coordinate-plus-tolerance string for
// location-pin questions.
func CorrectAnswerText(q domain.BroadcastQuestion) string {
	switch q.Type {
	case domain.QuestionChoice:
		for _, opt := range q.Options {
			if opt.Correct {
				return opt.Text
			}
		}
		return ""
	case domain.QuestionLocation:
		return fmt.Sprintf("%.5f, %.5f (±%.0f m)", q.Latitude, q.Longitude, q.ToleranceM)
	default:
		return q.Answer
	}
}
