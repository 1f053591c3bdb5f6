// Package segment converts local playback-position changes into outbound
// sync messages. Segment changes arrive in bursts (timeline scrubbing, rapid
// play/pause), and every send fans out to all subscribers, so requests are
// debounced and identical states are never re-sent.
package segment

import (
	"context"
	"sync"
	"time"

	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
)

// DefaultDebounce bounds fan-out cost during bursts.
const DefaultDebounce = 100 * time.Millisecond

type timerHandle interface {
	Stop() bool
}

type timerFactory func(d time.Duration, fn func()) timerHandle

func realTimer(d time.Duration, fn func()) timerHandle {
	return time.AfterFunc(d, fn)
}

type sentKey struct {
	index   int
	playing bool
}

// Broadcaster debounces and deduplicates segment position broadcasts.
// All state is owned by the single control-client context.
type Broadcaster struct {
	sender   channel.Sender
	debounce time.Duration
	onError  func(error)
	newTimer timerFactory

	mu       sync.Mutex
	lastSent *sentKey
	lastPos  *domain.SegmentPosition
	pending  *domain.SegmentPosition
	timer    timerHandle
}

// NewBroadcaster builds a broadcaster. onError receives send failures; it may
// be nil. A non-positive debounce falls back to DefaultDebounce.
func NewBroadcaster(sender channel.Sender, debounce time.Duration, onError func(error)) *Broadcaster {
	b := newBroadcasterWithTimer(sender, debounce, onError, realTimer)
	return b
}

// newBroadcasterWithTimer is test-only; it injects the debounce timer.
func newBroadcasterWithTimer(sender channel.Sender, debounce time.Duration, onError func(error), factory timerFactory) *Broadcaster {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Broadcaster{
		sender:   sender,
		debounce: debounce,
		onError:  onError,
		newTimer: factory,
	}
}

// Publish requests that subscribers be told the given segment is active.
// Identical (index, isPlaying) pairs to the last successful send are dropped
// outright. Otherwise the debounce timer restarts; only the most recent
// pending request within the window is sent, superseded ones are discarded.
func (b *Broadcaster) Publish(index int, segmentID, segmentName string, isPlaying bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastSent != nil && b.lastSent.index == index && b.lastSent.playing == isPlaying {
		return
	}

	b.pending = &domain.SegmentPosition{
		Index:       index,
		SegmentID:   segmentID,
		SegmentName: segmentName,
		IsPlaying:   isPlaying,
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = b.newTimer(b.debounce, b.flush)
}

// Rebroadcast immediately re-sends the last successfully sent position,
// bypassing debounce and dedup. Used after start/pause transitions and when
// a newcomer joins and needs the full current state. No-op before any send.
func (b *Broadcaster) Rebroadcast(ctx context.Context) {
	b.mu.Lock()
	pos := b.lastPos
	b.mu.Unlock()
	if pos == nil {
		return
	}
	if err := b.sender.Send(ctx, channel.EventSegmentSync, *pos); err != nil {
		b.onError(err)
	}
}

// LastSent returns the last successfully sent position, if any.
func (b *Broadcaster) LastSent() (domain.SegmentPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPos == nil {
		return domain.SegmentPosition{}, false
	}
	return *b.lastPos, true
}

func (b *Broadcaster) flush() {
	b.mu.Lock()
	pos := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()
	if pos == nil {
		return
	}

	if err := b.sender.Send(context.Background(), channel.EventSegmentSync, *pos); err != nil {
		// Cache stays untouched so the next attempt is not suppressed.
		b.onError(err)
		return
	}

	b.mu.Lock()
	b.lastSent = &sentKey{index: pos.Index, playing: pos.IsPlaying}
	b.lastPos = pos
	b.mu.Unlock()
}
