package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Message is the envelope fanned out to subscribers.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ErrBusClosed is returned by Send after Close.
var ErrBusClosed = errors.New("channel bus closed")

// Bus is an in-process fan-out implementation of Sender, scoped to one
// session. It is constructed and torn down explicitly; the WebSocket
// transport bridges it to real subscribers.
type Bus struct {
	mu          sync.Mutex
	closed      bool
	subscribers map[chan Message]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Message]struct{})}
}

// Send marshals the payload and delivers it to every subscriber. A slow
// subscriber has its oldest queued message dropped rather than blocking the
// broadcast; subscribers only ever need the latest state.
func (b *Bus) Send(_ context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Event: event, Payload: raw}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- msg
		}
	}
	return nil
}

// Subscribe returns a receive channel and a cancel function. The caller must
// invoke cancel to avoid leaks.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 8)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
