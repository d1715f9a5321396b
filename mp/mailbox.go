package mp

import (
	"context"
	"sync"

	"github.com/xraph/cohort/wire"
)

// mailbox queues inbound frames for one tag until a receiver takes them.
type mailbox struct {
	mu     sync.Mutex
	queue  []*wire.Frame
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{})}
}

// push appends f and wakes every waiting receiver.
func (m *mailbox) push(f *wire.Frame) {
	m.mu.Lock()
	m.queue = append(m.queue, f)
	close(m.signal)
	m.signal = make(chan struct{})
	m.mu.Unlock()
}

// take removes and returns the oldest frame accepted by match, blocking
// until one arrives, ctx is done or done is closed.
func (m *mailbox) take(ctx context.Context, done <-chan struct{}, match func(*wire.Frame) bool) (*wire.Frame, error) {
	for {
		m.mu.Lock()
		for i, f := range m.queue {
			if match(f) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.mu.Unlock()
				return f, nil
			}
		}
		sig := m.signal
		m.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, ErrStopped
		}
	}
}

// len returns the number of queued frames.
func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
