package gateway

import (
	"sync"

	"trading-simulator/internal/ringbuf"
)

// Channel is one transport connection as seen by the broadcaster: a
// bounded outbox drained by the connection's writer. Enqueue never blocks;
// when the outbox is full the oldest message is dropped.
type Channel struct {
	id     string
	userID string // empty for anonymous connections

	mu     sync.Mutex
	out    *ringbuf.Ring[[]byte]
	closed bool

	ready chan struct{} // capacity 1, signalled on enqueue
	done  chan struct{}
}

func newChannel(id, userID string, capacity int) *Channel {
	return &Channel{
		id:     id,
		userID: userID,
		out:    ringbuf.New[[]byte](capacity),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Channel) ID() string { return c.id }

// UserID returns the user the connection was opened for.
func (c *Channel) UserID() string { return c.userID }

// enqueue appends msg. It reports false when the channel is closed or an
// older message had to be dropped to make room.
func (c *Channel) enqueue(msg []byte) (ok bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	_, dropped := c.out.Push(msg)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return !dropped
}

// drain removes every queued message, oldest first.
func (c *Channel) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return nil
	}
	msgs := make([][]byte, 0, c.out.Len())
	for {
		m, ok := c.out.Pop()
		if !ok {
			return msgs
		}
		msgs = append(msgs, m)
	}
}

// Ready is signalled whenever messages were enqueued.
func (c *Channel) Ready() <-chan struct{} { return c.ready }

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Pending returns the number of queued messages.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Len()
}

// Dropped returns how many messages were evicted unsent.
func (c *Channel) Dropped() uint64 { return c.out.Evicted() }

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
