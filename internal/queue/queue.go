// Package queue buffers inbound guild message events between the gateway
// handlers and the forwarding workers.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultMaxSize = 1000

// QueuedMessage is a message-created event captured from the gateway.
type QueuedMessage struct {
	ID             string    `json:"id"`
	GuildID        string    `json:"guild_id"`
	ChannelID      string    `json:"channel_id"`
	ChannelName    string    `json:"channel_name"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	AuthorIsBot    bool      `json:"author_is_bot"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Formatted renders the event as "[#channel] @user: text" for logs.
func (m QueuedMessage) Formatted() string {
	return fmt.Sprintf("[#%s] @%s: %s", m.ChannelName, m.AuthorUsername, m.Content)
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize caps the number of buffered events. Non-positive values keep
// the default of 1000.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// ring is a fixed-capacity circular buffer. It is not safe for concurrent use.
type ring struct {
	slots []QueuedMessage
	start int
	size  int
}

func (r *ring) full() bool { return r.size == len(r.slots) }

// push appends msg, overwriting the oldest entry when full. It reports
// whether an entry was overwritten.
func (r *ring) push(msg QueuedMessage) bool {
	if r.full() {
		r.slots[r.start] = msg
		r.start = (r.start + 1) % len(r.slots)
		return true
	}
	r.slots[(r.start+r.size)%len(r.slots)] = msg
	r.size++
	return false
}

// popN removes up to n entries from the front; n <= 0 removes all of them.
func (r *ring) popN(n int) []QueuedMessage {
	if r.size == 0 {
		return nil
	}
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]QueuedMessage, n)
	for i := range out {
		idx := (r.start + i) % len(r.slots)
		out[i] = r.slots[idx]
		r.slots[idx] = QueuedMessage{}
	}
	r.start = (r.start + n) % len(r.slots)
	r.size -= n
	return out
}

// Queue is a bounded FIFO of events that drops the oldest event on
// overflow. Consumers block in Poll until an event arrives.
type Queue struct {
	maxSize int

	mu      sync.Mutex
	buf     ring
	dropped uint64
	// wake is closed and replaced on every Enqueue.
	wake chan struct{}
}

// New returns an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{maxSize: defaultMaxSize, wake: make(chan struct{})}
	for _, opt := range opts {
		opt(q)
	}
	q.buf.slots = make([]QueuedMessage, q.maxSize)
	return q
}

// Enqueue appends msg without blocking and wakes every waiting Poll. It
// reports whether the oldest buffered event was dropped to make room.
func (q *Queue) Enqueue(msg QueuedMessage) (dropped bool) {
	q.mu.Lock()
	dropped = q.buf.push(msg)
	if dropped {
		q.dropped++
	}
	wake := q.wake
	q.wake = make(chan struct{})
	q.mu.Unlock()

	close(wake)
	return dropped
}

// Poll removes and returns up to limit events, oldest first, waiting up to
// timeout for the first one. A limit of zero or less takes everything
// buffered. It returns nil when the timeout expires or ctx is done first.
// Each event is handed to exactly one caller.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration, limit int) []QueuedMessage {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		msgs := q.buf.popN(limit)
		wake := q.wake
		q.mu.Unlock()
		if msgs != nil {
			return msgs
		}

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return nil
		case <-wake:
		}
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.size
}

// Dropped returns how many events have been discarded on overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
