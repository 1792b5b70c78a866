package alerts

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LiveUpdate is one event pushed to live subscribers. Value is the
// confidence expressed as a whole percentage.
type LiveUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	Threat    string    `json:"threat"`
	Value     int       `json:"value"`
}

// Notifier fans LiveUpdates out to any number of subscribers. Broadcast
// never blocks: a subscriber whose buffer is full misses the update and
// the drop counter is bumped instead.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[string]chan LiveUpdate
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) NotifierOption {
	return func(nf *Notifier) {
		if n > 0 {
			nf.buffer = n
		}
	}
}

// NewNotifier creates an empty hub.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		subs:   make(map[string]chan LiveUpdate),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers a new subscriber and returns its id, its update
// channel and a cancel function. The channel is closed on cancel and on
// Close, never before.
func (n *Notifier) Subscribe() (string, <-chan LiveUpdate, func()) {
	id := uuid.NewString()
	ch := make(chan LiveUpdate, n.buffer)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() { n.unsubscribe(id) }
	return id, ch, cancel
}

func (n *Notifier) unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.subs[id]; ok {
		delete(n.subs, id)
		close(ch)
	}
}

// Broadcast delivers an update to every subscriber that has buffer room.
// Updates a single subscriber does receive arrive in the order they were
// broadcast.
func (n *Notifier) Broadcast(u LiveUpdate) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- u:
		default:
			n.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Dropped returns how many updates were discarded for slow subscribers.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close drops every subscriber and closes their channels. Broadcast after
// Close is a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
