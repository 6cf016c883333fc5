package events

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber buffer when none is configured.
const DefaultBufferSize = 64

// ErrPublisherClosed is returned by Subscribe after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// SnapshotFunc returns the current view of a session as a snapshot event,
// and whether the session is already terminal. It returns an error when the
// session is unknown.
type SnapshotFunc func(sessionID string) (ev Event, terminal bool, err error)

// Forwarder receives every published event after local delivery.
// Implementations must not block.
type Forwarder interface {
	Forward(Event)
}

// Subscription is one subscriber's stream for one session. Events are queued
// in a bounded buffer and handed to the reader by a pump goroutine, so the
// publisher never waits on the reader.
type Subscription struct {
	session  string
	out      chan Event
	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	queue     []Event
	capacity  int
	dropped   int
	finishing bool
}

func newSubscription(session string, capacity int) *Subscription {
	s := &Subscription{
		session:  session,
		out:      make(chan Event),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		queue:    make([]Event, 0, capacity),
		capacity: capacity,
	}
	go s.pump()
	return s
}

// Events returns the receive channel. It is closed on Unsubscribe, after a
// terminal event has been read, or when the publisher closes.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// SessionID returns the session this subscription follows.
func (s *Subscription) SessionID() string {
	return s.session
}

// enqueue appends ev, discarding the oldest queued event when full.
// Caller holds mu. Returns the number of events discarded.
func (s *Subscription) enqueue(ev Event) int {
	if s.finishing {
		return 0
	}
	discarded := 0
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
		discarded = 1
	}
	s.queue = append(s.queue, ev)
	return discarded
}

func (s *Subscription) deliver(ev Event) int {
	s.mu.Lock()
	n := s.enqueue(ev)
	s.mu.Unlock()
	s.wake()
	return n
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the next event for the reader. A pending drop count is turned
// into an EventsDroppedEvent ahead of the next queued event.
func (s *Subscription) next() (ev Event, ok bool, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		n := s.dropped
		s.dropped = 0
		return NewEventsDroppedEvent(s.session, n), true, false
	}
	if len(s.queue) > 0 {
		ev = s.queue[0]
		copy(s.queue, s.queue[1:])
		s.queue[len(s.queue)-1] = nil
		s.queue = s.queue[:len(s.queue)-1]
		return ev, true, false
	}
	return nil, false, s.finishing
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok, finished := s.next()
		if !ok {
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// finish stops accepting events; the reader still gets what is queued.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.finishing = true
	s.mu.Unlock()
	s.wake()
}

// stop discards anything queued and closes the stream.
func (s *Subscription) stop() {
	s.mu.Lock()
	s.finishing = true
	s.queue = nil
	s.dropped = 0
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
}

// Publisher fans events out to per-session subscribers.
type Publisher struct {
	mu         sync.RWMutex
	sessions   map[string]map[*Subscription]struct{}
	bufferSize int
	snapshot   SnapshotFunc
	forwarders []Forwarder
	closed     bool

	droppedCount atomic.Int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n < 1 {
			n = 1
		}
		p.bufferSize = n
	}
}

// WithSnapshot sets the function used to build the first event of a subscription.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(p *Publisher) { p.snapshot = fn }
}

// WithForwarder adds an external sink.
func WithForwarder(f Forwarder) Option {
	return func(p *Publisher) {
		if f != nil {
			p.forwarders = append(p.forwarders, f)
		}
	}
}

// NewPublisher creates a publisher.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		sessions:   make(map[string]map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSnapshot installs the snapshot function after construction. The
// orchestrator owns session state and is usually built after the publisher.
func (p *Publisher) SetSnapshot(fn SnapshotFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = fn
}

// Subscribe starts following sessionID. The first event is a snapshot of the
// session when a snapshot function is configured. If the session is already
// terminal the subscription is closed right after the snapshot.
func (p *Publisher) Subscribe(sessionID string) (*Subscription, error) {
	sub := newSubscription(sessionID, p.bufferSize)

	// Hold the subscription lock while registering and snapshotting so live
	// events queue behind the snapshot.
	sub.mu.Lock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.mu.Unlock()
		sub.stop()
		return nil, ErrPublisherClosed
	}
	snapshot := p.snapshot
	subs, ok := p.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		p.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	p.mu.Unlock()

	if snapshot == nil {
		sub.mu.Unlock()
		return sub, nil
	}

	ev, terminal, err := snapshot(sessionID)
	if err != nil {
		sub.mu.Unlock()
		p.Unsubscribe(sub)
		return nil, err
	}
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()
	sub.wake()

	if terminal {
		p.detach(sub)
		sub.finish()
	}
	return sub, nil
}

// Unsubscribe stops delivery and closes the subscription channel. Queued
// events are discarded. Safe to call more than once.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.detach(sub)
	sub.stop()
}

func (p *Publisher) detach(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.sessions[sub.session]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(p.sessions, sub.session)
		}
	}
}

// Publish delivers ev to every subscriber of its session and to all
// forwarders. It never blocks on a slow subscriber. A terminal event ends
// the session's subscriptions once their readers have drained them.
func (p *Publisher) Publish(ev Event) {
	sessionID := ev.SessionID()
	terminal := IsTerminalType(ev.EventType())

	if terminal {
		p.mu.Lock()
	} else {
		p.mu.RLock()
	}
	if p.closed {
		p.unlock(terminal)
		return
	}

	subs := p.sessions[sessionID]
	for sub := range subs {
		if n := sub.deliver(ev); n > 0 {
			p.droppedCount.Add(int64(n))
		}
	}
	if terminal {
		for sub := range subs {
			sub.finish()
		}
		delete(p.sessions, sessionID)
	}
	forwarders := p.forwarders
	p.unlock(terminal)

	for _, f := range forwarders {
		f.Forward(ev)
	}
}

func (p *Publisher) unlock(write bool) {
	if write {
		p.mu.Unlock()
	} else {
		p.mu.RUnlock()
	}
}

// Subscribers returns the number of live subscriptions across all sessions.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, subs := range p.sessions {
		n += len(subs)
	}
	return n
}

// DroppedCount returns the total number of events dropped across subscribers.
func (p *Publisher) DroppedCount() int64 {
	return p.droppedCount.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, subs := range p.sessions {
		for sub := range subs {
			sub.stop()
		}
	}
	p.sessions = nil
}
