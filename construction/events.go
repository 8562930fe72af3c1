package construction

import (
	"sync"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
)

// StateEvent is published on every state machine transition.
type StateEvent struct {
	RunID string
	From  State
	To    State
	At    time.Time
	// Err is set when To is StateFailed.
	Err error
}

const subscriberBuffer = 64

type subscriber struct {
	events chan StateEvent
	done   chan struct{}
}

// Events fans state transitions out to subscribers. Each subscriber gets a
// buffered channel drained by its own goroutine. An event is dropped for a
// subscriber whose buffer is full.
type Events struct {
	subscribers map[int]*subscriber
	nextID      int
	closed      bool
	mu          sync.Mutex
}

func NewEvents() *Events {
	return &Events{subscribers: make(map[int]*subscriber)}
}

// On registers a callback. The returned cleanup stops delivery and waits for
// the callback goroutine to drain.
func (e *Events) On(callback func(event StateEvent)) (cleanup func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return func() {}
	}

	id := e.nextID
	e.nextID++

	sub := &subscriber{
		events: make(chan StateEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}
	e.subscribers[id] = sub

	go func() {
		defer close(sub.done)
		for event := range sub.events {
			callback(event)
		}
	}()

	return func() {
		e.mu.Lock()
		s, exists := e.subscribers[id]
		if exists {
			delete(e.subscribers, id)
			close(s.events)
		}
		e.mu.Unlock()
		<-sub.done
	}
}

func (e *Events) Publish(event StateEvent) {
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscribers {
		select {
		case sub.events <- event:
		default:
			Log().Warn().Msgf("state event %s -> %s dropped, subscriber is behind", event.From, event.To)
		}
	}
}

// Close stops every subscriber after its pending events are delivered.
func (e *Events) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	subs := make([]*subscriber, 0, len(e.subscribers))
	for id, sub := range e.subscribers {
		close(sub.events)
		subs = append(subs, sub)
		delete(e.subscribers, id)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
