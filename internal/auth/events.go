package auth

import (
	"sync"
	"time"
)

// EventType names a session change broadcast by the guard.
type EventType string

const (
	EventTokenValid     EventType = "token-valid"
	EventTokenExpired   EventType = "token-expired"
	EventTokenRefreshed EventType = "token-refreshed"
	EventRefreshFailed  EventType = "refresh-failed"
	EventLoginRequired  EventType = "login-required"
)

// Event is delivered to listeners. Err is set for refresh-failed.
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// Listener receives guard events. It runs on the goroutine that triggered the
// event and must not block.
type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

// broadcaster delivers events to listeners in registration order.
type broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func (b *broadcaster) add(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Copy so an in-progress delivery keeps its own slice intact.
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// emit calls every listener registered at the time of the call, in order.
func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
