// Package events carries session state changes and received notifications
// to external fan-out consumers.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind discriminates Event payloads.
type Kind string

const (
	KindSessionState Kind = "session.state"
	KindNotification Kind = "notification.received"
)

// Event is one published item. Exactly one payload field is set.
type Event struct {
	Kind         Kind                  `json:"kind"`
	At           time.Time             `json:"at"`
	SessionState *SessionStateChanged  `json:"session_state,omitempty"`
	Notification *NotificationReceived `json:"notification,omitempty"`
}

// SessionStateChanged is emitted on every RemoteSession transition.
type SessionStateChanged struct {
	Key      string `json:"key"`
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
	Error    string `json:"error,omitempty"`
}

// NotificationReceived is emitted after a generic notification is stored.
type NotificationReceived struct {
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	DeliveryID string `json:"delivery_id"`
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Debug().Int("subscriber", id).Str("kind", string(e.Kind)).Msg("event dropped for slow subscriber")
		}
	}
}

// PublishSessionState is a convenience for session transitions.
func (b *Bus) PublishSessionState(key, oldState, newState string, err error) {
	p := &SessionStateChanged{Key: key, OldState: oldState, NewState: newState}
	if err != nil {
		p.Error = err.Error()
	}
	b.Publish(Event{Kind: KindSessionState, SessionState: p})
}

// PublishNotification is a convenience for stored notifications.
func (b *Bus) PublishNotification(n NotificationReceived) {
	b.Publish(Event{Kind: KindNotification, Notification: &n})
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
