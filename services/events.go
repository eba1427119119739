package services

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

// EventHub fans auth events out to every live client of a user. It is fed
// by in-process publishers and by the database notification listener.
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]func(core.AuthEvent)
	next uint64
	log  zerolog.Logger
}

var _ core.AuthEventPublisher = (*EventHub)(nil)

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		subs: make(map[string]map[uint64]func(core.AuthEvent)),
		log:  log,
	}
}

// Subscribe registers fn for events about userID
func (h *EventHub) Subscribe(userID string, fn func(core.AuthEvent)) core.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]func(core.AuthEvent))
	}
	h.subs[userID][id] = fn

	var once sync.Once
	return core.SubscriptionFunc(func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	})
}

// PublishUser delivers event to every subscriber of userID, synchronously
// and outside the hub lock.
func (h *EventHub) PublishUser(userID string, event core.AuthEvent) {
	if !event.Valid() {
		h.log.Warn().Str("user_id", userID).Str("event", string(event)).Msg("dropping unknown auth event")
		return
	}

	h.mu.RLock()
	fns := make([]func(core.AuthEvent), 0, len(h.subs[userID]))
	for _, fn := range h.subs[userID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	h.log.Debug().
		Str("user_id", userID).
		Str("event", string(event)).
		Int("subscribers", len(fns)).
		Msg("publishing auth event")

	for _, fn := range fns {
		fn(event)
	}
}

// Subscribers returns the number of live subscriptions for userID
func (h *EventHub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
