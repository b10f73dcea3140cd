package events

import (
	"encoding/json"
	"sync"
)

const subscriberBuffer = 16

// EventHub fans daemon events out to SSE subscribers.
type EventHub struct {
	mu   sync.RWMutex
	subs map[chan Event]map[string]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]map[string]struct{})}
}

// Subscribe returns a channel receiving the named events, or all events
// when no names are given.
func (h *EventHub) Subscribe(names ...string) chan Event {
	var filter map[string]struct{}
	if len(names) > 0 {
		filter = make(map[string]struct{}, len(names))
		for _, n := range names {
			filter[n] = struct{}{}
		}
	}

	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = filter
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	for ch, filter := range h.subs {
		if filter != nil {
			if _, ok := filter[name]; !ok {
				continue
			}
		}
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}
