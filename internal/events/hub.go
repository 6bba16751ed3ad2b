package events

import (
	"slices"
	"sync"
	"sync/atomic"

	"grimm.is/appredirect/internal/clock"
)

// DefaultBuffer is the channel size used when Subscribe is given zero.
const DefaultBuffer = 256

// Hub fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events; Stats counts them.
type Hub struct {
	mu   sync.RWMutex
	subs []*subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscription struct {
	ch    chan Event
	types map[EventType]struct{} // nil means every type
}

func (s *subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Stats are the hub's lifetime counters.
type Stats struct {
	Published uint64
	Dropped   uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish delivers e to every interested subscriber. A nil Hub discards.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving the given event types, or all events
// when none are named. The caller must keep draining it.
func (h *Hub) Subscribe(buffer int, types ...EventType) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscription{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	return s.ch
}

// Unsubscribe stops delivery to ch. The channel is left open.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = slices.DeleteFunc(h.subs, func(s *subscription) bool {
		return (<-chan Event)(s.ch) == ch
	})
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() Stats {
	return Stats{Published: h.published.Load(), Dropped: h.dropped.Load()}
}

// EmitRulesChanged publishes the outcome of a direct rule change.
func (h *Hub) EmitRulesChanged(op, uids string, proxyPort, dnsPort int, success bool) {
	h.Publish(Event{
		Type:   EventRulesChanged,
		Source: "control",
		Data: RulesChangedData{
			Operation: op,
			UIDs:      uids,
			ProxyPort: proxyPort,
			DNSPort:   dnsPort,
			Success:   success,
		},
	})
}
