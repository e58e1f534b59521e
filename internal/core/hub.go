package core

import "sync"

// Subscriber receives snapshots published by the Hub.
type Subscriber struct {
	ID     string
	Events chan Snapshot
}

// Hub merges the registrar and call views into snapshots and fans them out
// to subscribers. Publishing never blocks: a subscriber whose buffer is
// full misses that snapshot.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	latest Snapshot
}

// NewHub creates a hub whose initial snapshot is unregistered with no call.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
		latest: Snapshot{
			Registration: RegistrationView{State: RegistrationUnregistered},
		},
	}
}

// Subscribe registers a subscriber and immediately delivers the latest snapshot.
func (h *Hub) Subscribe(id string) *Subscriber {
	s := &Subscriber{ID: id, Events: make(chan Snapshot, 16)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	s.Events <- h.latest
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.Events)
}

// PublishRegistration replaces the registrar view.
func (h *Hub) PublishRegistration(v RegistrationView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest.Registration = v
	h.broadcastLocked()
}

// PublishCall replaces the call view. A nil view means no call.
func (h *Hub) PublishCall(v *CallView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v != nil {
		cp := *v
		v = &cp
	}
	h.latest.Call = v
	h.broadcastLocked()
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Hub) broadcastLocked() {
	h.latest.Seq++
	for s := range h.subs {
		select {
		case s.Events <- h.latest:
		default:
			// Drop if slow consumer.
		}
	}
}
