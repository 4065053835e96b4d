// Package sse is AgentMonitor's broadcast fan-out for the GET /api/stream
// endpoint: Broadcast, callable from any goroutine, pushes formatted SSE frames to every
// subscribed client's buffered channel, dropping the frame for any client
// that can't keep up instead of blocking the broadcaster.
package sse

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// clientBuffer is the per-subscriber channel capacity, matching the
// Rust broadcast channel's lag window.
const clientBuffer = 256

// Hub is a subscriber registry guarded by a mutex. Broadcast never blocks:
// a full subscriber channel simply drops the frame.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uint64]chan string
	nextID      uint64
	clientCount atomic.Int64
	maxClients  int
}

// NewHub creates a hub that refuses subscriptions past maxClients.
func NewHub(maxClients int) *Hub {
	return &Hub{
		subscribers: make(map[uint64]chan string),
		maxClients:  maxClients,
	}
}

// Subscription is a live subscriber's receive channel plus the unsubscribe
// function a handler must call (typically via defer) to release its slot.
type Subscription struct {
	ID       uint64
	Messages <-chan string
	hub      *Hub
	once     sync.Once
}

// Unsubscribe removes the subscriber and decrements the client count. Safe
// to call more than once; only the first call has effect, mirroring the
// Rust drop guard's single-decrement guarantee.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s.ID)
		s.hub.mu.Unlock()
		s.hub.clientCount.Add(-1)
	})
}

// Subscribe registers a new client, returning ok=false if max_clients is
// already reached.
func (h *Hub) Subscribe() (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if int(h.clientCount.Load()) >= h.maxClients {
		return nil, false
	}

	h.nextID++
	id := h.nextID
	ch := make(chan string, clientBuffer)
	h.subscribers[id] = ch
	h.clientCount.Add(1)

	return &Subscription{ID: id, Messages: ch, hub: h}, true
}

// Broadcast formats {"type": eventType, "payload": payload} as an SSE
// "data:" frame and sends it to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Broadcast(eventType string, payload any) {
	body, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: eventType, Payload: payload})
	if err != nil {
		return
	}
	frame := fmt.Sprintf("data: %s\n\n", body)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
			// subscriber is lagging; drop the frame rather than block.
		}
	}
}

// ClientCount reports the number of currently connected SSE clients, for
// the health endpoint.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}
