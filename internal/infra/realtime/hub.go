// Package realtime keeps the process-local registry of authenticated push connections.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"findit/internal/app/policies"
)

// Subscriber is one live connection bound to a user.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Hub maps user topics to their live connections. A user may hold several connections.
type Hub struct {
	Logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
	owners map[string]string
	closed bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Logger: logger,
		topics: make(map[string]map[string]Subscriber),
		owners: make(map[string]string),
	}
}

// Topic is the deterministic per-user delivery topic.
func Topic(userID string) string {
	return "user:" + userID
}

// Subscribe binds sub to the user's topic. It returns false once the hub is closed.
func (h *Hub) Subscribe(userID string, sub Subscriber) bool {
	topic := Topic(userID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if prev, ok := h.owners[sub.ID()]; ok && prev != topic {
		h.removeLocked(prev, sub.ID())
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]Subscriber)
		h.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	h.owners[sub.ID()] = topic
	return true
}

// Unsubscribe removes sub from whatever topic it is bound to.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if topic, ok := h.owners[sub.ID()]; ok {
		h.removeLocked(topic, sub.ID())
	}
}

func (h *Hub) removeLocked(topic, subID string) {
	delete(h.owners, subID)
	subs := h.topics[topic]
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish encodes event once and hands it to every connection of userID.
// Connections that refuse the payload are skipped and logged.
func (h *Hub) Publish(ctx context.Context, userID string, event policies.PushEvent) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.topics[Topic(userID)]))
	for _, sub := range h.topics[Topic(userID)] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			if h.Logger != nil {
				h.Logger.Warn("realtime delivery failed", "user_id", userID, "connection", sub.ID(), "error", err)
			}
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Connections counts live connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[Topic(userID)])
}

// Close disconnects everyone and refuses new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]Subscriber, 0, len(h.owners))
	for _, subs := range h.topics {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.topics = make(map[string]map[string]Subscriber)
	h.owners = make(map[string]string)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close(CloseGoingAway, "server shutdown")
	}
}

var _ policies.Broadcaster = (*Hub)(nil)
