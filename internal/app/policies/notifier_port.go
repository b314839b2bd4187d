package policies

import "context"

// PushEvent is delivered to a user's live connections.
type PushEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        any    `json:"message,omitempty"`
}

// Broadcaster fans an event out to every live connection of one user and returns how many
// connections accepted it. Zero connections is not an error.
type Broadcaster interface {
	Publish(ctx context.Context, userID string, event PushEvent) (int, error)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(context.Context, string, PushEvent) (int, error) { return 0, nil }
