package chat

import "time"

// MessageSentEvent is raised once per newly stored message, never on idempotent replays.
type MessageSentEvent struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientIDs   []string  `json:"recipient_ids"`
	At             time.Time `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return "chat.message_sent" }
func (e MessageSentEvent) AggregateID() string   { return e.ConversationID }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }

// ConversationStartedEvent is raised when a new thread is created, not when one is fetched.
type ConversationStartedEvent struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	Participants   []string  `json:"participants"`
	At             time.Time `json:"at"`
}

func (e ConversationStartedEvent) EventName() string     { return "chat.conversation_started" }
func (e ConversationStartedEvent) AggregateID() string   { return e.ConversationID }
func (e ConversationStartedEvent) OccurredAt() time.Time { return e.At }
