package dto

import (
	"time"

	domainchat "findit/internal/domain/chat"
)

// ChatListing is the condensed listing shown next to a conversation.
type ChatListing struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Image string `json:"image,omitempty"`
}

// Counterpart carries the contact fields of the other participant.
type Counterpart struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Avatar     string `json:"avatar,omitempty"`
	Hostel     string `json:"hostel,omitempty"`
	Department string `json:"department,omitempty"`
	GradYear   int    `json:"grad_year,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Whatsapp   string `json:"whatsapp,omitempty"`
}

type Conversation struct {
	ID            string       `json:"id"`
	ListingID     string       `json:"listing_id,omitempty"`
	Participants  []string     `json:"participants"`
	LastMessage   string       `json:"last_message"`
	LastMessageAt time.Time    `json:"last_message_at"`
	CreatedAt     time.Time    `json:"created_at"`
	Listing       *ChatListing `json:"listing,omitempty"`
	Counterpart   *Counterpart `json:"counterpart,omitempty"`
}

// ConversationList is the inbox view, most recent first.
type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	ClientID       string    `json:"client_id"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

func MapConversation(conv *domainchat.Conversation) Conversation {
	if conv == nil {
		return Conversation{}
	}
	return Conversation{
		ID:            conv.ID,
		ListingID:     conv.ListingID,
		Participants:  conv.Participants.Slice(),
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastActivity(),
		CreatedAt:     conv.CreatedAt,
	}
}

func MapChatMessage(msg domainchat.Message) ChatMessage {
	return ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		ClientID:       msg.ClientID,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt,
	}
}

func MapChatMessages(msgs []domainchat.Message) ChatMessageList {
	out := ChatMessageList{Items: make([]ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Items = append(out.Items, MapChatMessage(m))
	}
	return out
}
