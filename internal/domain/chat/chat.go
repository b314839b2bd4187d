package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrConversationExists   = errors.New("chat: conversation already exists for listing and participants")
	ErrSelfConversation     = errors.New("chat: cannot start chat with yourself")
	ErrParticipantRequired  = errors.New("chat: both participants are required")
	ErrTextRequired         = errors.New("chat: text is required")
	ErrTextTooLong          = errors.New("chat: text is too long")
	ErrClientIDRequired     = errors.New("chat: client_id is required")
	ErrClientIDMalformed    = errors.New("chat: client_id is malformed")
)

const (
	MaxTextLength     = 4000
	MaxClientIDLength = 128
)

// Participants is the unordered two-user set of a conversation, kept sorted.
type Participants [2]string

// NewParticipants builds the normalized pair for two distinct users.
func NewParticipants(a, b string) (Participants, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return Participants{}, ErrParticipantRequired
	}
	if a == b {
		return Participants{}, ErrSelfConversation
	}
	ids := []string{a, b}
	sort.Strings(ids)
	return Participants{ids[0], ids[1]}, nil
}

// ParticipantsFromSlice restores a pair read back from storage.
func ParticipantsFromSlice(ids []string) (Participants, error) {
	if len(ids) != 2 {
		return Participants{}, ErrParticipantRequired
	}
	return NewParticipants(ids[0], ids[1])
}

// Key is the storage key of the pair; equal for {a,b} and {b,a}.
func (p Participants) Key() string {
	return p[0] + ":" + p[1]
}

// Contains reports membership.
func (p Participants) Contains(userID string) bool {
	return userID != "" && (p[0] == userID || p[1] == userID)
}

// Other returns the counterpart of userID, or "" when userID is not a member.
func (p Participants) Other(userID string) string {
	switch userID {
	case p[0]:
		return p[1]
	case p[1]:
		return p[0]
	default:
		return ""
	}
}

// Slice returns a fresh copy of the pair.
func (p Participants) Slice() []string {
	return []string{p[0], p[1]}
}

// Conversation is a thread between exactly two users, optionally about a listing.
type Conversation struct {
	ID            string
	ListingID     string
	Participants  Participants
	LastMessage   string
	LastMessageAt time.Time
	LastSeq       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewConversation prepares a conversation with an empty summary and activity set to now.
func NewConversation(id, listingID string, participants Participants, now time.Time) *Conversation {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Conversation{
		ID:            id,
		ListingID:     strings.TrimSpace(listingID),
		Participants:  participants,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsParticipant is the single authorization rule for reading and writing a conversation.
func (c *Conversation) IsParticipant(userID string) bool {
	return c != nil && c.Participants.Contains(userID)
}

// Recipients lists everyone except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, 1)
	for _, id := range c.Participants {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

// ApplyMessage refreshes the denormalized summary. Older sequences never overwrite newer ones.
func (c *Conversation) ApplyMessage(m Message) {
	if m.Seq <= c.LastSeq {
		return
	}
	c.LastSeq = m.Seq
	c.LastMessage = m.Text
	c.LastMessageAt = m.CreatedAt
	c.UpdatedAt = m.CreatedAt
}

// StampAfter is the creation time a store assigns together with the next sequence. It
// never precedes the previously stamped message, so time order and sequence order agree
// even when the caller's clock steps backwards.
func StampAfter(now, last time.Time) time.Time {
	now = now.UTC()
	if now.Before(last) {
		return last.UTC()
	}
	return now
}

// Message is immutable once stored.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	ClientID       string
	Seq            int64
	CreatedAt      time.Time
}

// NewMessageParams carries a send attempt before it is persisted.
type NewMessageParams struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	ClientID       string
	Now            time.Time
}

// NewMessage validates a send attempt. Seq is assigned by the store.
func NewMessage(params NewMessageParams) (*Message, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return nil, ErrTextRequired
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, ErrTextTooLong
	}
	clientID, err := NormalizeClientID(params.ClientID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.SenderID) == "" {
		return nil, ErrParticipantRequired
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Text:           text,
		ClientID:       clientID,
		CreatedAt:      now.UTC(),
	}, nil
}

// NormalizeClientID validates the caller-supplied idempotency token.
func NormalizeClientID(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", ErrClientIDRequired
	}
	if len(token) > MaxClientIDLength {
		return "", ErrClientIDMalformed
	}
	for _, r := range token {
		if r < 0x21 || r > 0x7e {
			return "", ErrClientIDMalformed
		}
	}
	return token, nil
}

// SortMessages orders by creation time, ties broken by store sequence.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortByActivity orders conversations most recent activity first.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivity(), convs[j].LastActivity()
		if ai.Equal(aj) {
			return convs[i].ID > convs[j].ID
		}
		return ai.After(aj)
	})
}

// LastActivity falls back to the creation time for threads without messages.
func (c Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// Repository persists conversations and their messages.
//
// CreateConversation must fail with ErrConversationExists when a conversation for the
// same listing and participant key already exists; the check has to be enforced by the
// storage itself. AppendMessage assigns Seq, updates the owning conversation summary in the
// same logical operation, and returns the already stored message with created=false when
// (conversation, sender, client id) was seen before.
type Repository interface {
	FindConversation(ctx context.Context, listingID string, participants Participants) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	ConversationByID(ctx context.Context, id string) (*Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
	AppendMessage(ctx context.Context, msg *Message) (Message, bool, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}
