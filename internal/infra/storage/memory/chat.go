package memory

import (
	"context"
	"sync"

	domainchat "findit/internal/domain/chat"
)

// ChatRepository keeps conversations and messages behind one lock so uniqueness checks and
// summary updates are atomic.
type ChatRepository struct {
	mu            sync.RWMutex
	conversations map[string]*domainchat.Conversation
	byPair        map[string]string
	messages      map[string][]domainchat.Message
	tokens        map[string]int
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{
		conversations: make(map[string]*domainchat.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string][]domainchat.Message),
		tokens:        make(map[string]int),
	}
}

func pairKey(listingID string, p domainchat.Participants) string {
	return listingID + "|" + p.Key()
}

func tokenKey(m *domainchat.Message) string {
	return m.ConversationID + "|" + m.SenderID + "|" + m.ClientID
}

func (r *ChatRepository) FindConversation(ctx context.Context, listingID string, participants domainchat.Participants) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey(listingID, participants)]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	conv := *r.conversations[id]
	return &conv, nil
}

func (r *ChatRepository) CreateConversation(ctx context.Context, conv *domainchat.Conversation) error {
	key := pairKey(conv.ListingID, conv.Participants)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPair[key]; ok {
		return domainchat.ErrConversationExists
	}
	if _, ok := r.conversations[conv.ID]; ok {
		return domainchat.ErrConversationExists
	}
	stored := *conv
	r.conversations[conv.ID] = &stored
	r.byPair[key] = conv.ID
	return nil
}

func (r *ChatRepository) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	copyConv := *conv
	return &copyConv, nil
}

func (r *ChatRepository) ConversationsForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	r.mu.RLock()
	out := make([]domainchat.Conversation, 0)
	for _, conv := range r.conversations {
		if conv.IsParticipant(userID) {
			out = append(out, *conv)
		}
	}
	r.mu.RUnlock()
	domainchat.SortByActivity(out)
	return out, nil
}

func (r *ChatRepository) AppendMessage(ctx context.Context, msg *domainchat.Message) (domainchat.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		return domainchat.Message{}, false, domainchat.ErrConversationNotFound
	}
	key := tokenKey(msg)
	if idx, ok := r.tokens[key]; ok {
		return r.messages[msg.ConversationID][idx], false, nil
	}
	stored := *msg
	stored.Seq = conv.LastSeq + 1
	stored.CreatedAt = domainchat.StampAfter(msg.CreatedAt, conv.LastMessageAt)
	r.tokens[key] = len(r.messages[msg.ConversationID])
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], stored)
	conv.ApplyMessage(stored)
	return stored, true, nil
}

func (r *ChatRepository) Messages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	out := append([]domainchat.Message(nil), r.messages[conversationID]...)
	domainchat.SortMessages(out)
	return out, nil
}

var _ domainchat.Repository = (*ChatRepository)(nil)
