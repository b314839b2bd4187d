// Package chat implements conversation creation, message history and message delivery
// between two users, usually about a listing.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"findit/internal/app/apperr"
	"findit/internal/app/dto"
	appoutbox "findit/internal/app/outbox"
	"findit/internal/app/policies"
	domainchat "findit/internal/domain/chat"
	domainlistings "findit/internal/domain/listings"
	"findit/internal/domain/shared/events"
	domainuser "findit/internal/domain/user"
)

// EventMessageNew is the push event type for a newly stored message.
const EventMessageNew = "message:new"

const (
	conflictLookups = 4
	conflictBackoff = 10 * time.Millisecond
)

var ErrServiceNotConfigured = errors.New("chat: service missing dependencies")

type ListingReader interface {
	ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error)
	ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error)
}

type UserReader interface {
	ByID(ctx context.Context, id string) (*domainuser.User, error)
	ByIDs(ctx context.Context, ids []string) (map[string]*domainuser.User, error)
}

// Service owns the chat invariants. All conversation and message writes go through it.
type Service struct {
	Chats       domainchat.Repository
	Listings    ListingReader
	Users       UserReader
	Broadcaster policies.Broadcaster
	Outbox      appoutbox.Outbox
	Encoder     appoutbox.EventEncoder
	Logger      *slog.Logger

	// RequireProfile gates conversation creation and sending on a complete profile.
	RequireProfile bool
	NewID          func() string
	Now            func() time.Time
}

type SendParams struct {
	SenderID       string
	ConversationID string
	Text           string
	ClientID       string
}

// SendResult reports whether the message was stored by this call or replayed.
type SendResult struct {
	Message domainchat.Message
	Created bool
}

// CreateOrGetConversation returns the single conversation between the requester and the
// listing owner, creating it on first contact.
func (s *Service) CreateOrGetConversation(ctx context.Context, requesterID, listingID string) (*domainchat.Conversation, bool, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, false, err
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, false, apperr.ErrUnauthorized
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, false, apperr.Invalid("listing_id is required")
	}
	if err := s.checkProfile(ctx, requesterID); err != nil {
		return nil, false, err
	}
	listing, err := s.Listings.ByID(ctx, domainlistings.ListingID(listingID))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return nil, false, apperr.NotFound("listing not found")
		}
		return nil, false, apperr.Storage("load listing", err)
	}
	participants, err := domainchat.NewParticipants(requesterID, listing.OwnerID)
	if err != nil {
		if errors.Is(err, domainchat.ErrSelfConversation) {
			return nil, false, apperr.Invalid("cannot start chat with yourself")
		}
		return nil, false, apperr.Invalid("listing has no owner")
	}

	existing, err := s.Chats.FindConversation(ctx, listingID, participants)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domainchat.ErrConversationNotFound) {
		return nil, false, apperr.Storage("find conversation", err)
	}

	conv := domainchat.NewConversation(s.newID(), listingID, participants, s.now())
	if err := s.Chats.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, domainchat.ErrConversationExists) {
			return nil, false, apperr.Storage("create conversation", err)
		}
		// lost the creation race, the winner's row is authoritative
		winner, findErr := s.findAfterConflict(ctx, listingID, participants)
		if findErr != nil {
			return nil, false, apperr.Storage("find conversation after conflict", findErr)
		}
		return winner, false, nil
	}
	s.record(ctx, domainchat.ConversationStartedEvent{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		Participants:   conv.Participants.Slice(),
		At:             conv.CreatedAt,
	})
	if s.Logger != nil {
		s.Logger.Info("conversation started", "conversation_id", conv.ID, "listing_id", listingID, "requester_id", requesterID)
	}
	return conv, true, nil
}

// findAfterConflict waits briefly for the winner of a creation race to become readable.
func (s *Service) findAfterConflict(ctx context.Context, listingID string, participants domainchat.Participants) (*domainchat.Conversation, error) {
	var err error
	for attempt := 0; attempt < conflictLookups; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * conflictBackoff):
			}
		}
		var conv *domainchat.Conversation
		conv, err = s.Chats.FindConversation(ctx, listingID, participants)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil, err
		}
	}
	return nil, err
}

// ListConversations returns the user's conversations, most recent activity first, each
// enriched with the listing summary and the counterpart's contact fields.
func (s *Service) ListConversations(ctx context.Context, userID string) (dto.ConversationList, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.ConversationList{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return dto.ConversationList{}, apperr.ErrUnauthorized
	}
	convs, err := s.Chats.ConversationsForUser(ctx, userID)
	if err != nil {
		return dto.ConversationList{}, apperr.Storage("list conversations", err)
	}
	domainchat.SortByActivity(convs)

	listingIDs := make([]domainlistings.ListingID, 0, len(convs))
	userIDs := make([]string, 0, len(convs))
	for _, conv := range convs {
		if conv.ListingID != "" {
			listingIDs = append(listingIDs, domainlistings.ListingID(conv.ListingID))
		}
		if other := conv.Participants.Other(userID); other != "" {
			userIDs = append(userIDs, other)
		}
	}
	listings, err := s.Listings.ByIDs(ctx, listingIDs)
	if err != nil {
		return dto.ConversationList{}, apperr.Storage("load listings", err)
	}
	users := map[string]*domainuser.User{}
	if s.Users != nil {
		users, err = s.Users.ByIDs(ctx, userIDs)
		if err != nil {
			return dto.ConversationList{}, apperr.Storage("load counterparts", err)
		}
	}

	out := dto.ConversationList{Items: make([]dto.Conversation, 0, len(convs))}
	for i := range convs {
		conv := &convs[i]
		item := dto.MapConversation(conv)
		item.Listing = dto.MapChatListing(listings[domainlistings.ListingID(conv.ListingID)])
		item.Counterpart = dto.MapCounterpart(users[conv.Participants.Other(userID)])
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// ListMessages returns the history oldest first. Unknown conversations and non-members are
// denied alike.
func (s *Service) ListMessages(ctx context.Context, requesterID, conversationID string) ([]domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, requesterID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.Chats.Messages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	domainchat.SortMessages(msgs)
	return msgs, nil
}

// SendMessage stores a message once per (conversation, sender, client id). Only a newly
// stored message is pushed to the other participant and recorded in the outbox.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (SendResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return SendResult{}, err
	}
	conv, err := s.authorize(ctx, params.SenderID, params.ConversationID)
	if err != nil {
		return SendResult{}, err
	}
	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       params.SenderID,
		Text:           params.Text,
		ClientID:       params.ClientID,
		Now:            s.now(),
	})
	if err != nil {
		return SendResult{}, invalidMessage(err)
	}
	if err := s.checkProfile(ctx, params.SenderID); err != nil {
		return SendResult{}, err
	}

	stored, created, err := s.Chats.AppendMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return SendResult{}, apperr.Denied("not a chat participant")
		}
		return SendResult{}, apperr.Storage("append message", err)
	}
	if !created {
		return SendResult{Message: stored, Created: false}, nil
	}

	recipients := conv.Recipients(stored.SenderID)
	s.fanOut(ctx, recipients, stored)
	s.record(ctx, domainchat.MessageSentEvent{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		MessageID:      stored.ID,
		SenderID:       stored.SenderID,
		RecipientIDs:   recipients,
		At:             stored.CreatedAt,
	})
	return SendResult{Message: stored, Created: true}, nil
}

func (s *Service) authorize(ctx context.Context, requesterID, conversationID string) (*domainchat.Conversation, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, apperr.ErrUnauthorized
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperr.Invalid("conversation id is required")
	}
	conv, err := s.Chats.ConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil, apperr.Denied("not a chat participant")
		}
		return nil, apperr.Storage("load conversation", err)
	}
	if !conv.IsParticipant(requesterID) {
		return nil, apperr.Denied("not a chat participant")
	}
	return conv, nil
}

// fanOut is best effort: failures are logged and never reach the sender.
func (s *Service) fanOut(ctx context.Context, recipients []string, msg domainchat.Message) {
	broadcaster := s.Broadcaster
	if broadcaster == nil {
		broadcaster = policies.NopBroadcaster{}
	}
	event := policies.PushEvent{
		Type:           EventMessageNew,
		ConversationID: msg.ConversationID,
		Message:        dto.MapChatMessage(msg),
	}
	for _, userID := range recipients {
		n, err := broadcaster.Publish(context.WithoutCancel(ctx), userID, event)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("realtime publish failed", "user_id", userID, "message_id", msg.ID, "error", err)
			}
			continue
		}
		if s.Logger != nil {
			s.Logger.Debug("message pushed", "user_id", userID, "message_id", msg.ID, "connections", n)
		}
	}
}

func (s *Service) record(ctx context.Context, ev events.DomainEvent) {
	if s.Outbox == nil {
		return
	}
	if err := appoutbox.RecordDomainEvents(context.WithoutCancel(ctx), s.Outbox, s.Encoder, ev); err != nil && s.Logger != nil {
		s.Logger.Warn("outbox append failed", "event", ev.EventName(), "aggregate", ev.AggregateID(), "error", err)
	}
}

func (s *Service) checkProfile(ctx context.Context, userID string) error {
	if !s.RequireProfile {
		return nil
	}
	if s.Users == nil {
		return ErrServiceNotConfigured
	}
	user, err := s.Users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return apperr.Denied("profile incomplete: phone required")
		}
		return apperr.Storage("load profile", err)
	}
	if !user.ProfileComplete() {
		return apperr.Denied("profile incomplete: phone required")
	}
	return nil
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Chats == nil || s.Listings == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func invalidMessage(err error) error {
	switch {
	case errors.Is(err, domainchat.ErrTextRequired):
		return apperr.Invalid("text is required")
	case errors.Is(err, domainchat.ErrTextTooLong):
		return apperr.Invalid("text is too long")
	case errors.Is(err, domainchat.ErrClientIDRequired):
		return apperr.Invalid("client_id is required")
	case errors.Is(err, domainchat.ErrClientIDMalformed):
		return apperr.Invalid("client_id is malformed")
	default:
		return apperr.Invalid("invalid message")
	}
}
