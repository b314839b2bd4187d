package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	domainchat "findit/internal/domain/chat"
)

const maxSeqAttempts = 16

var (
	errSessionNotInitialized = errors.New("scylla session not initialized")
	errSeqContention         = errors.New("scylla: sequence allocation contended")
)

// Store keeps conversations and messages in Scylla. Uniqueness of conversations and
// message tokens relies on lightweight transactions.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{session: session, logger: logger}
}

const conversationColumns = `id, listing_id, participants, last_message, last_message_at, last_seq, created_at, updated_at`

// FindConversation resolves the pair slot and re-asserts the per-user index entries, which a
// creator may have failed to write after winning the claim.
func (s *Store) FindConversation(ctx context.Context, listingID string, participants domainchat.Participants) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errSessionNotInitialized
	}
	var id string
	err := s.session.
		Query(`SELECT conversation_id FROM conversations_by_pair WHERE listing_id = ? AND participant_key = ?`, listingID, participants.Key()).
		WithContext(ctx).
		Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	conv, err := s.ConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.indexForUsers(ctx, conv.ID, conv.Participants); err != nil {
		s.logger.Warn("conversation index repair failed", "conversation_id", conv.ID, "error", err)
	}
	return conv, nil
}

// CreateConversation writes the conversation row before claiming the (listing, pair) slot,
// so a claimed slot always resolves to a readable row. Losing the claim removes the
// unreferenced row and means another request created the thread.
func (s *Store) CreateConversation(ctx context.Context, conv *domainchat.Conversation) error {
	if s.session == nil {
		return errSessionNotInitialized
	}
	applied, err := s.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`, message_seq) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			conv.ID, conv.ListingID, conv.Participants.Slice(), conv.LastMessage, conv.LastMessageAt,
			conv.LastSeq, conv.CreatedAt, conv.UpdatedAt, conv.LastSeq).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("scylla: conversation id %s already taken", conv.ID)
	}

	applied, err = s.session.
		Query(`INSERT INTO conversations_by_pair (listing_id, participant_key, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			conv.ListingID, conv.Participants.Key(), conv.ID).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		s.discard(ctx, conv.ID)
		return domainchat.ErrConversationExists
	}
	return s.indexForUsers(ctx, conv.ID, conv.Participants)
}

// discard removes a conversation row that lost the pair claim. Nothing references it, so a
// failure only leaves an unreachable row behind.
func (s *Store) discard(ctx context.Context, id string) {
	_, err := s.session.
		Query(`DELETE FROM conversations WHERE id = ? IF EXISTS`, id).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		s.logger.Warn("orphan conversation not removed", "conversation_id", id, "error", err)
	}
}

func (s *Store) indexForUsers(ctx context.Context, id string, participants domainchat.Participants) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, userID := range participants {
		batch.Query(`INSERT INTO conversations_by_user (user_id, conversation_id) VALUES (?, ?)`, userID, id)
	}
	return s.session.ExecuteBatch(batch)
}

func (s *Store) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errSessionNotInitialized
	}
	var row conversationRow
	err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id).
		WithContext(ctx).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ConversationsForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errSessionNotInitialized
	}
	iter := s.session.
		Query(`SELECT conversation_id FROM conversations_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()
	var (
		id  string
		ids []string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]domainchat.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.ConversationByID(ctx, id)
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			s.logger.Warn("dangling conversation index", "user_id", userID, "conversation_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *Store) Messages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	if _, err := s.ConversationByID(ctx, conversationID); err != nil {
		return nil, err
	}
	iter := s.session.
		Query(`SELECT id, conversation_id, sender_id, text, client_id, seq, created_at FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Iter()
	out := make([]domainchat.Message, 0)
	var m domainchat.Message
	for iter.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ClientID, &m.Seq, &m.CreatedAt) {
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	domainchat.SortMessages(out)
	return out, nil
}

// AppendMessage allocates a sequence, claims the client token and writes the message.
// A lost token claim returns the message stored under that token.
func (s *Store) AppendMessage(ctx context.Context, msg *domainchat.Message) (domainchat.Message, bool, error) {
	if s.session == nil {
		return domainchat.Message{}, false, errSessionNotInitialized
	}
	if stored, ok, err := s.messageByToken(ctx, msg); err != nil || ok {
		if err != nil {
			return domainchat.Message{}, false, err
		}
		return s.replay(ctx, stored)
	}

	seq, at, err := s.nextSeq(ctx, msg.ConversationID, msg.CreatedAt)
	if err != nil {
		return domainchat.Message{}, false, err
	}
	stored := *msg
	stored.Seq = seq
	stored.CreatedAt = at

	applied, err := s.session.
		Query(`INSERT INTO message_tokens (conversation_id, sender_id, client_id, message_id, seq, text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			stored.ConversationID, stored.SenderID, stored.ClientID, stored.ID, stored.Seq, stored.Text, stored.CreatedAt).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return domainchat.Message{}, false, err
	}
	if !applied {
		existing, ok, err := s.messageByToken(ctx, msg)
		if err != nil {
			return domainchat.Message{}, false, err
		}
		if !ok {
			return domainchat.Message{}, false, fmt.Errorf("scylla: token claimed but not readable")
		}
		return s.replay(ctx, existing)
	}

	if err := s.writeMessage(ctx, stored); err != nil {
		return domainchat.Message{}, false, err
	}
	return stored, true, nil
}

// replay completes the writes of the message a token was claimed for. The token row
// commits first, so an earlier attempt may have stopped before the history row or the
// summary landed. Both writes are idempotent.
func (s *Store) replay(ctx context.Context, stored domainchat.Message) (domainchat.Message, bool, error) {
	if err := s.writeMessage(ctx, stored); err != nil {
		return domainchat.Message{}, false, err
	}
	return stored, false, nil
}

func (s *Store) writeMessage(ctx context.Context, m domainchat.Message) error {
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, seq, id, sender_id, text, client_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.Seq, m.ID, m.SenderID, m.Text, m.ClientID, m.CreatedAt).
		WithContext(ctx).
		Exec(); err != nil {
		return err
	}
	return s.applySummary(ctx, m)
}

// nextSeq advances message_seq and message_clock together under one compare-and-set, so
// the returned time never precedes the time stamped on the previous sequence.
func (s *Store) nextSeq(ctx context.Context, conversationID string, now time.Time) (int64, time.Time, error) {
	now = now.UTC().Truncate(time.Millisecond)
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		var (
			current int64
			clock   time.Time
		)
		err := s.session.
			Query(`SELECT message_seq, message_clock FROM conversations WHERE id = ?`, conversationID).
			WithContext(ctx).
			Consistency(gocql.Consistency(gocql.LocalSerial)).
			Scan(&current, &clock)
		if err != nil {
			if errors.Is(err, gocql.ErrNotFound) {
				return 0, time.Time{}, domainchat.ErrConversationNotFound
			}
			return 0, time.Time{}, err
		}
		at := domainchat.StampAfter(now, clock)
		applied, err := s.session.
			Query(`UPDATE conversations SET message_seq = ?, message_clock = ? WHERE id = ? IF message_seq = ?`, current+1, at, conversationID, current).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return 0, time.Time{}, err
		}
		if applied {
			return current + 1, at, nil
		}
	}
	return 0, time.Time{}, errSeqContention
}

func (s *Store) applySummary(ctx context.Context, m domainchat.Message) error {
	_, err := s.session.
		Query(`UPDATE conversations SET last_message = ?, last_message_at = ?, last_seq = ?, updated_at = ? WHERE id = ? IF last_seq < ?`,
			m.Text, m.CreatedAt, m.Seq, m.CreatedAt, m.ConversationID, m.Seq).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	return err
}

func (s *Store) messageByToken(ctx context.Context, msg *domainchat.Message) (domainchat.Message, bool, error) {
	stored := domainchat.Message{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ClientID:       msg.ClientID,
	}
	err := s.session.
		Query(`SELECT message_id, seq, text, created_at FROM message_tokens WHERE conversation_id = ? AND sender_id = ? AND client_id = ?`,
			msg.ConversationID, msg.SenderID, msg.ClientID).
		WithContext(ctx).
		Scan(&stored.ID, &stored.Seq, &stored.Text, &stored.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return domainchat.Message{}, false, nil
		}
		return domainchat.Message{}, false, err
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return stored, true, nil
}

type conversationRow struct {
	ID            string
	ListingID     string
	Participants  []string
	LastMessage   string
	LastMessageAt time.Time
	LastSeq       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.ListingID, &r.Participants, &r.LastMessage,
		&r.LastMessageAt, &r.LastSeq, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r conversationRow) toDomain() (*domainchat.Conversation, error) {
	participants, err := domainchat.ParticipantsFromSlice(r.Participants)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", r.ID, err)
	}
	return &domainchat.Conversation{
		ID:            r.ID,
		ListingID:     r.ListingID,
		Participants:  participants,
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt.UTC(),
		LastSeq:       r.LastSeq,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

var _ domainchat.Repository = (*Store)(nil)
