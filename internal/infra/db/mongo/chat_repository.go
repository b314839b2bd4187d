package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "findit/internal/domain/chat"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

// ChatRepository stores conversations and messages. Unique indexes on
// (listing_id, participant_key) and (chat_id, sender_id, client_id) enforce the
// one-thread-per-pair and one-message-per-token rules.
type ChatRepository struct {
	chats        *mongo.Collection
	messages     *mongo.Collection
	transactions bool
}

type ChatOptions struct {
	// Transactions wraps message insert and summary update in one transaction.
	// Requires a replica set.
	Transactions bool
}

func NewChatRepository(ctx context.Context, db *mongo.Database, opts ChatOptions) (*ChatRepository, error) {
	repo := newChatRepository(db, opts)
	if err := ensureIndexes(ctx, repo.chats,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "listing_id", Value: 1}, {Key: "participant_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_listing_pair"),
		},
		mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
	); err != nil {
		return nil, err
	}
	if err := ensureIndexes(ctx, repo.messages,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_chat_sender_client"),
		},
		mongo.IndexModel{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
	); err != nil {
		return nil, err
	}
	return repo, nil
}

func newChatRepository(db *mongo.Database, opts ChatOptions) *ChatRepository {
	return &ChatRepository{
		chats:        db.Collection(chatsCollection),
		messages:     db.Collection(messagesCollection),
		transactions: opts.Transactions,
	}
}

type chatDocument struct {
	ID             string    `bson:"_id"`
	ListingID      string    `bson:"listing_id"`
	Participants   []string  `bson:"participants"`
	ParticipantKey string    `bson:"participant_key"`
	LastMessage    string    `bson:"last_message"`
	LastMessageAt  time.Time `bson:"last_message_at"`
	LastSeq        int64     `bson:"last_seq"`
	MessageSeq     int64     `bson:"message_seq"`
	MessageClock   time.Time `bson:"message_clock"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func newChatDocument(c *domainchat.Conversation) chatDocument {
	return chatDocument{
		ID:             c.ID,
		ListingID:      c.ListingID,
		Participants:   c.Participants.Slice(),
		ParticipantKey: c.Participants.Key(),
		LastMessage:    c.LastMessage,
		LastMessageAt:  c.LastMessageAt,
		LastSeq:        c.LastSeq,
		MessageSeq:     c.LastSeq,
		MessageClock:   c.LastMessageAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (d chatDocument) toDomain() (*domainchat.Conversation, error) {
	participants, err := domainchat.ParticipantsFromSlice(d.Participants)
	if err != nil {
		return nil, err
	}
	return &domainchat.Conversation{
		ID:            d.ID,
		ListingID:     d.ListingID,
		Participants:  participants,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt.UTC(),
		LastSeq:       d.LastSeq,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}, nil
}

type messageDocument struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chat_id"`
	SenderID  string    `bson:"sender_id"`
	Text      string    `bson:"text"`
	ClientID  string    `bson:"client_id"`
	Seq       int64     `bson:"seq"`
	CreatedAt time.Time `bson:"created_at"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	return messageDocument{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		ClientID:  m.ClientID,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
	}
}

func (d messageDocument) toDomain() domainchat.Message {
	return domainchat.Message{
		ID:             d.ID,
		ConversationID: d.ChatID,
		SenderID:       d.SenderID,
		Text:           d.Text,
		ClientID:       d.ClientID,
		Seq:            d.Seq,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

func (r *ChatRepository) FindConversation(ctx context.Context, listingID string, participants domainchat.Participants) (*domainchat.Conversation, error) {
	return r.findOne(ctx, bson.M{"listing_id": listingID, "participant_key": participants.Key()})
}

func (r *ChatRepository) CreateConversation(ctx context.Context, conv *domainchat.Conversation) error {
	if _, err := r.chats.InsertOne(ctx, newChatDocument(conv)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.ErrConversationExists
		}
		return err
	}
	return nil
}

func (r *ChatRepository) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ChatRepository) findOne(ctx context.Context, filter bson.M) (*domainchat.Conversation, error) {
	var doc chatDocument
	if err := r.chats.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain()
}

func (r *ChatRepository) ConversationsForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.chats.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []chatDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainchat.Conversation, 0, len(docs))
	for _, doc := range docs {
		conv, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, nil
}

func (r *ChatRepository) Messages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	if _, err := r.ConversationByID(ctx, conversationID); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := r.messages.Find(ctx, bson.M{"chat_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainchat.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

var errTokenSeen = errors.New("mongo: client id already used")

// AppendMessage allocates the next sequence, inserts the message and refreshes the
// summary. A (chat, sender, client id) collision returns the stored message.
func (r *ChatRepository) AppendMessage(ctx context.Context, msg *domainchat.Message) (domainchat.Message, bool, error) {
	if existing, ok, err := r.messageByToken(ctx, msg); err != nil || ok {
		return existing, false, err
	}

	var stored domainchat.Message
	write := func(ctx context.Context) error {
		var err error
		stored, err = r.insertMessage(ctx, msg)
		return err
	}
	var err error
	if r.transactions {
		err = r.withTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if errors.Is(err, errTokenSeen) {
		existing, ok, lookupErr := r.messageByToken(ctx, msg)
		if lookupErr != nil {
			return domainchat.Message{}, false, lookupErr
		}
		if ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return domainchat.Message{}, false, err
	}
	return stored, true, nil
}

func (r *ChatRepository) insertMessage(ctx context.Context, msg *domainchat.Message) (domainchat.Message, error) {
	seq, at, err := r.nextSeq(ctx, msg.ConversationID, msg.CreatedAt)
	if err != nil {
		return domainchat.Message{}, err
	}
	stored := *msg
	stored.Seq = seq
	stored.CreatedAt = at
	if _, err := r.messages.InsertOne(ctx, newMessageDocument(&stored)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.Message{}, errTokenSeen
		}
		return domainchat.Message{}, err
	}
	if err := r.applySummary(ctx, stored); err != nil {
		return domainchat.Message{}, err
	}
	return stored, nil
}

// nextSeq allocates the sequence and the creation time in one update. message_clock only
// moves forward, so a later sequence never carries an earlier timestamp.
func (r *ChatRepository) nextSeq(ctx context.Context, conversationID string, now time.Time) (int64, time.Time, error) {
	now = now.UTC().Truncate(time.Millisecond)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"message_seq": 1, "message_clock": 1})
	update := bson.M{
		"$inc": bson.M{"message_seq": 1},
		"$max": bson.M{"message_clock": now},
	}
	var doc struct {
		MessageSeq   int64     `bson:"message_seq"`
		MessageClock time.Time `bson:"message_clock"`
	}
	err := r.chats.FindOneAndUpdate(ctx, bson.M{"_id": conversationID}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, time.Time{}, domainchat.ErrConversationNotFound
		}
		return 0, time.Time{}, err
	}
	return doc.MessageSeq, domainchat.StampAfter(now, doc.MessageClock), nil
}

// applySummary only moves the summary forward, so late writers never overwrite newer text.
func (r *ChatRepository) applySummary(ctx context.Context, m domainchat.Message) error {
	filter := bson.M{"_id": m.ConversationID, "last_seq": bson.M{"$lt": m.Seq}}
	update := bson.M{"$set": bson.M{
		"last_message":    m.Text,
		"last_message_at": m.CreatedAt,
		"last_seq":        m.Seq,
		"updated_at":      m.CreatedAt,
	}}
	_, err := r.chats.UpdateOne(ctx, filter, update)
	return err
}

func (r *ChatRepository) messageByToken(ctx context.Context, msg *domainchat.Message) (domainchat.Message, bool, error) {
	var doc messageDocument
	filter := bson.M{"chat_id": msg.ConversationID, "sender_id": msg.SenderID, "client_id": msg.ClientID}
	if err := r.messages.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Message{}, false, nil
		}
		return domainchat.Message{}, false, err
	}
	stored := doc.toDomain()
	if !r.transactions {
		// without transactions a crash between insert and summary can leave the summary behind
		if err := r.applySummary(ctx, stored); err != nil {
			return domainchat.Message{}, false, err
		}
	}
	return stored, true, nil
}

func (r *ChatRepository) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.chats.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	txnOpts := options.Transaction().
		SetReadConcern(r.chats.Database().ReadConcern()).
		SetWriteConcern(r.chats.Database().WriteConcern())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txnOpts)
	return err
}

var _ domainchat.Repository = (*ChatRepository)(nil)
