package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findit/internal/app/apperr"
	"findit/internal/app/dto"
	"findit/internal/app/policies"
	domainchat "findit/internal/domain/chat"
	domainlistings "findit/internal/domain/listings"
	domainuser "findit/internal/domain/user"
	"findit/internal/infra/storage/memory"
)

type delivery struct {
	userID string
	event  policies.PushEvent
}

// recordingBroadcaster counts deliveries only for users with a live connection.
type recordingBroadcaster struct {
	mu     sync.Mutex
	online map[string]int
	got    []delivery
	fail   bool
}

func (b *recordingBroadcaster) Publish(ctx context.Context, userID string, event policies.PushEvent) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return 0, errors.New("hub exploded")
	}
	n := b.online[userID]
	for i := 0; i < n; i++ {
		b.got = append(b.got, delivery{userID: userID, event: event})
	}
	return n, nil
}

func (b *recordingBroadcaster) deliveries(userID string) []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []delivery
	for _, d := range b.got {
		if d.userID == userID {
			out = append(out, d)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	chats   *memory.ChatRepository
	users   *memory.UserRepository
	outbox  *memory.Outbox
	push    *recordingBroadcaster
	listing *domainlistings.Listing
	clock   time.Time
	clockMu sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		chats:  memory.NewChatRepository(),
		users:  memory.NewUserRepository(),
		outbox: memory.NewOutbox(),
		push:   &recordingBroadcaster{online: map[string]int{}},
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		u, err := domainuser.NewUser(domainuser.CreateParams{ID: id, Email: id + "@campus.edu", Name: id})
		require.NoError(t, err)
		u.Phone = "+1-555-" + id
		require.NoError(t, f.users.Save(ctx, u))
	}
	listings := memory.NewListingRepository()
	listing, err := domainlistings.NewListing(domainlistings.CreateListingParams{
		ID:      "L",
		Type:    domainlistings.TypeSale,
		Title:   "Bike",
		Images:  []string{"https://img/bike.png"},
		OwnerID: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, listings.Save(ctx, listing))
	f.listing = listing

	f.svc = &Service{
		Chats:          f.chats,
		Listings:       listings,
		Users:          f.users,
		Broadcaster:    f.push,
		Outbox:         f.outbox,
		RequireProfile: true,
		Now:            f.now,
	}
	return f
}

// now advances one millisecond per call so stored order follows call order.
func (f *fixture) now() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fixture) conversation(t *testing.T) *domainchat.Conversation {
	t.Helper()
	conv, _, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, sender, convID, text, token string) SendResult {
	t.Helper()
	res, err := f.svc.SendMessage(context.Background(), SendParams{SenderID: sender, ConversationID: convID, Text: text, ClientID: token})
	require.NoError(t, err)
	return res
}

func TestCreateOrGetConversationIsUnique(t *testing.T) {
	f := newFixture(t)
	first, created, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domainchat.Participants{"alice", "bob"}, first.Participants)
	assert.Empty(t, first.LastMessage)

	again, created, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	var started int
	for _, rec := range f.outbox.Records() {
		if rec.Name == "chat.conversation_started" {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestCreateOrGetConversationConcurrent(t *testing.T) {
	f := newFixture(t)
	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := f.chats.ConversationsForUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

// racingRepository makes every lookup miss so creation always hits the storage constraint.
type racingRepository struct {
	*memory.ChatRepository
	misses int
}

func (r *racingRepository) FindConversation(ctx context.Context, listingID string, p domainchat.Participants) (*domainchat.Conversation, error) {
	if r.misses > 0 {
		r.misses--
		return nil, domainchat.ErrConversationNotFound
	}
	return r.ChatRepository.FindConversation(ctx, listingID, p)
}

func TestCreateOrGetConversationConvertsConflictIntoFetch(t *testing.T) {
	f := newFixture(t)
	winner := f.conversation(t)

	f.svc.Chats = &racingRepository{ChatRepository: f.chats, misses: 1}
	conv, created, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, conv.ID)
}

func TestCreateOrGetConversationWaitsForWinner(t *testing.T) {
	f := newFixture(t)
	winner := f.conversation(t)

	// the winner's row is not readable on the first lookup after the conflict
	f.svc.Chats = &racingRepository{ChatRepository: f.chats, misses: 2}
	conv, created, err := f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, conv.ID)

	f.svc.Chats = &racingRepository{ChatRepository: f.chats, misses: 1 + conflictLookups}
	_, _, err = f.svc.CreateOrGetConversation(context.Background(), "bob", "L")
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.NotErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateOrGetConversationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateOrGetConversation(ctx, "alice", "L")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput, "self chat")

	_, _, err = f.svc.CreateOrGetConversation(ctx, "bob", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = f.svc.CreateOrGetConversation(ctx, "bob", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = f.svc.CreateOrGetConversation(ctx, "", "L")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestProfileGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t)

	u, err := f.users.ByID(ctx, "bob")
	require.NoError(t, err)
	u.Phone = ""
	require.NoError(t, f.users.Save(ctx, u))

	_, err = f.svc.SendMessage(ctx, SendParams{SenderID: "bob", ConversationID: conv.ID, Text: "hi", ClientID: "t1"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, "profile incomplete: phone required", apperr.Reason(err))

	f.svc.RequireProfile = false
	_, err = f.svc.SendMessage(ctx, SendParams{SenderID: "bob", ConversationID: conv.ID, Text: "hi", ClientID: "t1"})
	assert.NoError(t, err)
}

func TestSendMessageIdempotent(t *testing.T) {
	f := newFixture(t)
	f.push.online["alice"] = 1
	conv := f.conversation(t)

	first := f.send(t, "bob", conv.ID, "hi", "t1")
	assert.True(t, first.Created)
	second := f.send(t, "bob", conv.ID, "hi", "t1")
	assert.False(t, second.Created)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	msgs, err := f.svc.ListMessages(context.Background(), "alice", conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, f.push.deliveries("alice"), 1, "replay is not pushed again")

	var sent int
	for _, rec := range f.outbox.Records() {
		if rec.Name == "chat.message_sent" {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestSendMessageConcurrentRetriesStoreOnce(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)

	var wg sync.WaitGroup
	results := make([]SendResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.SendMessage(context.Background(), SendParams{SenderID: "bob", ConversationID: conv.ID, Text: "hi", ClientID: "retry"})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		assert.Equal(t, results[0].Message.ID, r.Message.ID)
		if r.Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestListMessagesOrder(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	for i, sender := range []string{"bob", "alice", "bob"} {
		f.send(t, sender, conv.ID, fmt.Sprintf("m%d", i+1), fmt.Sprintf("t%d", i+1))
	}

	for _, reader := range []string{"alice", "bob"} {
		msgs, err := f.svc.ListMessages(context.Background(), reader, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m1", msgs[0].Text)
		assert.Equal(t, "m2", msgs[1].Text)
		assert.Equal(t, "m3", msgs[2].Text)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	ctx := context.Background()

	_, err := f.svc.ListMessages(ctx, "carol", conv.ID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.SendMessage(ctx, SendParams{SenderID: "carol", ConversationID: conv.ID, Text: "hey", ClientID: "t1"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.ListMessages(ctx, "alice", "does-not-exist")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied, "missing conversation looks like a denial")

	_, err = f.svc.ListMessages(ctx, "", conv.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	for _, member := range []string{"alice", "bob"} {
		_, err := f.svc.ListMessages(ctx, member, conv.ID)
		assert.NoError(t, err)
	}
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)

	_, err := f.svc.SendMessage(context.Background(), SendParams{SenderID: "bob", ConversationID: conv.ID, Text: "   ", ClientID: "t1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, "text is required", apperr.Reason(err))

	_, err = f.svc.SendMessage(context.Background(), SendParams{SenderID: "bob", ConversationID: conv.ID, Text: "hi", ClientID: ""})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	msgs, err := f.svc.ListMessages(context.Background(), "bob", conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFanOut(t *testing.T) {
	t.Run("one live connection receives exactly one event", func(t *testing.T) {
		f := newFixture(t)
		f.push.online["alice"] = 1
		conv := f.conversation(t)

		res := f.send(t, "bob", conv.ID, "ping", "t1")
		got := f.push.deliveries("alice")
		require.Len(t, got, 1)
		assert.Equal(t, EventMessageNew, got[0].event.Type)
		assert.Equal(t, conv.ID, got[0].event.ConversationID)
		payload, ok := got[0].event.Message.(dto.ChatMessage)
		require.True(t, ok)
		assert.Equal(t, res.Message.ID, payload.ID)
		assert.Empty(t, f.push.deliveries("bob"), "sender is not pushed")
	})

	t.Run("no live connection is not an error", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t)

		res := f.send(t, "bob", conv.ID, "ping", "t1")
		assert.Empty(t, f.push.deliveries("alice"))

		msgs, err := f.svc.ListMessages(context.Background(), "alice", conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, res.Message.ID, msgs[0].ID)
	})

	t.Run("broadcaster failure is swallowed", func(t *testing.T) {
		f := newFixture(t)
		f.push.fail = true
		conv := f.conversation(t)

		res := f.send(t, "bob", conv.ID, "ping", "t1")
		assert.True(t, res.Created)
	})
}

func TestSendMessageOrderSurvivesClockSkew(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base.Add(5 * time.Second), base.Add(time.Second), base.Add(2 * time.Second)}
	var mu sync.Mutex
	f.svc.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next := stamps[0]
		stamps = stamps[1:]
		return next
	}
	for _, text := range []string{"m1", "m2", "m3"} {
		f.send(t, "bob", conv.ID, text, "t-"+text)
	}

	msgs, err := f.svc.ListMessages(context.Background(), "alice", conv.ID)
	require.NoError(t, err)
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, texts)

	stored, err := f.chats.ConversationByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "m3", stored.LastMessage)
	assert.Equal(t, msgs[2].CreatedAt, stored.LastMessageAt)
}

func TestSendMessageWithoutBroadcaster(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	f.svc.Broadcaster = nil

	res := f.send(t, "bob", conv.ID, "offline", "t1")
	assert.True(t, res.Created)
	assert.NotEmpty(t, f.outbox.Records())
}

func TestSummaryUpdate(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t)
	res := f.send(t, "bob", conv.ID, "  latest  ", "t1")

	stored, err := f.chats.ConversationByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "latest", stored.LastMessage)
	assert.Equal(t, res.Message.CreatedAt, stored.LastMessageAt)
}

func TestListConversationsEnriched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.conversation(t)

	lamp, err := domainlistings.NewListing(domainlistings.CreateListingParams{ID: "L2", Type: domainlistings.TypeFound, Title: "Lamp", OwnerID: "carol"})
	require.NoError(t, err)
	listings := f.svc.Listings.(*memory.ListingRepository)
	require.NoError(t, listings.Save(ctx, lamp))
	newer, _, err := f.svc.CreateOrGetConversation(ctx, "bob", "L2")
	require.NoError(t, err)
	f.send(t, "bob", older.ID, "bump", "t1")

	list, err := f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, older.ID, list.Items[0].ID, "most recent activity first")
	assert.Equal(t, newer.ID, list.Items[1].ID)

	first := list.Items[0]
	require.NotNil(t, first.Listing)
	assert.Equal(t, "Bike", first.Listing.Title)
	assert.Equal(t, "https://img/bike.png", first.Listing.Image)
	require.NotNil(t, first.Counterpart)
	assert.Equal(t, "alice", first.Counterpart.ID)
	assert.Equal(t, "+1-555-alice", first.Counterpart.Phone)
	assert.Equal(t, "bump", first.LastMessage)

	require.NoError(t, listings.Delete(ctx, "L"))
	list, err = f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, list.Items[0].Listing, "deleted listing is shown as absent")

	list, err = f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
}

func TestAliceAndBob(t *testing.T) {
	f := newFixture(t)
	f.push.online["alice"] = 1
	ctx := context.Background()

	c1, _, err := f.svc.CreateOrGetConversation(ctx, "bob", "L")
	require.NoError(t, err)

	f.send(t, "bob", c1.ID, "is this still available?", "tok-1")
	assert.Len(t, f.push.deliveries("alice"), 1)

	msgs, err := f.svc.ListMessages(ctx, "alice", c1.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	f.send(t, "alice", c1.ID, "yes!", "tok-2")
	msgs, err = f.svc.ListMessages(ctx, "bob", c1.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "is this still available?", msgs[0].Text)
	assert.Equal(t, "yes!", msgs[1].Text)
}

func TestServiceRequiresDependencies(t *testing.T) {
	_, err := (&Service{}).ListMessages(context.Background(), "a", "c")
	assert.ErrorIs(t, err, ErrServiceNotConfigured)
}
