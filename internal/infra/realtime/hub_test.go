package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findit/internal/app/policies"
)

type stubSubscriber struct {
	id     string
	fail   bool
	mu     sync.Mutex
	got    [][]byte
	closed bool
}

func (s *stubSubscriber) ID() string { return s.id }

func (s *stubSubscriber) Send(payload []byte) error {
	if s.fail {
		return errors.New("dead connection")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, payload)
	return nil
}

func (s *stubSubscriber) Close(int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubSubscriber) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestHubPublishReachesEveryConnectionOfUser(t *testing.T) {
	hub := NewHub(nil)
	phone := &stubSubscriber{id: "phone"}
	laptop := &stubSubscriber{id: "laptop"}
	other := &stubSubscriber{id: "other"}
	require.True(t, hub.Subscribe("bob", phone))
	require.True(t, hub.Subscribe("bob", laptop))
	require.True(t, hub.Subscribe("carol", other))

	n, err := hub.Publish(context.Background(), "bob", policies.PushEvent{Type: "message:new", ConversationID: "c1", Message: map[string]string{"id": "m1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, phone.received())
	assert.Equal(t, 1, laptop.received())
	assert.Zero(t, other.received())

	var evt map[string]any
	require.NoError(t, json.Unmarshal(phone.got[0], &evt))
	assert.Equal(t, "message:new", evt["type"])
	assert.Equal(t, "c1", evt["conversation_id"])
}

func TestHubPublishWithoutConnections(t *testing.T) {
	hub := NewHub(nil)
	n, err := hub.Publish(context.Background(), "nobody", policies.PushEvent{Type: "message:new"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHubSkipsFailingConnections(t *testing.T) {
	hub := NewHub(nil)
	good := &stubSubscriber{id: "good"}
	hub.Subscribe("bob", good)
	hub.Subscribe("bob", &stubSubscriber{id: "bad", fail: true})

	n, err := hub.Publish(context.Background(), "bob", policies.PushEvent{Type: "message:new"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	sub := &stubSubscriber{id: "s1"}
	hub.Subscribe("bob", sub)
	assert.Equal(t, 1, hub.Connections("bob"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Zero(t, hub.Connections("bob"))

	n, _ := hub.Publish(context.Background(), "bob", policies.PushEvent{Type: "message:new"})
	assert.Zero(t, n)
}

func TestHubResubscribeMovesTopic(t *testing.T) {
	hub := NewHub(nil)
	sub := &stubSubscriber{id: "s1"}
	hub.Subscribe("bob", sub)
	hub.Subscribe("alice", sub)
	assert.Zero(t, hub.Connections("bob"))
	assert.Equal(t, 1, hub.Connections("alice"))
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	sub := &stubSubscriber{id: "s1"}
	hub.Subscribe("bob", sub)

	hub.Close()
	assert.True(t, sub.closed)
	assert.False(t, hub.Subscribe("bob", &stubSubscriber{id: "late"}))
	assert.Zero(t, hub.Connections("bob"))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "user:u1", Topic("u1"))
}
