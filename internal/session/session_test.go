package session

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flymqtt/internal/protocol"
)

func newTestSession(clientID string, mailboxCap int) (*Session, chan Delivery) {
	mailbox := make(chan Delivery, mailboxCap)
	s := New(protocol.Connect{ClientID: clientID, CleanSession: true}, 1883, mailbox)
	return s, mailbox
}

func TestAddClientEvicts(t *testing.T) {
	r := NewRegistry()

	first, _ := newTestSession("dev-1", 1)
	evicted := r.AddClient(first)
	assert.Nil(t, evicted)

	second, _ := newTestSession("dev-1", 1)
	evicted = r.AddClient(second)
	require.NotNil(t, evicted)
	assert.Same(t, first, evicted)

	assert.Equal(t, 1, r.Count())
	assert.Same(t, second, r.GetSession("dev-1"))
}

func TestRemoveClient(t *testing.T) {
	r := NewRegistry()
	s, _ := newTestSession("dev-1", 1)
	r.AddClient(s)

	removed := r.RemoveClient("dev-1")
	assert.Same(t, s, removed)
	assert.Nil(t, r.GetSession("dev-1"))
	assert.Nil(t, r.RemoveClient("dev-1"))
}

func TestSubscriptionMutation(t *testing.T) {
	r := NewRegistry()
	s, _ := newTestSession("dev-1", 1)
	r.AddClient(s)

	assert.True(t, r.AddSubscription("dev-1", "a/+/c", 1))
	require.Contains(t, s.Subscriptions, "a/+/c")
	assert.Equal(t, byte(1), s.Subscriptions["a/+/c"].QoS)

	assert.True(t, r.RemoveSubscription("dev-1", "a/+/c"))
	assert.NotContains(t, s.Subscriptions, "a/+/c")

	// Unknown client ids are a no-op, not an error.
	assert.False(t, r.AddSubscription("ghost", "a/b", 0))
	assert.False(t, r.RemoveSubscription("ghost", "a/b"))
}

func TestTrySendDropsWhenFull(t *testing.T) {
	s, mailbox := newTestSession("dev-1", 1)

	assert.True(t, s.TrySend(Delivery{Publish: protocol.Publish{Topic: "a"}}))
	assert.False(t, s.TrySend(Delivery{Publish: protocol.Publish{Topic: "b"}}), "full mailbox drops")

	got := <-mailbox
	assert.Equal(t, "a", got.Publish.Topic)
}

func TestPagination(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 25; i++ {
		s, _ := newTestSession(fmt.Sprintf("client-%02d", i), 1)
		r.AddClient(s)
	}

	page0 := r.ListPaginated(0, 10)
	assert.Len(t, page0.Content, 10)
	assert.Equal(t, 25, page0.TotalElements)
	assert.Equal(t, 3, page0.TotalPages)
	assert.Equal(t, "client-00", page0.Content[0].ClientID)

	page2 := r.ListPaginated(2, 10)
	assert.Len(t, page2.Content, 5)
	assert.Equal(t, 2, page2.Page)

	page9 := r.ListPaginated(9, 10)
	assert.Empty(t, page9.Content)
	assert.Equal(t, 3, page9.TotalPages)
}

func TestPageMath(t *testing.T) {
	tests := []struct {
		total, size, wantPages int
	}{
		{25, 10, 3},
		{30, 10, 3},
		{31, 10, 4},
		{0, 10, 0},
		{5, 0, 0},
	}

	for _, tt := range tests {
		p := NewPage[int](nil, 0, tt.size, tt.total)
		assert.Equal(t, tt.wantPages, p.TotalPages, "total=%d size=%d", tt.total, tt.size)
	}
}

func TestSnapshotsCarryNoMailbox(t *testing.T) {
	r := NewRegistry()
	s, _ := newTestSession("dev-1", 1)
	r.AddClient(s)
	require.True(t, r.AddSubscription("dev-1", "a/b", 0))

	page := r.ListPaginated(0, 10)
	require.Len(t, page.Content, 1)
	snap := page.Content[0]
	assert.Nil(t, snap.Mailbox)

	// Mutating the snapshot's subscription map must not touch the live
	// session.
	snap.Subscriptions["rogue"] = Subscription{}
	assert.NotContains(t, s.Subscriptions, "rogue")
}

func TestSessionJSON(t *testing.T) {
	mailbox := make(chan Delivery, 1)
	s := New(protocol.Connect{
		ClientID:     "dev-1",
		Username:     "alice",
		HasUsername:  true,
		CleanSession: true,
	}, 1883, mailbox)
	s.ConnectedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	s.Subscriptions["a/b"] = Subscription{QoS: 1, SubscribedAt: s.ConnectedAt}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "dev-1", decoded["client_id"])
	assert.Equal(t, "alice", decoded["username"])
	assert.Equal(t, true, decoded["clean_session"])
	assert.Equal(t, float64(1883), decoded["connected_port"])
	assert.Equal(t, "2026-03-14 09:26:53", decoded["connected_at"])
	assert.NotContains(t, string(data), "mailbox")
	assert.NotContains(t, string(data), "Mailbox")

	subs := decoded["subscriptions"].(map[string]any)
	sub := subs["a/b"].(map[string]any)
	assert.Equal(t, float64(1), sub["qos"])
	assert.Equal(t, "2026-03-14 09:26:53", sub["subscribed_at"])
}
