package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flymqtt/internal/config"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
)

func newTestEngine() *Engine {
	return New(session.NewRegistry(), 64)
}

func connectCmd(clientID string, mailboxCap int) (Connect, chan session.Delivery) {
	mailbox := make(chan session.Delivery, mailboxCap)
	cmd := Connect{
		Packet:  protocol.Connect{ClientID: clientID, CleanSession: true, KeepAlive: 60},
		Port:    1883,
		Mailbox: mailbox,
	}
	return cmd, mailbox
}

func subscribeCmd(clientID, filter string) Subscribe {
	return Subscribe{
		Packet:   protocol.Subscribe{PacketID: 1, TopicFilter: filter},
		ClientID: clientID,
	}
}

func TestReconnectEviction(t *testing.T) {
	e := newTestEngine()

	first, firstMailbox := connectCmd("dev-1", 4)
	e.handleLifecycle(first)
	e.handlePubSub(subscribeCmd("dev-1", "a/b"))

	second, secondMailbox := connectCmd("dev-1", 4)
	e.handleLifecycle(second)

	// Exactly one live session remains.
	assert.Equal(t, 1, e.registry.Count())

	// The first connection's mailbox received exactly one Disconnect.
	require.Len(t, firstMailbox, 1)
	got := <-firstMailbox
	assert.True(t, got.Disconnect)
	assert.Empty(t, secondMailbox)

	// The evicted session's subscriptions are gone from the tree; the
	// fresh session has none yet.
	e.handlePubSub(Publish{Packet: protocol.Publish{Topic: "a/b", Payload: []byte("x")}})
	assert.Empty(t, secondMailbox)
	assert.Empty(t, firstMailbox)
}

func TestDisconnectCleansBothStructures(t *testing.T) {
	e := newTestEngine()

	connect, mailbox := connectCmd("dev-1", 4)
	e.handleLifecycle(connect)
	e.handlePubSub(subscribeCmd("dev-1", "sensors/#"))

	e.handleLifecycle(Disconnect{ClientID: "dev-1"})

	assert.Equal(t, 0, e.registry.Count())
	assert.True(t, e.tree.Empty())

	// Idempotent: a second disconnect for the same client is harmless.
	e.handleLifecycle(Disconnect{ClientID: "dev-1"})
	assert.Empty(t, mailbox)
}

func TestSubscribeUnknownClientTouchesNothing(t *testing.T) {
	e := newTestEngine()

	e.handlePubSub(subscribeCmd("ghost", "a/b"))

	// Both-or-neither: no session, so the tree must stay empty too.
	assert.True(t, e.tree.Empty())
}

func TestUnsubscribeRemovesBoth(t *testing.T) {
	e := newTestEngine()

	connect, mailbox := connectCmd("dev-1", 4)
	e.handleLifecycle(connect)
	e.handlePubSub(subscribeCmd("dev-1", "a/b"))

	e.handlePubSub(Unsubscribe{
		Packet:   protocol.Unsubscribe{PacketID: 2, TopicFilter: "a/b"},
		ClientID: "dev-1",
	})

	assert.True(t, e.tree.Empty())
	s := e.registry.GetSession("dev-1")
	require.NotNil(t, s)
	assert.Empty(t, s.Subscriptions)

	e.handlePubSub(Publish{Packet: protocol.Publish{Topic: "a/b"}})
	assert.Empty(t, mailbox)
}

func TestPublishFanOut(t *testing.T) {
	e := newTestEngine()

	a, aMailbox := connectCmd("A", 4)
	b, bMailbox := connectCmd("B", 4)
	e.handleLifecycle(a)
	e.handleLifecycle(b)
	e.handlePubSub(subscribeCmd("A", "sensors/+/temp"))

	e.handlePubSub(Publish{Packet: protocol.Publish{
		Topic:   "sensors/room1/temp",
		Payload: []byte{0x01, 0x02},
	}})

	require.Len(t, aMailbox, 1)
	got := <-aMailbox
	assert.False(t, got.Disconnect)
	assert.Equal(t, "sensors/room1/temp", got.Publish.Topic)
	assert.Equal(t, []byte{0x01, 0x02}, got.Publish.Payload)

	// The publisher gets nothing back through the engine.
	assert.Empty(t, bMailbox)

	// Non-matching depth does not deliver.
	e.handlePubSub(Publish{Packet: protocol.Publish{Topic: "sensors/room1/x/temp"}})
	assert.Empty(t, aMailbox)
}

func TestPublishFullMailboxDrops(t *testing.T) {
	e := newTestEngine()

	connect, mailbox := connectCmd("slow", 1)
	e.handleLifecycle(connect)
	e.handlePubSub(subscribeCmd("slow", "#"))

	e.handlePubSub(Publish{Packet: protocol.Publish{Topic: "a", Payload: []byte("1")}})
	e.handlePubSub(Publish{Packet: protocol.Publish{Topic: "a", Payload: []byte("2")}})

	// Capacity 1: the second delivery was dropped, not queued.
	require.Len(t, mailbox, 1)
	got := <-mailbox
	assert.Equal(t, []byte("1"), got.Publish.Payload)
}

func TestAdminGetClients(t *testing.T) {
	e := newTestEngine()
	for _, id := range []string{"a", "b", "c"} {
		cmd, _ := connectCmd(id, 1)
		e.handleLifecycle(cmd)
	}

	replyCh := make(chan session.Page[*session.Session], 1)
	e.handleAdmin(GetClients{Reply: replyCh, Page: 0, Size: 2})

	page := <-replyCh
	assert.Len(t, page.Content, 2)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
}

type fakeController struct {
	listeners []config.ListenerConfig
	stopped   []int
}

func (f *fakeController) Listeners() []config.ListenerConfig { return f.listeners }

func (f *fakeController) StopListener(port int) bool {
	for _, l := range f.listeners {
		if l.Port == port {
			f.stopped = append(f.stopped, port)
			return true
		}
	}
	return false
}

func TestAdminListenerCommands(t *testing.T) {
	e := newTestEngine()
	ctrl := &fakeController{listeners: []config.ListenerConfig{
		{Name: "tcp", Protocol: config.ProtocolTCP, Host: "0.0.0.0", Port: 1883},
	}}
	e.SetListenerController(ctrl)

	listCh := make(chan []config.ListenerConfig, 1)
	e.handleAdmin(GetListeners{Reply: listCh})
	list := <-listCh
	require.Len(t, list, 1)
	assert.Equal(t, 1883, list[0].Port)

	stopCh := make(chan bool, 1)
	e.handleAdmin(StopListener{Port: 1883, Reply: stopCh})
	assert.True(t, <-stopCh)
	assert.Equal(t, []int{1883}, ctrl.stopped)

	e.handleAdmin(StopListener{Port: 9999, Reply: stopCh})
	assert.False(t, <-stopCh)
}

func TestAdminWithoutControllerReturnsEmpty(t *testing.T) {
	e := newTestEngine()

	listCh := make(chan []config.ListenerConfig, 1)
	e.handleAdmin(GetListeners{Reply: listCh})
	assert.Empty(t, <-listCh)

	stopCh := make(chan bool, 1)
	e.handleAdmin(StopListener{Port: 1883, Reply: stopCh})
	assert.False(t, <-stopCh)
}

func TestRunEndToEnd(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	a, aMailbox := connectCmd("A", 4)
	b, bMailbox := connectCmd("B", 4)
	e.SubmitLifecycle(a)
	e.SubmitLifecycle(b)

	// Lifecycle and pubsub are independent channels, so wait for the
	// connects to land before subscribing.
	require.Eventually(t, func() bool { return e.registry.Count() == 2 },
		2*time.Second, 5*time.Millisecond)

	// Subscription lands before the publish: both travel the pubsub
	// channel, which preserves order.
	e.SubmitPubSub(subscribeCmd("A", "sensors/+/temp"))
	e.SubmitPubSub(Publish{Packet: protocol.Publish{
		Topic:   "sensors/room1/temp",
		Payload: []byte{0x01, 0x02},
	}})

	select {
	case got := <-aMailbox:
		assert.Equal(t, "sensors/room1/temp", got.Publish.Topic)
		assert.Equal(t, []byte{0x01, 0x02}, got.Publish.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("publish never delivered")
	}
	assert.Empty(t, aMailbox, "exactly one delivery")
	assert.Empty(t, bMailbox)
}
