package client

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flymqtt/internal/config"
	"flymqtt/internal/engine"
	"flymqtt/internal/server"
	"flymqtt/internal/session"
)

// startBroker runs a real broker on an ephemeral TCP port.
func startBroker(t *testing.T) (addr string, registry *session.Registry) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.Listeners = []config.ListenerConfig{
		{Name: "tcp-test", Protocol: config.ProtocolTCP, Host: "127.0.0.1", Port: port},
	}

	registry = session.NewRegistry()
	eng := engine.New(registry, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	srv := server.New(cfg, eng)
	eng.SetListenerController(srv)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		srv.Shutdown()
		cancel()
	})
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), registry
}

func TestPublishSubscribe(t *testing.T) {
	addr, _ := startBroker(t)

	sub, err := Dial(addr, Options{ClientID: "sub"})
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe("sensors/+/temp"))

	pub, err := Dial(addr, Options{ClientID: "pub"})
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish("sensors/room1/temp", []byte("21.5"), 0))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "sensors/room1/temp", msg.Topic)
		assert.Equal(t, []byte("21.5"), msg.Payload)
		assert.Equal(t, byte(0), msg.QoS)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestPublishQoS1Acked(t *testing.T) {
	addr, _ := startBroker(t)

	c, err := Dial(addr, Options{ClientID: "qos1"})
	require.NoError(t, err)
	defer c.Close()

	// Returns only after the broker's PUBACK.
	require.NoError(t, c.Publish("a/b", []byte{0x01}, 1))
}

func TestPing(t *testing.T) {
	addr, _ := startBroker(t)

	c, err := Dial(addr, Options{ClientID: "pinger"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	addr, registry := startBroker(t)

	sub, err := Dial(addr, Options{ClientID: "sub"})
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe("news"))
	require.NoError(t, sub.Unsubscribe("news"))

	require.Eventually(t, func() bool {
		s := registry.GetSession("sub")
		return s != nil && len(s.Subscriptions) == 0
	}, 2*time.Second, 5*time.Millisecond)

	pub, err := Dial(addr, Options{ClientID: "pub"})
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish("news", []byte("x"), 0))

	select {
	case msg, ok := <-sub.Messages():
		if ok {
			t.Fatalf("unexpected delivery on %s", msg.Topic)
		}
		t.Fatal("connection closed unexpectedly")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReconnectEvictsPrevious(t *testing.T) {
	addr, registry := startBroker(t)

	first, err := Dial(addr, Options{ClientID: "dev-1"})
	require.NoError(t, err)
	defer first.Close()

	second, err := Dial(addr, Options{ClientID: "dev-1"})
	require.NoError(t, err)
	defer second.Close()

	// The first connection is evicted: its message channel closes.
	select {
	case _, ok := <-first.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("evicted connection never closed")
	}
	assert.Equal(t, 1, registry.Count())
}

func TestDisconnectRemovesSession(t *testing.T) {
	addr, registry := startBroker(t)

	c, err := Dial(addr, Options{ClientID: "dev-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return registry.Count() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestDialRejectedWithoutBroker(t *testing.T) {
	_, err := Dial("127.0.0.1:1", Options{ConnectTimeout: 500 * time.Millisecond})
	require.Error(t, err)
}

func TestReadFrameMultiByteLength(t *testing.T) {
	body := bytes.Repeat([]byte{0xAA}, 206)
	frame := append([]byte{0x30, 0xCE, 0x01}, body...)

	got, err := readFrame(bufio.NewReader(bytes.NewReader(frame)))
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestReadFrameOverlongLength(t *testing.T) {
	_, err := readFrame(bufio.NewReader(bytes.NewReader(
		[]byte{0x30, 0x80, 0x80, 0x80, 0x80, 0x01})))
	require.Error(t, err)
}
