package server

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flymqtt/internal/engine"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
)

// pipeTransport is an in-memory transport for handler tests.
type pipeTransport struct {
	in     chan []byte
	mu     sync.Mutex
	out    []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadChunk() ([]byte, error) {
	select {
	case data, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) Write(data []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	p.out = append(p.out, data...)
	p.mu.Unlock()
	return nil
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) RemoteAddr() string { return "pipe" }

func (p *pipeTransport) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out...)
}

func (p *pipeTransport) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// testBroker wires a running engine to a handler on a pipe transport.
type testBroker struct {
	engine    *engine.Engine
	registry  *session.Registry
	transport *pipeTransport
	handler   *connHandler
	done      chan struct{}
	cancel    context.CancelFunc
}

func startBroker(t *testing.T, tick time.Duration) *testBroker {
	t.Helper()

	registry := session.NewRegistry()
	eng := engine.New(registry, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	tr := newPipeTransport()
	h := newConnHandler(tr, eng, 1883, 16)
	if tick > 0 {
		h.tickInterval = tick
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.run(ctx)
	}()

	b := &testBroker{
		engine: eng, registry: registry, transport: tr,
		handler: h, done: done, cancel: cancel,
	}
	t.Cleanup(func() {
		tr.Close()
		<-done
		cancel()
	})
	return b
}

func connectFrame(clientID string, keepAlive uint16) []byte {
	body := []byte{0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02,
		byte(keepAlive >> 8), byte(keepAlive)}
	body = append(body, byte(len(clientID)>>8), byte(len(clientID)))
	body = append(body, clientID...)
	return append([]byte{0x10, byte(len(body))}, body...)
}

func subscribeFrame(packetID uint16, filter string) []byte {
	body := []byte{byte(packetID >> 8), byte(packetID)}
	body = append(body, byte(len(filter)>>8), byte(len(filter)))
	body = append(body, filter...)
	body = append(body, 0x00)
	return append([]byte{0x82, byte(len(body))}, body...)
}

func TestConnectGetsConnAck(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- connectFrame("dev-1", 60)

	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, b.transport.written())
	assert.Equal(t, 90*time.Second, b.handler.idleTimeout, "keep_alive 60 * 1.5")
}

func TestPingReqGetsPingResp(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- []byte{0xC0, 0x00}

	require.Eventually(t, func() bool {
		return len(b.transport.written()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0xD0, 0x00}, b.transport.written())
}

func TestPublishQoSAcks(t *testing.T) {
	b := startBroker(t, 0)
	b.transport.in <- connectFrame("dev-1", 60)

	// QoS 0 publish produces no acknowledgement frame.
	b.transport.in <- protocol.EncodePublish(protocol.Publish{
		Topic: "a/b", Payload: []byte{0x01},
	})
	// QoS 1 publish is acknowledged with PUBACK.
	b.transport.in <- protocol.EncodePublish(protocol.Publish{
		Topic: "a/b", QoS: 1, PacketID: 7, Payload: []byte{0x02},
	})

	want := append([]byte{0x20, 0x02, 0x00, 0x00}, 0x40, 0x02, 0x00, 0x07)
	require.Eventually(t, func() bool {
		return len(b.transport.written()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, b.transport.written())
}

func TestSubscribeThenDelivery(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- connectFrame("A", 60)
	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)

	b.transport.in <- subscribeFrame(1, "sensors/+/temp")
	require.Eventually(t, func() bool {
		s := b.registry.GetSession("A")
		return s != nil && len(s.Subscriptions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	b.engine.SubmitPubSub(engine.Publish{Packet: protocol.Publish{
		Topic: "sensors/room1/temp", Payload: []byte{0x01, 0x02},
	}})

	wantPublish := protocol.EncodePublish(protocol.Publish{
		Topic: "sensors/room1/temp", Payload: []byte{0x01, 0x02},
	})
	// CONNACK + SUBACK + the delivered publish.
	wantLen := 4 + 5 + len(wantPublish)
	require.Eventually(t, func() bool {
		return len(b.transport.written()) == wantLen
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, wantPublish, b.transport.written()[9:])
}

func TestDisconnectPacketCleansUp(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- connectFrame("dev-1", 60)
	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)

	b.transport.in <- []byte{0xE0, 0x00}

	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit")
	}
	require.Eventually(t, func() bool { return b.registry.Count() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestEOFCleansUp(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- connectFrame("dev-1", 60)
	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)

	close(b.transport.in)

	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit")
	}
	require.Eventually(t, func() bool { return b.registry.Count() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	b := startBroker(t, 0)

	// PUBREC is not a supported inbound type.
	b.transport.in <- []byte{0x50, 0x02, 0x00, 0x01}

	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit")
	}
	assert.True(t, b.transport.isClosed())
}

func TestIdleTimeoutDisconnects(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	b := startBroker(t, 50*time.Millisecond)

	// keep_alive 2s gives a 3s idle budget.
	b.transport.in <- connectFrame("dev-1", 2)
	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)
	start := time.Now()

	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle timeout never fired")
	}
	assert.GreaterOrEqual(t, time.Since(start), 2500*time.Millisecond)
	require.Eventually(t, func() bool { return b.registry.Count() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestReconnectEvictsOldHandler(t *testing.T) {
	b := startBroker(t, 0)

	b.transport.in <- connectFrame("dev-1", 60)
	require.Eventually(t, func() bool { return b.registry.Count() == 1 },
		2*time.Second, 5*time.Millisecond)

	// Second handler connects under the same client id.
	tr2 := newPipeTransport()
	h2 := newConnHandler(tr2, b.engine, 1883, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		h2.run(ctx)
	}()
	defer tr2.Close()

	tr2.in <- connectFrame("dev-1", 60)

	// The first handler exits on the eviction signal; the session
	// belonging to the second connection survives.
	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("evicted handler did not exit")
	}
	assert.Equal(t, 1, b.registry.Count())
	require.NotNil(t, b.registry.GetSession("dev-1"))
}
