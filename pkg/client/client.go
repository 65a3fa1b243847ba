/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package client provides the FlyMQTT Go client library.

QUICK START:
============

	// Connect to the broker
	c, err := client.Dial("localhost:1883", client.Options{})
	defer c.Close()

	// Publish a message
	err = c.Publish("sensors/room1/temp", []byte("21.5"), 0)

	// Subscribe and receive
	err = c.Subscribe("sensors/+/temp")
	for msg := range c.Messages() {
	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
	}

TLS CONNECTION:
===============

	c, err := client.Dial("localhost:8883", client.Options{
	    TLS: &tls.Config{RootCAs: pool},
	})

THREAD SAFETY:
==============
The client is safe for concurrent use by multiple goroutines. Request
and acknowledgement pairs are serialized internally.
*/
package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flymqtt/internal/protocol"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client: connection closed")

// Options configures the client connection.
type Options struct {
	// ClientID identifies the session on the broker. A broker evicts the
	// previous connection when the same id connects again. Defaults to a
	// random id.
	ClientID string

	// Username and Password are optional credentials.
	Username string
	Password string

	// CleanSession requests a fresh session (default true on the wire;
	// set KeepState to suppress the flag).
	KeepState bool

	// KeepAlive is the keep-alive interval in seconds sent to the
	// broker. 0 disables the broker-side idle timeout. Default 60.
	KeepAlive uint16

	// ConnectTimeout bounds the dial plus CONNECT/CONNACK exchange.
	// Default 10s.
	ConnectTimeout time.Duration

	// AckTimeout bounds each request/acknowledgement exchange.
	// Default 10s.
	AckTimeout time.Duration

	// TLS enables a TLS connection when non-nil.
	TLS *tls.Config

	// MessageBuffer is the capacity of the inbound message channel.
	// Default 64.
	MessageBuffer int
}

// Message is an inbound PUBLISH delivered to a subscription.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ack is a server acknowledgement routed to the waiting request.
type ack struct {
	packetType byte
	packetID   uint16
}

// Client is a connection to a FlyMQTT broker.
type Client struct {
	conn net.Conn
	opts Options

	wmu   sync.Mutex // serializes frame writes
	reqMu sync.Mutex // serializes request/ack exchanges

	br       *bufio.Reader
	acks     chan ack
	messages chan Message

	closed    chan struct{}
	closeOnce sync.Once

	nextID uint32
}

// Dial connects to the broker and completes the CONNECT handshake.
func Dial(addr string, opts Options) (*Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = "flymqtt-" + uuid.NewString()[:8]
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.MessageBuffer == 0 {
		opts.MessageBuffer = 64
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	var conn net.Conn
	var err error
	if opts.TLS != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, opts.TLS)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		opts:     opts,
		br:       bufio.NewReader(conn),
		acks:     make(chan ack, 8),
		messages: make(chan Message, opts.MessageBuffer),
		closed:   make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// handshake sends CONNECT and reads CONNACK synchronously, before the
// read loop starts.
func (c *Client) handshake() error {
	pkt := protocol.Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  !c.opts.KeepState,
		KeepAlive:     c.opts.KeepAlive,
		ClientID:      c.opts.ClientID,
	}
	if c.opts.Username != "" {
		pkt.HasUsername = true
		pkt.Username = c.opts.Username
	}
	if c.opts.Password != "" {
		pkt.HasPassword = true
		pkt.Password = c.opts.Password
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	if err := c.write(protocol.EncodeConnect(pkt)); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	frame, err := readFrame(c.br)
	if err != nil {
		return fmt.Errorf("read connack: %w", err)
	}
	if frame[0]>>4 != protocol.TypeConnAck || len(frame) != 4 {
		return fmt.Errorf("unexpected handshake reply 0x%02x", frame[0])
	}
	if frame[3] != 0x00 {
		return fmt.Errorf("connection refused, return code %d", frame[3])
	}
	return c.conn.SetDeadline(time.Time{})
}

// Messages returns the inbound message channel. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Publish sends a message. QoS 1 waits for the broker's PUBACK;
// QoS 0 is fire-and-forget.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	pkt := protocol.Publish{Topic: topic, Payload: payload, QoS: qos}
	if qos == 0 {
		return c.write(protocol.EncodePublish(pkt))
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	pkt.PacketID = c.packetID()
	if err := c.write(protocol.EncodePublish(pkt)); err != nil {
		return err
	}
	return c.waitAck(protocol.TypePubAck, pkt.PacketID)
}

// Subscribe registers a topic filter and waits for the SUBACK.
func (c *Client) Subscribe(filter string) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	id := c.packetID()
	if err := c.write(protocol.EncodeSubscribe(protocol.Subscribe{
		PacketID: id, TopicFilter: filter,
	})); err != nil {
		return err
	}
	return c.waitAck(protocol.TypeSubAck, id)
}

// Unsubscribe removes a topic filter and waits for the UNSUBACK.
func (c *Client) Unsubscribe(filter string) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	id := c.packetID()
	if err := c.write(protocol.EncodeUnsubscribe(protocol.Unsubscribe{
		PacketID: id, TopicFilter: filter,
	})); err != nil {
		return err
	}
	return c.waitAck(protocol.TypeUnsubAck, id)
}

// Ping probes the broker and waits for the PINGRESP.
func (c *Client) Ping() error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.write(protocol.EncodePingReq()); err != nil {
		return err
	}
	return c.waitAck(protocol.TypePingResp, 0)
}

// Disconnect sends the DISCONNECT frame and closes the connection.
func (c *Client) Disconnect() error {
	err := c.write(protocol.EncodeDisconnect())
	c.Close()
	return err
}

// Close tears the connection down without a DISCONNECT frame.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// write sends one frame under the write lock.
func (c *Client) write(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

// waitAck blocks until the read loop routes the matching
// acknowledgement. Stale acks from timed-out requests are discarded.
func (c *Client) waitAck(wantType byte, wantID uint16) error {
	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case a := <-c.acks:
			if a.packetType == wantType && a.packetID == wantID {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for packet type %d", wantType)
		case <-c.closed:
			return ErrClosed
		}
	}
}

// packetID returns the next non-zero packet identifier.
func (c *Client) packetID() uint16 {
	for {
		if id := uint16(atomic.AddUint32(&c.nextID, 1)); id != 0 {
			return id
		}
	}
}

// readLoop decodes inbound frames and routes them: PUBLISH to the
// message channel, acknowledgements to the waiting request.
func (c *Client) readLoop() {
	defer close(c.messages)
	defer c.Close()

	for {
		frame, err := readFrame(c.br)
		if err != nil {
			return
		}

		switch frame[0] >> 4 {
		case protocol.TypePublish:
			pkt, _, err := protocol.Decode(frame)
			if err != nil {
				return
			}
			pub := pkt.(protocol.Publish)
			msg := Message{
				Topic: pub.Topic, Payload: pub.Payload,
				QoS: pub.QoS, Retain: pub.Retain,
			}
			select {
			case c.messages <- msg:
			case <-c.closed:
				return
			}
		case protocol.TypePubAck, protocol.TypeSubAck, protocol.TypeUnsubAck:
			if len(frame) < 4 {
				return
			}
			id := uint16(frame[2])<<8 | uint16(frame[3])
			c.routeAck(ack{packetType: frame[0] >> 4, packetID: id})
		case protocol.TypePingResp:
			c.routeAck(ack{packetType: protocol.TypePingResp})
		case protocol.TypeDisconnect:
			return
		default:
			// Unknown server frame; the stream cannot be resynced.
			return
		}
	}
}

func (c *Client) routeAck(a ack) {
	select {
	case c.acks <- a:
	default:
	}
}

// readFrame reads one complete MQTT frame, header included.
func readFrame(br *bufio.Reader) ([]byte, error) {
	first, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	frame := []byte{first}

	remaining := 0
	for shift := 0; ; shift += 7 {
		if shift > 21 {
			return nil, protocol.ErrMalformed
		}
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		remaining |= int(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
	}

	body := make([]byte, remaining)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return append(frame, body...), nil
}
