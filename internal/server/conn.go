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

package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"flymqtt/internal/engine"
	"flymqtt/internal/logging"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
)

// defaultIdleTimeout applies before a CONNECT announces a keep-alive.
const defaultIdleTimeout = 60 * time.Second

// idleTickInterval is how often the handler checks for idle timeout.
// Shortened in tests.
const idleTickInterval = 5 * time.Second

// readResult is one read-pump delivery: a chunk or a terminal error.
type readResult struct {
	data []byte
	err  error
}

// connHandler is the per-socket state machine:
// AwaitingConnect -> Connected -> Disconnecting -> Closed.
// It reads frames, forwards decoded intents to the engine, writes
// immediate replies, drains its mailbox, and enforces the idle timeout.
type connHandler struct {
	id     string // pre-CONNECT log correlation
	conn   transport
	engine *engine.Engine
	port   int
	log    *logging.Logger

	mailboxCapacity int
	tickInterval    time.Duration

	clientID       string
	idleTimeout    time.Duration
	lastActivity   time.Time
	disconnectSent bool
	buffer         []byte
}

func newConnHandler(conn transport, eng *engine.Engine, port, mailboxCapacity int) *connHandler {
	return &connHandler{
		id:              uuid.NewString(),
		conn:            conn,
		engine:          eng,
		port:            port,
		log:             logging.NewLogger("conn"),
		mailboxCapacity: mailboxCapacity,
		tickInterval:    idleTickInterval,
		idleTimeout:     defaultIdleTimeout,
	}
}

// run drives the connection until it reaches Closed. It always closes
// the socket and sends at most one engine Disconnect, no matter how
// many triggers fire (EOF, read error, idle timeout, DISCONNECT packet,
// mailbox eviction signal).
func (h *connHandler) run(ctx context.Context) {
	defer h.conn.Close()

	mailbox := make(chan session.Delivery, h.mailboxCapacity)
	h.lastActivity = time.Now()

	readCh := make(chan readResult)
	done := make(chan struct{})
	defer close(done)
	go h.readPump(readCh, done)

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	defer h.requestDisconnect()

	for {
		select {
		case <-ctx.Done():
			return

		case r := <-readCh:
			if r.err != nil {
				// EOF and read errors both end the connection.
				return
			}
			h.lastActivity = time.Now()
			h.buffer = append(h.buffer, r.data...)
			if !h.drainBuffer(mailbox) {
				return
			}

		case d := <-mailbox:
			if d.Disconnect {
				// Evicted by a reconnect: the engine already cleaned
				// this session up, and the client id now belongs to
				// the new connection. Suppress the usual Disconnect
				// command so it cannot tear the new session down.
				h.disconnectSent = true
				return
			}
			if err := h.conn.Write(protocol.EncodePublish(d.Publish)); err != nil {
				h.log.Debug("write failed", "conn", h.logID(), "error", err)
				return
			}

		case <-ticker.C:
			if h.idleTimeout > 0 && time.Since(h.lastActivity) >= h.idleTimeout {
				h.log.Info("idle timeout", "conn", h.logID(), "timeout", h.idleTimeout)
				return
			}
		}
	}
}

// readPump feeds raw chunks into readCh until the transport fails or
// the handler exits.
func (h *connHandler) readPump(readCh chan<- readResult, done <-chan struct{}) {
	for {
		chunk, err := h.conn.ReadChunk()
		select {
		case readCh <- readResult{data: chunk, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drainBuffer decodes and handles every complete frame currently
// buffered. It reports false when the connection must close (malformed
// frame, unsupported packet, write failure, or DISCONNECT).
func (h *connHandler) drainBuffer(mailbox chan session.Delivery) bool {
	for {
		pkt, consumed, err := protocol.Decode(h.buffer)
		if errors.Is(err, protocol.ErrIncomplete) {
			return true
		}
		if err != nil {
			// No safe resynchronization point mid-stream: close.
			h.log.Warn("decode failed", "conn", h.logID(), "error", err)
			return false
		}
		h.buffer = h.buffer[consumed:]

		reply, alive := h.handlePacket(pkt, mailbox)
		if len(reply) > 0 {
			if err := h.conn.Write(reply); err != nil {
				h.log.Debug("write failed", "conn", h.logID(), "error", err)
				return false
			}
		}
		if !alive {
			return false
		}
	}
}

// handlePacket dispatches one decoded frame. It returns the immediate
// reply bytes (nil for none) and whether the connection stays alive.
func (h *connHandler) handlePacket(pkt protocol.Packet, mailbox chan session.Delivery) ([]byte, bool) {
	switch p := pkt.(type) {
	case protocol.Connect:
		h.clientID = p.ClientID
		if p.KeepAlive > 0 {
			h.idleTimeout = time.Duration(p.KeepAlive) * time.Second * 3 / 2
		} else {
			// Keep-alive 0 disables the client-driven timeout.
			h.idleTimeout = 0
		}
		h.engine.SubmitLifecycle(engine.Connect{
			Packet:  p,
			Port:    h.port,
			Mailbox: mailbox,
		})
		return protocol.EncodeConnAck(false), true

	case protocol.Publish:
		h.engine.SubmitPubSub(engine.Publish{Packet: p})
		if p.QoS > 0 {
			return protocol.EncodePubAck(p.PacketID), true
		}
		return nil, true

	case protocol.Subscribe:
		if h.clientID != "" {
			h.engine.SubmitPubSub(engine.Subscribe{Packet: p, ClientID: h.clientID})
		}
		return protocol.EncodeSubAck(p.PacketID), true

	case protocol.Unsubscribe:
		if h.clientID != "" {
			h.engine.SubmitPubSub(engine.Unsubscribe{Packet: p, ClientID: h.clientID})
		}
		return protocol.EncodeUnsubAck(p.PacketID), true

	case protocol.PingReq:
		return protocol.EncodePingResp(), true

	case protocol.Disconnect:
		return protocol.EncodeDisconnect(), false

	default:
		return nil, false
	}
}

// requestDisconnect tells the engine the client is gone. Latched:
// exactly one Disconnect command per connection lifetime.
func (h *connHandler) requestDisconnect() {
	if h.disconnectSent || h.clientID == "" {
		return
	}
	h.disconnectSent = true
	h.engine.SubmitLifecycle(engine.Disconnect{ClientID: h.clientID})
}

func (h *connHandler) logID() string {
	if h.clientID != "" {
		return h.clientID
	}
	return h.id
}
