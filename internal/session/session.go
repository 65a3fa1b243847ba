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
Package session holds the live-client state: one Session per connected
client, a concurrency-safe Registry keyed by client id, and the mailbox
type that carries deliveries from the engine to a connection handler.

OWNERSHIP:
==========
The Session owns the mailbox send side; the connection handler owns the
receive side. The engine is the only mutator of session state; admin
queries read snapshots. Reconnecting under an existing client id
atomically replaces the old session, and the caller signals the evicted
mailbox so the old handler exits.
*/
package session

import (
	"encoding/json"
	"time"

	"flymqtt/internal/protocol"
)

// adminTimeFormat is how timestamps are rendered at the admin boundary.
const adminTimeFormat = "2006-01-02 15:04:05"

// Delivery is the tagged mailbox message: either one publish to write
// out, or the disconnect signal. Data and control share one channel so
// a queued publish is never reordered after a disconnect.
type Delivery struct {
	Disconnect bool
	Publish    protocol.Publish
}

// Mailbox is the send side of a session's delivery channel.
type Mailbox chan<- Delivery

// Subscription is the per-filter metadata kept on a session.
type Subscription struct {
	QoS          byte      `json:"qos"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// Session represents one logically connected client.
type Session struct {
	ClientID      string
	Username      string
	CleanSession  bool
	ConnectedPort int
	ConnectedAt   time.Time
	Subscriptions map[string]Subscription
	Mailbox       Mailbox
}

// New builds a session from the fields of a CONNECT packet.
func New(pkt protocol.Connect, port int, mailbox Mailbox) *Session {
	return &Session{
		ClientID:      pkt.ClientID,
		Username:      pkt.Username,
		CleanSession:  pkt.CleanSession,
		ConnectedPort: port,
		ConnectedAt:   time.Now(),
		Subscriptions: make(map[string]Subscription),
		Mailbox:       mailbox,
	}
}

// TrySend attempts a non-blocking delivery to the session's mailbox.
// It reports false when the mailbox is full; the caller drops that one
// delivery rather than blocking the engine.
func (s *Session) TrySend(d Delivery) bool {
	select {
	case s.Mailbox <- d:
		return true
	default:
		return false
	}
}

// SignalDisconnect queues the disconnect signal, dropping it if the
// mailbox is full (the handler will still exit via its read path).
func (s *Session) SignalDisconnect() {
	s.TrySend(Delivery{Disconnect: true})
}

// Clone returns a copy safe to hand outside the engine: the
// subscription map is copied, the mailbox handle is dropped.
func (s *Session) Clone() *Session {
	subs := make(map[string]Subscription, len(s.Subscriptions))
	for filter, sub := range s.Subscriptions {
		subs[filter] = sub
	}
	return &Session{
		ClientID:      s.ClientID,
		Username:      s.Username,
		CleanSession:  s.CleanSession,
		ConnectedPort: s.ConnectedPort,
		ConnectedAt:   s.ConnectedAt,
		Subscriptions: subs,
	}
}

// MarshalJSON renders the admin-facing view of the session. The mailbox
// handle is never serialized.
func (s *Session) MarshalJSON() ([]byte, error) {
	type wireSubscription struct {
		QoS          byte   `json:"qos"`
		SubscribedAt string `json:"subscribed_at"`
	}
	subs := make(map[string]wireSubscription, len(s.Subscriptions))
	for filter, sub := range s.Subscriptions {
		subs[filter] = wireSubscription{
			QoS:          sub.QoS,
			SubscribedAt: sub.SubscribedAt.Format(adminTimeFormat),
		}
	}
	return json.Marshal(struct {
		ClientID      string                      `json:"client_id"`
		Username      string                      `json:"username,omitempty"`
		CleanSession  bool                        `json:"clean_session"`
		ConnectedPort int                         `json:"connected_port"`
		ConnectedAt   string                      `json:"connected_at"`
		Subscriptions map[string]wireSubscription `json:"subscriptions"`
	}{
		ClientID:      s.ClientID,
		Username:      s.Username,
		CleanSession:  s.CleanSession,
		ConnectedPort: s.ConnectedPort,
		ConnectedAt:   s.ConnectedAt.Format(adminTimeFormat),
		Subscriptions: subs,
	})
}
