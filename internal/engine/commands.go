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

package engine

import (
	"flymqtt/internal/config"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
)

// Commands arrive on three independent channels: connection lifecycle,
// pub/sub traffic, and admin queries. Each channel carries one small
// sum type below.

// LifecycleCommand is either a Connect or a Disconnect.
type LifecycleCommand interface{ lifecycleCommand() }

// Connect registers a new session, evicting any previous session under
// the same client id.
type Connect struct {
	Packet  protocol.Connect
	Port    int
	Mailbox session.Mailbox
}

func (Connect) lifecycleCommand() {}

// Disconnect removes a session and its subscriptions. Idempotent.
type Disconnect struct {
	ClientID string
}

func (Disconnect) lifecycleCommand() {}

// PubSubCommand is a Subscribe, Unsubscribe, or Publish.
type PubSubCommand interface{ pubsubCommand() }

// Subscribe adds a filter to both the session and the topic tree.
type Subscribe struct {
	Packet   protocol.Subscribe
	ClientID string
}

func (Subscribe) pubsubCommand() {}

// Unsubscribe removes a filter from both structures.
type Unsubscribe struct {
	Packet   protocol.Unsubscribe
	ClientID string
}

func (Unsubscribe) pubsubCommand() {}

// Publish fans a message out to all matching subscriber mailboxes.
type Publish struct {
	Packet protocol.Publish
}

func (Publish) pubsubCommand() {}

// AdminCommand is a read-only or boundary-facing management request.
// Reply channels must be buffered (capacity 1) so an abandoned
// requester never blocks the engine.
type AdminCommand interface{ adminCommand() }

// GetClients requests one page of session snapshots.
type GetClients struct {
	Reply chan<- session.Page[*session.Session]
	Page  int
	Size  int
}

func (GetClients) adminCommand() {}

// GetListeners requests the active listener configurations.
type GetListeners struct {
	Reply chan<- []config.ListenerConfig
}

func (GetListeners) adminCommand() {}

// StopListener gracefully halts the listener bound to Port.
type StopListener struct {
	Port  int
	Reply chan<- bool
}

func (StopListener) adminCommand() {}

// ListenerController is the engine's view of the transport layer,
// implemented by the server. Admin commands delegate to it.
type ListenerController interface {
	// Listeners returns the configurations of the running listeners.
	Listeners() []config.ListenerConfig
	// StopListener halts the listener on the given port, reporting
	// whether one was found.
	StopListener(port int) bool
}
