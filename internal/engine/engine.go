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
Package engine runs the broker's single-writer command loop.

DESIGN:
=======
One goroutine owns the topic tree and sequences every mutation to the
session registry. Connection handlers and the admin API reach it only
through three buffered command channels:

	lifecycle: Connect / Disconnect
	pubsub:    Subscribe / Unsubscribe / Publish
	admin:     GetClients / GetListeners / StopListener

Serializing all mutations through one consumer eliminates interleaving
between connects, disconnects, subscriptions, and publishes arriving on
different connections. Within a connection, frames are processed in
arrival order; across connections, ordering is channel arrival order.

Publish delivery is best-effort, at-most-once: a full session mailbox
drops that one delivery and never applies backpressure to the
publisher.
*/
package engine

import (
	"context"

	"flymqtt/internal/config"
	"flymqtt/internal/logging"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
	"flymqtt/internal/topic"
)

// Engine owns the topic tree and sequences all broker state mutations.
type Engine struct {
	registry  *session.Registry
	tree      *topic.Tree
	listeners ListenerController

	lifecycle chan LifecycleCommand
	pubsub    chan PubSubCommand
	admin     chan AdminCommand

	log *logging.Logger
}

// New creates an engine around the given registry. queueCapacity sizes
// each command channel.
func New(registry *session.Registry, queueCapacity int) *Engine {
	if queueCapacity <= 0 {
		queueCapacity = 4096
	}
	return &Engine{
		registry:  registry,
		tree:      topic.NewTree(),
		lifecycle: make(chan LifecycleCommand, queueCapacity),
		pubsub:    make(chan PubSubCommand, queueCapacity),
		admin:     make(chan AdminCommand, queueCapacity),
		log:       logging.NewLogger("engine"),
	}
}

// SetListenerController wires the transport layer in. Must be called
// before Run when admin listener commands are in use.
func (e *Engine) SetListenerController(lc ListenerController) {
	e.listeners = lc
}

// SubmitLifecycle queues a connection lifecycle command.
func (e *Engine) SubmitLifecycle(cmd LifecycleCommand) {
	e.lifecycle <- cmd
}

// SubmitPubSub queues a pub/sub command.
func (e *Engine) SubmitPubSub(cmd PubSubCommand) {
	e.pubsub <- cmd
}

// SubmitAdmin queues an admin command.
func (e *Engine) SubmitAdmin(cmd AdminCommand) {
	e.admin <- cmd
}

// Run consumes the command channels until ctx is cancelled. It is the
// only goroutine that touches the topic tree.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return
		case cmd := <-e.lifecycle:
			e.handleLifecycle(cmd)
		case cmd := <-e.pubsub:
			e.handlePubSub(cmd)
		case cmd := <-e.admin:
			e.handleAdmin(cmd)
		}
	}
}

func (e *Engine) handleLifecycle(cmd LifecycleCommand) {
	switch c := cmd.(type) {
	case Connect:
		s := session.New(c.Packet, c.Port, c.Mailbox)
		if evicted := e.registry.AddClient(s); evicted != nil {
			e.tree.RemoveClient(evicted.ClientID)
			evicted.SignalDisconnect()
			e.log.Info("session evicted by reconnect", "client_id", evicted.ClientID)
		}
		e.log.Info("client connected",
			"client_id", s.ClientID,
			"clean_session", s.CleanSession,
			"keep_alive", c.Packet.KeepAlive,
			"port", c.Port)
	case Disconnect:
		e.dropClient(c.ClientID)
	}
}

// dropClient removes a session and its tree subscriptions. Safe to call
// for an already-removed client.
func (e *Engine) dropClient(clientID string) {
	if removed := e.registry.RemoveClient(clientID); removed != nil {
		e.tree.RemoveClient(clientID)
		e.log.Info("client disconnected", "client_id", clientID)
	}
}

func (e *Engine) handlePubSub(cmd PubSubCommand) {
	switch c := cmd.(type) {
	case Subscribe:
		// Registry first: the tree is only touched when the session is
		// still live, so the subscription exists in both places or
		// neither.
		if e.registry.AddSubscription(c.ClientID, c.Packet.TopicFilter, c.Packet.RequestedQoS) {
			e.tree.Subscribe(c.Packet.TopicFilter, c.ClientID)
			e.log.Debug("subscribed", "client_id", c.ClientID, "filter", c.Packet.TopicFilter)
		}
	case Unsubscribe:
		if e.registry.RemoveSubscription(c.ClientID, c.Packet.TopicFilter) {
			e.tree.Unsubscribe(c.Packet.TopicFilter, c.ClientID)
			e.log.Debug("unsubscribed", "client_id", c.ClientID, "filter", c.Packet.TopicFilter)
		}
	case Publish:
		e.fanOut(c.Packet)
	}
}

func (e *Engine) fanOut(pkt protocol.Publish) {
	for clientID := range e.tree.Match(pkt.Topic) {
		s := e.registry.GetSession(clientID)
		if s == nil {
			continue
		}
		if !s.TrySend(session.Delivery{Publish: pkt}) {
			e.log.Warn("mailbox full, delivery dropped",
				"client_id", clientID, "topic", pkt.Topic)
		}
	}
}

func (e *Engine) handleAdmin(cmd AdminCommand) {
	switch c := cmd.(type) {
	case GetClients:
		reply(c.Reply, e.registry.ListPaginated(c.Page, c.Size))
	case GetListeners:
		var list []config.ListenerConfig
		if e.listeners != nil {
			list = e.listeners.Listeners()
		}
		reply(c.Reply, list)
	case StopListener:
		stopped := e.listeners != nil && e.listeners.StopListener(c.Port)
		if c.Reply != nil {
			reply(c.Reply, stopped)
		}
	}
}

// reply never blocks the loop: reply channels are buffered, so a full
// channel means the requester is gone and the value is dropped.
func reply[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}
