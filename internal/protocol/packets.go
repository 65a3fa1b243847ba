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
Package protocol implements the MQTT v3.1.1 wire codec.

PACKET FORMAT:
==============
Every MQTT control packet starts with a fixed header:

	+--------+------------------------------------------------+
	| Byte 1 | Packet type (high nibble) | Flags (low nibble) |
	+--------+------------------------------------------------+
	| Byte 2+| Remaining length (variable-byte integer, 1-4B) |
	+--------+------------------------------------------------+
	|        | Variable header + payload (remaining length B)  |
	+--------+------------------------------------------------+

The remaining length encodes 7 bits per byte, least significant group
first, with the top bit as a continuation flag. Strings are UTF-8 with
a 2-byte big-endian length prefix.

SUPPORTED PACKET TYPES:
=======================
Inbound:  CONNECT(1), PUBLISH(3), SUBSCRIBE(8), UNSUBSCRIBE(10),
          PINGREQ(12), DISCONNECT(14)
Outbound: CONNACK, PUBLISH, PUBACK, SUBACK, UNSUBACK, PINGRESP, DISCONNECT

Decode is non-destructive: a frame that is not fully buffered yields
ErrIncomplete and consumes nothing, so the caller can read more bytes
and retry.
*/
package protocol

import "errors"

// Packet type values (high nibble of the first header byte).
const (
	TypeConnect     byte = 1
	TypeConnAck     byte = 2
	TypePublish     byte = 3
	TypePubAck      byte = 4
	TypeSubscribe   byte = 8
	TypeSubAck      byte = 9
	TypeUnsubscribe byte = 10
	TypeUnsubAck    byte = 11
	TypePingReq     byte = 12
	TypePingResp    byte = 13
	TypeDisconnect  byte = 14
)

// Decode sentinels. ErrIncomplete means the buffer does not yet hold a
// full frame and nothing was consumed. ErrUnsupportedType and
// ErrMalformed are fatal for the connection: MQTT framing has no safe
// resynchronization point mid-stream.
var (
	ErrIncomplete      = errors.New("incomplete frame")
	ErrUnsupportedType = errors.New("unsupported packet type")
	ErrMalformed       = errors.New("malformed frame")
)

// Packet is a decoded MQTT control packet. Exactly one of the concrete
// types in this package implements it per frame.
type Packet interface {
	Type() byte
}

// Connect carries the fields of a CONNECT packet.
type Connect struct {
	ProtocolName  string
	ProtocolLevel byte
	CleanSession  bool
	KeepAlive     uint16
	ClientID      string

	WillFlag    bool
	WillQoS     byte
	WillRetain  bool
	WillTopic   string
	WillMessage string

	HasUsername bool
	Username    string
	HasPassword bool
	Password    string
}

// Type returns TypeConnect.
func (Connect) Type() byte { return TypeConnect }

// Publish carries the fields of a PUBLISH packet. PacketID is only
// meaningful when QoS > 0.
type Publish struct {
	Dup      bool
	QoS      byte
	Retain   bool
	Topic    string
	PacketID uint16
	Payload  []byte
}

// Type returns TypePublish.
func (Publish) Type() byte { return TypePublish }

// Subscribe carries one topic filter with its requested QoS.
type Subscribe struct {
	PacketID     uint16
	TopicFilter  string
	RequestedQoS byte
}

// Type returns TypeSubscribe.
func (Subscribe) Type() byte { return TypeSubscribe }

// Unsubscribe carries one topic filter to remove.
type Unsubscribe struct {
	PacketID    uint16
	TopicFilter string
}

// Type returns TypeUnsubscribe.
func (Unsubscribe) Type() byte { return TypeUnsubscribe }

// PingReq is a keep-alive probe; header only.
type PingReq struct{}

// Type returns TypePingReq.
func (PingReq) Type() byte { return TypePingReq }

// Disconnect is the client's graceful goodbye; header only.
type Disconnect struct{}

// Type returns TypeDisconnect.
func (Disconnect) Type() byte { return TypeDisconnect }
