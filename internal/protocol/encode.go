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

package protocol

import "encoding/binary"

// EncodeConnAck returns the CONNACK frame. The first variable-header
// byte carries the session-present flag; the return code is always 0
// (connection accepted).
func EncodeConnAck(sessionPresent bool) []byte {
	sp := byte(0x00)
	if sessionPresent {
		sp = 0x01
	}
	return []byte{TypeConnAck << 4, 0x02, sp, 0x00}
}

// EncodeSubAck returns the SUBACK frame granting QoS 0.
func EncodeSubAck(packetID uint16) []byte {
	return []byte{TypeSubAck << 4, 0x03, byte(packetID >> 8), byte(packetID), 0x00}
}

// EncodeUnsubAck returns the UNSUBACK frame.
func EncodeUnsubAck(packetID uint16) []byte {
	return []byte{TypeUnsubAck << 4, 0x02, byte(packetID >> 8), byte(packetID)}
}

// EncodePubAck returns the PUBACK frame.
func EncodePubAck(packetID uint16) []byte {
	return []byte{TypePubAck << 4, 0x02, byte(packetID >> 8), byte(packetID)}
}

// EncodePingResp returns the PINGRESP frame.
func EncodePingResp() []byte {
	return []byte{TypePingResp << 4, 0x00}
}

// EncodeDisconnect returns the DISCONNECT frame.
func EncodeDisconnect() []byte {
	return []byte{TypeDisconnect << 4, 0x00}
}

// EncodePublish serializes an outbound PUBLISH frame. The packet id is
// written only when QoS > 0. The remaining length uses the full
// variable-byte scheme so topic+payload beyond 127 bytes encode
// correctly.
func EncodePublish(p Publish) []byte {
	remaining := 2 + len(p.Topic) + len(p.Payload)
	if p.QoS > 0 {
		remaining += 2
	}

	first := TypePublish<<4 | p.QoS<<1
	if p.Dup {
		first |= 0x08
	}
	if p.Retain {
		first |= 0x01
	}

	buf := make([]byte, 0, 1+maxRemainingLengthBytes+remaining)
	buf = append(buf, first)
	buf = appendRemainingLength(buf, remaining)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Topic)))
	buf = append(buf, p.Topic...)
	if p.QoS > 0 {
		buf = binary.BigEndian.AppendUint16(buf, p.PacketID)
	}
	buf = append(buf, p.Payload...)
	return buf
}

// EncodeConnect serializes a CONNECT frame. Used by the client library;
// the broker only decodes this type.
func EncodeConnect(p Connect) []byte {
	var flags byte
	if p.CleanSession {
		flags |= 0x02
	}
	if p.WillFlag {
		flags |= 0x04 | p.WillQoS<<3
		if p.WillRetain {
			flags |= 0x20
		}
	}
	if p.HasUsername {
		flags |= 0x80
	}
	if p.HasPassword {
		flags |= 0x40
	}

	body := appendString(nil, p.ProtocolName)
	body = append(body, p.ProtocolLevel, flags)
	body = binary.BigEndian.AppendUint16(body, p.KeepAlive)
	body = appendString(body, p.ClientID)
	if p.WillFlag {
		body = appendString(body, p.WillTopic)
		body = appendString(body, p.WillMessage)
	}
	if p.HasUsername {
		body = appendString(body, p.Username)
	}
	if p.HasPassword {
		body = appendString(body, p.Password)
	}
	return appendFrame(TypeConnect<<4, body)
}

// EncodeSubscribe serializes a SUBSCRIBE frame carrying one topic filter.
func EncodeSubscribe(p Subscribe) []byte {
	body := binary.BigEndian.AppendUint16(nil, p.PacketID)
	body = appendString(body, p.TopicFilter)
	body = append(body, p.RequestedQoS)
	return appendFrame(TypeSubscribe<<4|0x02, body)
}

// EncodeUnsubscribe serializes an UNSUBSCRIBE frame carrying one topic filter.
func EncodeUnsubscribe(p Unsubscribe) []byte {
	body := binary.BigEndian.AppendUint16(nil, p.PacketID)
	body = appendString(body, p.TopicFilter)
	return appendFrame(TypeUnsubscribe<<4|0x02, body)
}

// EncodePingReq returns the PINGREQ frame.
func EncodePingReq() []byte {
	return []byte{TypePingReq << 4, 0x00}
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendFrame(first byte, body []byte) []byte {
	buf := make([]byte, 0, 1+maxRemainingLengthBytes+len(body))
	buf = append(buf, first)
	buf = appendRemainingLength(buf, len(body))
	return append(buf, body...)
}

// appendRemainingLength appends the variable-byte encoding of n,
// 7 bits per byte with the top bit as continuation.
func appendRemainingLength(dst []byte, n int) []byte {
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst
		}
	}
}
