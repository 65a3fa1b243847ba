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

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// maxRemainingLengthBytes bounds the variable-byte integer to 4 bytes
// (maximum value 268,435,455).
const maxRemainingLengthBytes = 4

// Decode parses exactly one frame from the front of buf. It returns the
// packet and the number of bytes the frame occupied; the caller drops
// that many bytes from its buffer. When buf does not yet hold a full
// frame, Decode returns ErrIncomplete with zero consumed and the caller
// retries after the next read. Structural errors wrap ErrMalformed;
// an unknown packet type yields ErrUnsupportedType.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}

	packetType := buf[0] >> 4
	flags := buf[0] & 0x0F

	remaining, lenBytes, err := decodeRemainingLength(buf[1:])
	if err != nil {
		return nil, 0, err
	}

	total := 1 + lenBytes + remaining
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	body := buf[1+lenBytes : total]

	var pkt Packet
	switch packetType {
	case TypeConnect:
		pkt, err = decodeConnect(body)
	case TypePublish:
		pkt, err = decodePublish(flags, body)
	case TypeSubscribe:
		pkt, err = decodeSubscribe(body)
	case TypeUnsubscribe:
		pkt, err = decodeUnsubscribe(body)
	case TypePingReq:
		pkt = PingReq{}
	case TypeDisconnect:
		pkt = Disconnect{}
	default:
		return nil, 0, fmt.Errorf("%w: type %d", ErrUnsupportedType, packetType)
	}
	if err != nil {
		return nil, 0, err
	}
	return pkt, total, nil
}

// decodeRemainingLength reads the variable-byte integer that follows
// the first header byte. It returns the decoded value and how many
// bytes it occupied.
func decodeRemainingLength(buf []byte) (int, int, error) {
	value := 0
	shift := uint(0)
	for i := 0; i < maxRemainingLengthBytes; i++ {
		if i >= len(buf) {
			return 0, 0, ErrIncomplete
		}
		b := buf[i]
		value |= int(b&0x7F) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("%w: remaining length exceeds 4 bytes", ErrMalformed)
}

// readString reads a 2-byte big-endian length-prefixed UTF-8 string
// starting at off and returns it with the offset past its last byte.
func readString(body []byte, off int) (string, int, error) {
	if len(body)-off < 2 {
		return "", 0, fmt.Errorf("%w: truncated string length", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if len(body)-off < n {
		return "", 0, fmt.Errorf("%w: string declares %d bytes, %d remain", ErrMalformed, n, len(body)-off)
	}
	s := body[off : off+n]
	if !utf8.Valid(s) {
		return "", 0, fmt.Errorf("%w: string is not valid UTF-8", ErrMalformed)
	}
	return string(s), off + n, nil
}

func decodeConnect(body []byte) (Packet, error) {
	name, off, err := readString(body, 0)
	if err != nil {
		return nil, err
	}
	if len(body)-off < 1 {
		return nil, fmt.Errorf("%w: missing protocol level", ErrMalformed)
	}
	level := body[off]
	off++

	ok := (name == "MQTT" && level == 4) || (name == "MQIsdp" && level == 3)
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q level %d", ErrMalformed, name, level)
	}

	if len(body)-off < 3 {
		return nil, fmt.Errorf("%w: truncated connect flags", ErrMalformed)
	}
	connectFlags := body[off]
	keepAlive := binary.BigEndian.Uint16(body[off+1:])
	off += 3

	pkt := Connect{
		ProtocolName:  name,
		ProtocolLevel: level,
		KeepAlive:     keepAlive,
		CleanSession:  connectFlags&0x02 != 0,
		WillFlag:      connectFlags&0x04 != 0,
		WillQoS:       (connectFlags & 0x18) >> 3,
		WillRetain:    connectFlags&0x20 != 0,
		HasPassword:   connectFlags&0x40 != 0,
		HasUsername:   connectFlags&0x80 != 0,
	}

	if pkt.ClientID, off, err = readString(body, off); err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	if pkt.ClientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrMalformed)
	}

	if pkt.WillFlag {
		if pkt.WillTopic, off, err = readString(body, off); err != nil {
			return nil, fmt.Errorf("will topic: %w", err)
		}
		if pkt.WillMessage, off, err = readString(body, off); err != nil {
			return nil, fmt.Errorf("will message: %w", err)
		}
	}
	if pkt.HasUsername {
		if pkt.Username, off, err = readString(body, off); err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
	}
	if pkt.HasPassword {
		if pkt.Password, _, err = readString(body, off); err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
	}

	return pkt, nil
}

func decodePublish(flags byte, body []byte) (Packet, error) {
	pkt := Publish{
		Dup:    flags&0x08 != 0,
		QoS:    (flags & 0x06) >> 1,
		Retain: flags&0x01 != 0,
	}
	if pkt.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrMalformed, pkt.QoS)
	}

	var off int
	var err error
	if pkt.Topic, off, err = readString(body, 0); err != nil {
		return nil, fmt.Errorf("topic: %w", err)
	}

	if pkt.QoS > 0 {
		if len(body)-off < 2 {
			return nil, fmt.Errorf("%w: missing packet id", ErrMalformed)
		}
		pkt.PacketID = binary.BigEndian.Uint16(body[off:])
		off += 2
	}

	// Remaining bytes are the payload, untouched. Copy so the packet
	// outlives the caller's read buffer.
	pkt.Payload = append([]byte(nil), body[off:]...)
	return pkt, nil
}

func decodeSubscribe(body []byte) (Packet, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: missing packet id", ErrMalformed)
	}
	pkt := Subscribe{PacketID: binary.BigEndian.Uint16(body)}

	var off int
	var err error
	if pkt.TopicFilter, off, err = readString(body, 2); err != nil {
		return nil, fmt.Errorf("topic filter: %w", err)
	}
	if len(body)-off < 1 {
		return nil, fmt.Errorf("%w: missing requested qos", ErrMalformed)
	}
	pkt.RequestedQoS = body[off]
	return pkt, nil
}

func decodeUnsubscribe(body []byte) (Packet, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: missing packet id", ErrMalformed)
	}
	pkt := Unsubscribe{PacketID: binary.BigEndian.Uint16(body)}

	var err error
	if pkt.TopicFilter, _, err = readString(body, 2); err != nil {
		return nil, fmt.Errorf("topic filter: %w", err)
	}
	return pkt, nil
}
