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
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// transport abstracts the byte stream under a connection handler so the
// same state machine serves raw TCP and WebSocket clients.
type transport interface {
	// ReadChunk returns the next chunk of raw bytes from the peer.
	ReadChunk() ([]byte, error)
	// Write sends an encoded frame to the peer.
	Write(data []byte) error
	Close() error
	RemoteAddr() string
}

// tcpTransport reads fixed-size chunks from a net.Conn.
type tcpTransport struct {
	conn net.Conn
	buf  []byte
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, buf: make([]byte, 4096)}
}

func (t *tcpTransport) ReadChunk() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, err
	}
	chunk := make([]byte, n)
	copy(chunk, t.buf[:n])
	return chunk, nil
}

func (t *tcpTransport) Write(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// wsTransport carries MQTT frames inside binary WebSocket messages.
// Writes are serialized: the mailbox drain and packet replies may race
// on the same socket, and gorilla/websocket allows one writer at a
// time.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadChunk() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Text and control frames carry no MQTT bytes.
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error { return t.conn.Close() }

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
