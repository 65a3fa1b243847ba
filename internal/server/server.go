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
Package server runs the broker's transport layer: one accept loop per
configured listener, raw TCP (optionally TLS) or WebSocket. Every
accepted socket gets its own connection handler goroutine; all decoded
intents flow to the command engine.

Listeners stop individually (admin DELETE on their port) or together on
shutdown; the stop signal is observed between accepts.
*/
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flymqtt/internal/config"
	"flymqtt/internal/engine"
	"flymqtt/internal/logging"
)

// wsPath is where WebSocket listeners accept the MQTT subprotocol.
const wsPath = "/mqtt"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"mqtt"},
	CheckOrigin:     func(*http.Request) bool { return true },
}

// listener is one running accept loop.
type listener struct {
	cfg     config.ListenerConfig
	ln      net.Listener
	httpSrv *http.Server // WebSocket listeners only
	stop    chan struct{}
	once    sync.Once
}

// halt signals the accept loop and unblocks it.
func (l *listener) halt() {
	l.once.Do(func() {
		close(l.stop)
		if l.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.httpSrv.Shutdown(ctx)
		}
		_ = l.ln.Close()
	})
}

// Server owns the configured listeners and implements the engine's
// ListenerController for the admin boundary.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	log    *logging.Logger

	mu        sync.Mutex
	listeners map[int]*listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server; Start binds and serves the listeners.
func New(cfg *config.Config, eng *engine.Engine) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		engine:    eng,
		log:       logging.NewLogger("server"),
		listeners: make(map[int]*listener),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds every configured listener and begins accepting. A binding
// failure aborts startup.
func (s *Server) Start() error {
	for _, lc := range s.cfg.Listeners {
		if err := s.startListener(lc); err != nil {
			s.Shutdown()
			return fmt.Errorf("listener %q: %w", lc.Name, err)
		}
	}
	return nil
}

func (s *Server) startListener(lc config.ListenerConfig) error {
	ln, err := s.bind(lc)
	if err != nil {
		return err
	}

	l := &listener{cfg: lc, ln: ln, stop: make(chan struct{})}

	s.mu.Lock()
	s.listeners[lc.Port] = l
	s.mu.Unlock()

	switch lc.Protocol {
	case config.ProtocolWS:
		s.serveWS(l)
	default:
		s.wg.Add(1)
		go s.acceptLoop(l)
	}

	s.log.Info("listener started",
		"name", lc.Name, "protocol", lc.Protocol,
		"addr", lc.Addr(), "tls", lc.TLS.Enabled())
	return nil
}

// bind opens the TCP socket, wrapping it in TLS when configured.
func (s *Server) bind(lc config.ListenerConfig) (net.Listener, error) {
	if !lc.TLS.Enabled() {
		return net.Listen("tcp", lc.Addr())
	}

	cert, err := tls.LoadX509KeyPair(lc.TLS.CertFile, lc.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if lc.TLS.CAFile != "" {
		pem, err := os.ReadFile(lc.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", lc.TLS.CAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tls.Listen("tcp", lc.Addr(), tlsCfg)
}

// acceptLoop accepts raw TCP connections until halted.
func (s *Server) acceptLoop(l *listener) {
	defer s.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stop:
				return
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "listener", l.cfg.Name, "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h := newConnHandler(newTCPTransport(conn), s.engine, l.cfg.Port, s.cfg.Engine.MailboxCapacity)
			h.run(s.ctx)
		}()
	}
}

// serveWS runs an HTTP server whose /mqtt endpoint upgrades to
// WebSocket and hands the socket to a connection handler.
func (s *Server) serveWS(l *listener) {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed",
				"listener", l.cfg.Name, "remote", r.RemoteAddr, "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h := newConnHandler(newWSTransport(wsConn), s.engine, l.cfg.Port, s.cfg.Engine.MailboxCapacity)
			h.run(s.ctx)
		}()
	})

	l.httpSrv = &http.Server{Handler: mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := l.httpSrv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("websocket server stopped", "listener", l.cfg.Name, "error", err)
		}
	}()
}

// Listeners returns the configurations of the running listeners.
// Implements engine.ListenerController.
func (s *Server) Listeners() []config.ListenerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.ListenerConfig, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.cfg)
	}
	return out
}

// StopListener halts the listener bound to port, reporting whether one
// was running. Implements engine.ListenerController.
func (s *Server) StopListener(port int) bool {
	s.mu.Lock()
	l, ok := s.listeners[port]
	if ok {
		delete(s.listeners, port)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	l.halt()
	s.log.Info("listener stopped", "name", l.cfg.Name, "port", port)
	return true
}

// Shutdown halts every listener and waits for connection handlers to
// finish.
func (s *Server) Shutdown() {
	s.cancel()

	s.mu.Lock()
	all := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		all = append(all, l)
	}
	s.listeners = make(map[int]*listener)
	s.mu.Unlock()

	for _, l := range all {
		l.halt()
	}
	s.wg.Wait()
	s.log.Info("server stopped")
}
