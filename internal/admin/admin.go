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
Package admin exposes the broker's management API over HTTP.

ENDPOINTS:
==========

	GET    /api/v1/clients?page=0&size=20   paginated session snapshots
	GET    /api/v1/listeners                running listener configs
	DELETE /api/v1/listeners/{port}         gracefully stop one listener

The handlers are a thin translation layer: each request becomes one
command on the engine's admin channel, and the reply is awaited with a
timeout. A lost reply surfaces as 504 Gateway Timeout, never a crash.
*/
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flymqtt/internal/config"
	"flymqtt/internal/engine"
	"flymqtt/internal/logging"
	"flymqtt/internal/session"
)

// replyTimeout bounds how long a handler waits for the engine.
const replyTimeout = 5 * time.Second

const (
	defaultPageSize = 20
	maxPageSize     = 500
)

// Server is the admin HTTP server.
type Server struct {
	cfg    config.AdminConfig
	engine *engine.Engine
	log    *logging.Logger
	srv    *http.Server
}

// NewServer builds the admin server around the engine's admin channel.
func NewServer(cfg config.AdminConfig, eng *engine.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		log:    logging.NewLogger("admin"),
	}
	s.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
	}
	return s
}

// routes builds the request mux. Exposed to tests via Handler.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/clients", s.handleClients)
	mux.HandleFunc("/api/v1/listeners", s.handleListeners)
	mux.HandleFunc("/api/v1/listeners/", s.handleListener)
	return mux
}

// Handler returns the HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves the API until Stop is called.
func (s *Server) Start() error {
	s.log.Info("admin API started", "addr", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// handleClients serves GET /api/v1/clients.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	reply := make(chan session.Page[*session.Session], 1)
	s.engine.SubmitAdmin(engine.GetClients{Reply: reply, Page: page, Size: size})

	select {
	case result := <-reply:
		s.writeJSON(w, result)
	case <-time.After(replyTimeout):
		s.log.Error("engine reply timed out", "endpoint", "clients")
		http.Error(w, "engine unavailable", http.StatusGatewayTimeout)
	}
}

// handleListeners serves GET /api/v1/listeners.
func (s *Server) handleListeners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reply := make(chan []config.ListenerConfig, 1)
	s.engine.SubmitAdmin(engine.GetListeners{Reply: reply})

	select {
	case result := <-reply:
		if result == nil {
			result = []config.ListenerConfig{}
		}
		s.writeJSON(w, result)
	case <-time.After(replyTimeout):
		s.log.Error("engine reply timed out", "endpoint", "listeners")
		http.Error(w, "engine unavailable", http.StatusGatewayTimeout)
	}
}

// handleListener serves DELETE /api/v1/listeners/{port}.
func (s *Server) handleListener(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/listeners/")
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	reply := make(chan bool, 1)
	s.engine.SubmitAdmin(engine.StopListener{Port: port, Reply: reply})

	select {
	case stopped := <-reply:
		if !stopped {
			http.Error(w, "listener not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, map[string]any{"stopped": port})
	case <-time.After(replyTimeout):
		s.log.Error("engine reply timed out", "endpoint", "stop-listener")
		http.Error(w, "engine unavailable", http.StatusGatewayTimeout)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encoding failed", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
