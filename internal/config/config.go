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
Package config provides configuration management for FlyMQTT.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (FLYMQTT_* prefix)
3. Configuration file (JSON or YAML format, by extension)
4. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- Listeners: one entry per accept loop (tcp or ws), optional TLS
- Engine: command queue and per-session mailbox capacities
- Logging: log_level, log_json
- Admin: HTTP management API
- Discovery: mDNS advertisement on the local network

EXAMPLE CONFIGURATION FILE (YAML):
==================================

	listeners:
	  - name: tcp-default
	    protocol: tcp
	    host: 0.0.0.0
	    port: 1883
	  - name: websocket
	    protocol: ws
	    host: 0.0.0.0
	    port: 8083
	log_level: info
	admin:
	  enabled: true
	  addr: ":8080"

ENVIRONMENT VARIABLES:
======================
Common settings can be configured via environment variables with the
FLYMQTT_ prefix. Example: FLYMQTT_TCP_PORT=1884 FLYMQTT_LOG_LEVEL=debug
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvTCPHost          = "FLYMQTT_TCP_HOST"
	EnvTCPPort          = "FLYMQTT_TCP_PORT"
	EnvWSHost           = "FLYMQTT_WS_HOST"
	EnvWSPort           = "FLYMQTT_WS_PORT"
	EnvLogLevel         = "FLYMQTT_LOG_LEVEL"
	EnvLogJSON          = "FLYMQTT_LOG_JSON"
	EnvMailboxCapacity  = "FLYMQTT_MAILBOX_CAPACITY"
	EnvQueueCapacity    = "FLYMQTT_QUEUE_CAPACITY"
	EnvAdminEnabled     = "FLYMQTT_ADMIN_ENABLED"
	EnvAdminAddr        = "FLYMQTT_ADMIN_ADDR"
	EnvDiscoveryEnabled = "FLYMQTT_DISCOVERY_ENABLED"
	EnvNodeID           = "FLYMQTT_NODE_ID"
	EnvTLSCertFile      = "FLYMQTT_TLS_CERT_FILE"
	EnvTLSKeyFile       = "FLYMQTT_TLS_KEY_FILE"
	EnvTLSCAFile        = "FLYMQTT_TLS_CA_FILE"
)

// Listener protocols.
const (
	ProtocolTCP = "tcp"
	ProtocolWS  = "ws"
)

// TLSConfig holds the certificate files for a TLS-enabled listener.
type TLSConfig struct {
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// Enabled reports whether the listener should serve TLS.
func (t *TLSConfig) Enabled() bool {
	return t != nil && t.CertFile != "" && t.KeyFile != ""
}

// ListenerConfig describes a single accept loop.
type ListenerConfig struct {
	Name     string     `json:"name" yaml:"name"`
	Protocol string     `json:"protocol" yaml:"protocol"`
	Host     string     `json:"host" yaml:"host"`
	Port     int        `json:"port" yaml:"port"`
	TLS      *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Addr returns the host:port address for the listener.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// EngineConfig holds channel sizing for the command engine.
type EngineConfig struct {
	// QueueCapacity is the buffer size of each engine command channel.
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity"`
	// MailboxCapacity is the buffer size of each session mailbox.
	// A full mailbox drops deliveries for that session.
	MailboxCapacity int `json:"mailbox_capacity" yaml:"mailbox_capacity"`
}

// AdminConfig holds the HTTP management API settings.
type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DiscoveryConfig holds mDNS discovery settings.
type DiscoveryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	NodeID  string `json:"node_id" yaml:"node_id"`
}

// Config is the root broker configuration.
type Config struct {
	Listeners []ListenerConfig `json:"listeners" yaml:"listeners"`
	Engine    EngineConfig     `json:"engine" yaml:"engine"`
	LogLevel  string           `json:"log_level" yaml:"log_level"`
	LogJSON   bool             `json:"log_json" yaml:"log_json"`
	Admin     AdminConfig      `json:"admin" yaml:"admin"`
	Discovery DiscoveryConfig  `json:"discovery" yaml:"discovery"`

	// ConfigFile records where the config was loaded from (not serialized).
	ConfigFile string `json:"-" yaml:"-"`
}

// DefaultConfig returns a config with sensible defaults: a plain TCP
// listener on 1883, a WebSocket listener on 8083, admin API on 8080.
func DefaultConfig() *Config {
	return &Config{
		Listeners: []ListenerConfig{
			{Name: "tcp-default", Protocol: ProtocolTCP, Host: "0.0.0.0", Port: 1883},
			{Name: "ws-default", Protocol: ProtocolWS, Host: "0.0.0.0", Port: 8083},
		},
		Engine: EngineConfig{
			QueueCapacity:   4096,
			MailboxCapacity: 4096,
		},
		LogLevel: "info",
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

var globalManager = &Manager{
	config: DefaultConfig(),
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	cfg.Listeners = append([]ListenerConfig(nil), m.config.Listeners...)
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension (.json vs .yaml/.yml).
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// LoadFromEnv loads configuration from environment variables.
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvTCPHost); v != "" {
		cfg.setListenerHost(ProtocolTCP, v)
	}
	if v := os.Getenv(EnvTCPPort); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.setListenerPort(ProtocolTCP, i)
		}
	}
	if v := os.Getenv(EnvWSHost); v != "" {
		cfg.setListenerHost(ProtocolWS, v)
	}
	if v := os.Getenv(EnvWSPort); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.setListenerPort(ProtocolWS, i)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvMailboxCapacity); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MailboxCapacity = i
		}
	}
	if v := os.Getenv(EnvQueueCapacity); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Engine.QueueCapacity = i
		}
	}
	if v := os.Getenv(EnvAdminEnabled); v != "" {
		cfg.Admin.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvAdminAddr); v != "" {
		cfg.Admin.Addr = v
	}
	if v := os.Getenv(EnvDiscoveryEnabled); v != "" {
		cfg.Discovery.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.Discovery.NodeID = v
	}
	if v := os.Getenv(EnvTLSCertFile); v != "" {
		cfg.firstTLS().CertFile = v
	}
	if v := os.Getenv(EnvTLSKeyFile); v != "" {
		cfg.firstTLS().KeyFile = v
	}
	if v := os.Getenv(EnvTLSCAFile); v != "" {
		cfg.firstTLS().CAFile = v
	}

	m.Set(cfg)
}

// setListenerHost updates the host of the first listener with the protocol.
func (c *Config) setListenerHost(protocol, host string) {
	for i := range c.Listeners {
		if c.Listeners[i].Protocol == protocol {
			c.Listeners[i].Host = host
			return
		}
	}
}

// setListenerPort updates the port of the first listener with the protocol.
func (c *Config) setListenerPort(protocol string, port int) {
	for i := range c.Listeners {
		if c.Listeners[i].Protocol == protocol {
			c.Listeners[i].Port = port
			return
		}
	}
}

// firstTLS returns the TLS config of the first TCP listener, allocating it
// if needed. Env-provided cert files apply to the primary TCP listener.
func (c *Config) firstTLS() *TLSConfig {
	for i := range c.Listeners {
		if c.Listeners[i].Protocol == ProtocolTCP {
			if c.Listeners[i].TLS == nil {
				c.Listeners[i].TLS = &TLSConfig{}
			}
			return c.Listeners[i].TLS
		}
	}
	c.Listeners = append(c.Listeners, ListenerConfig{
		Name:     "tcp-tls",
		Protocol: ProtocolTCP,
		Host:     "0.0.0.0",
		Port:     8883,
		TLS:      &TLSConfig{},
	})
	return c.Listeners[len(c.Listeners)-1].TLS
}

// Finalize performs final configuration adjustments after loading.
// This should be called after loading config from file and environment.
func (c *Config) Finalize() {
	for i := range c.Listeners {
		if c.Listeners[i].Name == "" {
			c.Listeners[i].Name = fmt.Sprintf("%s-%d", c.Listeners[i].Protocol, c.Listeners[i].Port)
		}
		if c.Listeners[i].Host == "" {
			c.Listeners[i].Host = "0.0.0.0"
		}
	}
	if c.Engine.QueueCapacity <= 0 {
		c.Engine.QueueCapacity = 4096
	}
	if c.Engine.MailboxCapacity <= 0 {
		c.Engine.MailboxCapacity = 4096
	}
	if c.Discovery.Enabled && c.Discovery.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Discovery.NodeID = host
		} else {
			c.Discovery.NodeID = "flymqtt"
		}
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	seen := make(map[int]string, len(c.Listeners))
	for _, l := range c.Listeners {
		if l.Protocol != ProtocolTCP && l.Protocol != ProtocolWS {
			return fmt.Errorf("listener %q: protocol must be %q or %q, got %q",
				l.Name, ProtocolTCP, ProtocolWS, l.Protocol)
		}
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("listener %q: port %d out of range", l.Name, l.Port)
		}
		if other, dup := seen[l.Port]; dup {
			return fmt.Errorf("listeners %q and %q share port %d", other, l.Name, l.Port)
		}
		seen[l.Port] = l.Name

		if l.TLS != nil && !l.TLS.Enabled() {
			return fmt.Errorf("listener %q: tls requires both cert_file and key_file", l.Name)
		}
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}

	return nil
}
