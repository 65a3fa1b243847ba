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
Package discovery advertises the broker on the local network over mDNS
(Bonjour/Avahi) and looks up other brokers. Clients and tooling find
brokers under the standard _mqtt._tcp service type without static
configuration.
*/
package discovery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"flymqtt/internal/banner"
	"flymqtt/internal/config"
	"flymqtt/internal/logging"
)

// serviceType is the mDNS service type for MQTT brokers.
const serviceType = "_mqtt._tcp"

// Node is one broker found on the network.
type Node struct {
	NodeID  string `json:"node_id"`
	Addr    string `json:"addr"`
	Port    int    `json:"port"`
	Version string `json:"version,omitempty"`
}

// Service advertises this broker over mDNS.
type Service struct {
	cfg    config.DiscoveryConfig
	log    *logging.Logger
	server *mdns.Server
}

// NewService creates a discovery service; Start begins advertising.
func NewService(cfg config.DiscoveryConfig) *Service {
	return &Service{
		cfg: cfg,
		log: logging.NewLogger("discovery"),
	}
}

// Start advertises the broker's primary MQTT port. No-op when
// discovery is disabled.
func (s *Service) Start(port int) error {
	if !s.cfg.Enabled {
		return nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = s.cfg.NodeID
	}

	txt := []string{
		"node_id=" + s.cfg.NodeID,
		"version=" + banner.Version,
	}
	zone, err := mdns.NewMDNSService(s.cfg.NodeID, serviceType, "", "", port, nil, txt)
	if err != nil {
		return fmt.Errorf("mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("mdns server: %w", err)
	}
	s.server = server
	s.log.Info("mdns advertisement started",
		"node_id", s.cfg.NodeID, "host", host, "port", port)
	return nil
}

// Stop ends the advertisement.
func (s *Service) Stop() {
	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
		s.log.Info("mdns advertisement stopped")
	}
}

// Discover queries the network for brokers until the timeout elapses.
func Discover(timeout time.Duration) ([]Node, error) {
	entries := make(chan *mdns.ServiceEntry, 32)
	done := make(chan []Node, 1)

	go func() {
		var nodes []Node
		for e := range entries {
			nodes = append(nodes, entryToNode(e))
		}
		done <- nodes
	}()

	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = timeout
	err := mdns.Query(params)
	close(entries)
	nodes := <-done
	if err != nil {
		return nodes, fmt.Errorf("mdns query: %w", err)
	}
	return nodes, nil
}

func entryToNode(e *mdns.ServiceEntry) Node {
	n := Node{Port: e.Port}
	if e.AddrV4 != nil {
		n.Addr = e.AddrV4.String()
	} else if e.AddrV6 != nil {
		n.Addr = e.AddrV6.String()
	} else {
		n.Addr = e.Host
	}
	for _, field := range e.InfoFields {
		if v, ok := strings.CutPrefix(field, "node_id="); ok {
			n.NodeID = v
		}
		if v, ok := strings.CutPrefix(field, "version="); ok {
			n.Version = v
		}
	}
	if n.NodeID == "" {
		n.NodeID = strings.TrimSuffix(e.Name, "."+serviceType+".local.")
	}
	return n
}
