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
FlyMQTT Broker - Main Entry Point.

USAGE:
======

	flymqtt [options]

OPTIONS:
========

	-config string    Path to configuration file (JSON or YAML format)
	-quiet            Skip banner and config display, output logs only
	-version          Show version information
	-help             Show help message

STARTUP SEQUENCE:
=================
1. Parse command line flags and config file
2. Initialize logging
3. Start the command engine
4. Start the MQTT listeners (TCP and WebSocket)
5. Start the admin API and mDNS advertisement
6. Wait for shutdown signal
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flymqtt/internal/admin"
	"flymqtt/internal/banner"
	"flymqtt/internal/config"
	"flymqtt/internal/discovery"
	"flymqtt/internal/engine"
	"flymqtt/internal/logging"
	"flymqtt/internal/server"
	"flymqtt/internal/session"
)

func printHelp() {
	banner.Print()
	fmt.Println()
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  flymqtt [options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println("  -config string    Path to configuration file (JSON or YAML format)")
	fmt.Println("  -json-logs        Use JSON log output instead of human-readable")
	fmt.Println("  -quiet            Skip banner and config display, output logs only")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help, -h         Show this help message")
	fmt.Println()
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  FLYMQTT_TCP_HOST           TCP listener host (default: 0.0.0.0)")
	fmt.Println("  FLYMQTT_TCP_PORT           TCP listener port (default: 1883)")
	fmt.Println("  FLYMQTT_WS_HOST            WebSocket listener host")
	fmt.Println("  FLYMQTT_WS_PORT            WebSocket listener port (default: 8083)")
	fmt.Println("  FLYMQTT_LOG_LEVEL          Log level: debug, info, warn, error")
	fmt.Println("  FLYMQTT_LOG_JSON           Enable JSON log output (true/false)")
	fmt.Println("  FLYMQTT_QUEUE_CAPACITY     Engine command queue capacity")
	fmt.Println("  FLYMQTT_MAILBOX_CAPACITY   Per-session mailbox capacity")
	fmt.Println("  FLYMQTT_ADMIN_ENABLED      Enable admin HTTP API (true/false)")
	fmt.Println("  FLYMQTT_ADMIN_ADDR         Admin HTTP API address (default: :8080)")
	fmt.Println("  FLYMQTT_DISCOVERY_ENABLED  Enable mDNS advertisement (true/false)")
	fmt.Println("  FLYMQTT_NODE_ID            Unique node identifier")
	fmt.Println("  FLYMQTT_TLS_CERT_FILE      Path to TLS certificate file")
	fmt.Println("  FLYMQTT_TLS_KEY_FILE       Path to TLS private key file")
	fmt.Println("  FLYMQTT_TLS_CA_FILE        Path to CA certificate for client auth")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Start with default settings")
	fmt.Println("  flymqtt")
	fmt.Println()
	fmt.Println("  # Start in quiet mode (logs only, no banner)")
	fmt.Println("  flymqtt -quiet")
	fmt.Println()
	fmt.Println("  # Start with custom config file")
	fmt.Println("  flymqtt -config /etc/flymqtt/config.yaml")
	fmt.Println()
}

func main() {
	// Custom flag handling for help
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "-help" || arg == "help" {
			printHelp()
			return
		}
	}

	configPath := flag.String("config", "", "Path to configuration file")
	jsonLogs := flag.Bool("json-logs", false, "Use JSON log output instead of human-readable")
	quietMode := flag.Bool("quiet", false, "Skip banner and config display, output logs only")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		banner.Print()
		return
	}

	// Load configuration first (before banner, so we can display it)
	cfgMgr := config.Global()
	if *configPath != "" {
		if err := cfgMgr.LoadFromFile(*configPath); err != nil {
			fmt.Printf("Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfgMgr.LoadFromEnv()
	cfg := cfgMgr.Get()
	cfg.Finalize()

	if *jsonLogs {
		cfg.LogJSON = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Display startup banner with full configuration (unless quiet mode)
	if !*quietMode {
		banner.PrintServerWithConfig(cfg)
	}

	// Setup logging
	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")

	logger.Info("Starting FlyMQTT", "version", banner.Version, "node_id", cfg.Discovery.NodeID)

	// Start the command engine
	registry := session.NewRegistry()
	eng := engine.New(registry, cfg.Engine.QueueCapacity)
	engineCtx, stopEngine := context.WithCancel(context.Background())
	go eng.Run(engineCtx)

	// Start the MQTT listeners
	srv := server.New(cfg, eng)
	eng.SetListenerController(srv)
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start listeners", "error", err)
		stopEngine()
		os.Exit(1)
	}

	// Start the admin API
	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(cfg.Admin, eng)
		go func() {
			if err := adminServer.Start(); err != nil {
				logger.Error("Admin API failed", "error", err)
			}
		}()
	}

	// Advertise on the local network
	disc := discovery.NewService(cfg.Discovery)
	if cfg.Discovery.Enabled {
		port := 0
		for _, l := range cfg.Listeners {
			if l.Protocol == config.ProtocolTCP {
				port = l.Port
				break
			}
		}
		if port == 0 {
			port = cfg.Listeners[0].Port
		}
		if err := disc.Start(port); err != nil {
			logger.Error("Failed to start mDNS advertisement", "error", err)
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")

	disc.Stop()
	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error("Error stopping admin server", "error", err)
		}
	}
	srv.Shutdown()
	stopEngine()
}
