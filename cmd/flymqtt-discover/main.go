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
flymqtt-discover - FlyMQTT Broker Discovery Tool

This tool discovers FlyMQTT brokers on the local network using mDNS
(Bonjour/Avahi). Useful for finding a broker without static configuration.

Usage:

	flymqtt-discover                  # Discover brokers (5 second timeout)
	flymqtt-discover --timeout 10     # Custom timeout in seconds
	flymqtt-discover --json           # Output as JSON
	flymqtt-discover --quiet          # Only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"flymqtt/internal/banner"
	"flymqtt/internal/discovery"
)

var (
	headline = color.New(color.FgCyan, color.Bold)
	ok       = color.New(color.FgGreen)
	warn     = color.New(color.FgYellow)
	fail     = color.New(color.FgRed)
	dim      = color.New(color.Faint)
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output broker addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	version := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(quiet, "q", false, "Only output broker addresses (for scripting)")
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *version {
		printVersion()
		return
	}

	// Suppress mDNS library logging (it logs IPv6 errors that are not critical)
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
		dim.Printf("  Scanning for brokers on the network (timeout: %ds)...\n\n", *timeout)
	}

	nodes, err := discovery.Discover(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			fail.Fprintf(os.Stderr, "✗ Discovery failed: %v\n", err)
		}
		os.Exit(1)
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			warn.Println("⚠ No FlyMQTT brokers found on the network.")
			fmt.Println()
			dim.Println("  Common issues:")
			fmt.Println("    • Brokers are not running with discovery enabled")
			fmt.Println("    • mDNS/Bonjour is blocked by firewall (UDP port 5353)")
			fmt.Println("    • Brokers are on a different network segment")
			fmt.Println()
			dim.Println("  Try: flymqtt-discover --timeout 10")
			fmt.Println()
		}
		return
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

func printBanner() {
	fmt.Println()
	for _, line := range banner.GetBannerLines() {
		headline.Println("  " + line)
	}
	fmt.Println()
	ok.Print("  FlyMQTT Discover")
	dim.Printf(" v%s\n", banner.Version)
	dim.Println("  Network Broker Discovery Tool")
	fmt.Println()
}

func printVersion() {
	fmt.Println()
	headline.Print("  FlyMQTT Discover")
	dim.Printf(" v%s\n", banner.Version)
	dim.Println("  " + banner.Copyright)
	fmt.Println()
}

func printUsage() {
	printBanner()
	dim.Println("  Discovers FlyMQTT brokers on the local network using mDNS (Bonjour/Avahi).")
	fmt.Println()
	fmt.Println("Usage: flymqtt-discover [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("    --timeout <seconds>   Discovery timeout (default: 5)")
	fmt.Println("    --json                Output results as JSON")
	fmt.Println("    --quiet, -q           Only output addresses (for scripting)")
	fmt.Println("    --version             Show version information")
	fmt.Println("    --help, -h            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	dim.Println("    # Get just addresses for scripting")
	fmt.Println("    BROKER=$(flymqtt-discover --quiet)")
	fmt.Println()
	fmt.Println("Network requirements:")
	fmt.Println("    • mDNS uses UDP port 5353 (multicast)")
	fmt.Println("    • Brokers must be on the same network segment")
	fmt.Println()
}

func outputJSON(nodes []discovery.Node) {
	data, _ := json.MarshalIndent(nodes, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []discovery.Node) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = net.JoinHostPort(n.Addr, strconv.Itoa(n.Port))
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []discovery.Node) {
	ok.Printf("✓ Found %d FlyMQTT broker(s)\n\n", len(nodes))

	for i, n := range nodes {
		dim.Printf("  [%d] ", i+1)
		headline.Println(n.NodeID)

		dim.Print("      Address: ")
		ok.Println(net.JoinHostPort(n.Addr, strconv.Itoa(n.Port)))

		if n.Version != "" {
			dim.Print("      Version: ")
			fmt.Println(n.Version)
		}
		fmt.Println()
	}

	dim.Println("  Tip: Use --json for machine-readable output")
	fmt.Println()
}
