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
Package banner provides the startup banner display for FlyMQTT.

OVERVIEW:
=========
Displays an ASCII art banner with version information when
the broker or CLI starts. Uses ANSI escape codes for colors.

USAGE:
======

	banner.Print()           // Print to stdout
	banner.PrintTo(writer)   // Print to custom writer
	banner.PrintServerWithConfig(cfg)  // Print broker banner with configuration

The banner text is embedded at compile time from banner.txt.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"flymqtt/internal/config"
)

//go:embed banner.txt
var bannerText string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "1.4.2"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

// Print displays the startup banner with version and copyright information.
func Print() {
	PrintTo(os.Stdout)
}

// PrintTo writes the banner to the specified writer.
func PrintTo(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  FlyMQTT"+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Lightweight MQTT Broker"+AnsiReset)
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

// PrintCompact prints a compact version of the banner.
func PrintCompact() {
	fmt.Println(AnsiCyan + AnsiBold + "FlyMQTT" + AnsiReset + " v" + Version)
}

// PrintServerWithConfig prints the broker banner with configuration display.
// This gives a clear overview of listeners, engine sizing, and endpoints
// before the logs start.
func PrintServerWithConfig(cfg *config.Config) {
	PrintServerWithConfigTo(os.Stdout, cfg)
}

// PrintServerWithConfigTo writes the broker banner with configuration to the specified writer.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	// Print ASCII banner
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  FlyMQTT Broker"+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Lightweight MQTT Broker"+AnsiReset)
	fmt.Fprintln(w)

	// Configuration source
	printConfigSource(w, cfg)

	// Print compact configuration
	printCompactConfig(w, cfg)

	// Footer
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)

	// Log separator
	printLogSeparator(w)
}

// PrintLogSeparator prints a visual separator before logs start.
func PrintLogSeparator() {
	printLogSeparator(os.Stdout)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	arrow := "v"
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2 // 4 for arrows on each side
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %s%s %s%s%s %s%s%s\n",
		AnsiYellow, arrow+arrow+line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line+arrow+arrow, AnsiReset, "")
	fmt.Fprintln(w)
}

// Helper functions for configuration display

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)
}

func printCompactConfig(w io.Writer, cfg *config.Config) {
	const lineWidth = 78

	// === SERVER ===
	printSectionHeader(w, "Server", lineWidth)

	col1 := fmtKV("Node", cfg.Discovery.NodeID)
	col2 := fmtKV("Log", cfg.LogLevel)
	col3 := fmtKV("Listeners", fmt.Sprintf("%d", len(cfg.Listeners)))
	printRow3(w, col1, col2, col3)

	fmt.Fprintln(w)

	// === LISTENERS ===
	printSectionHeader(w, "Listeners", lineWidth)
	for _, l := range cfg.Listeners {
		col1 := fmtKV(l.Name, AnsiGreen+l.Addr()+AnsiReset)
		col2 := fmtKV("Proto", strings.ToUpper(l.Protocol))
		var col3 string
		if l.TLS.Enabled() {
			col3 = fmtEnabled("TLS", true)
		} else {
			col3 = fmtKV("TLS", AnsiYellow+"off"+AnsiReset)
		}
		printRow3(w, col1, col2, col3)
	}

	fmt.Fprintln(w)

	// === ENGINE ===
	printSectionHeader(w, "Engine", lineWidth)
	col1 = fmtKV("Queue", fmt.Sprintf("%d", cfg.Engine.QueueCapacity))
	col2 = fmtKV("Mailbox", fmt.Sprintf("%d", cfg.Engine.MailboxCapacity))
	col3 = fmtKV("CPUs", fmt.Sprintf("%d/%d", runtime.GOMAXPROCS(0), runtime.NumCPU()))
	printRow3(w, col1, col2, col3)

	fmt.Fprintln(w)

	// === ENDPOINTS ===
	printSectionHeader(w, "Endpoints", lineWidth)
	printEndpointsInfo(w, cfg)

	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}

func printEndpointsInfo(w io.Writer, cfg *config.Config) {
	var endpoints []string

	for _, l := range cfg.Listeners {
		endpoints = append(endpoints, fmtKV("Client", AnsiGreen+l.Addr()+AnsiReset))
	}

	if cfg.Admin.Enabled {
		endpoints = append(endpoints, fmtKV("Admin", cfg.Admin.Addr))
	} else {
		endpoints = append(endpoints, fmtKV("Admin", AnsiDim+"off"+AnsiReset))
	}

	if cfg.Discovery.Enabled {
		endpoints = append(endpoints, fmtKV("mDNS", "_mqtt._tcp"))
	} else {
		endpoints = append(endpoints, fmtKV("mDNS", AnsiDim+"off"+AnsiReset))
	}

	// Print in rows of 3
	for i := 0; i < len(endpoints); i += 3 {
		col1 := endpoints[i]
		col2 := ""
		col3 := ""
		if i+1 < len(endpoints) {
			col2 = endpoints[i+1]
		}
		if i+2 < len(endpoints) {
			col3 = endpoints[i+2]
		}
		printRow3(w, col1, col2, col3)
	}
}
