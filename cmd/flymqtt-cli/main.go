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
flymqtt-cli - FlyMQTT Command Line Client

Publish and subscribe from the terminal.

Usage:

	flymqtt-cli pub -topic sensors/room1/temp -message "21.5"
	flymqtt-cli sub -topic "sensors/+/temp"
	flymqtt-cli ping

Common options:

	-broker string    Broker address (default "localhost:1883")
	-id string        Client identifier (default: random)
	-user string      Username
	-pass string      Password
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"flymqtt/internal/banner"
	"flymqtt/pkg/client"
)

var (
	ok   = color.New(color.FgGreen)
	fail = color.New(color.FgRed)
	dim  = color.New(color.Faint)
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pub":
		runPub(os.Args[2:])
	case "sub":
		runSub(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "version", "-version", "--version":
		banner.PrintCompact()
	case "help", "-h", "-help", "--help":
		printUsage()
	default:
		fail.Fprintf(os.Stderr, "✗ Unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	banner.PrintCompact()
	fmt.Println()
	fmt.Println("Usage: flymqtt-cli <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("    pub     Publish a message to a topic")
	fmt.Println("    sub     Subscribe to a topic filter and print messages")
	fmt.Println("    ping    Check broker connectivity")
	fmt.Println()
	fmt.Println("Common options:")
	fmt.Println("    -broker string    Broker address (default \"localhost:1883\")")
	fmt.Println("    -id string        Client identifier (default: random)")
	fmt.Println("    -user string      Username")
	fmt.Println("    -pass string      Password")
	fmt.Println()
	fmt.Println("Examples:")
	dim.Println("    # Publish at QoS 1 and wait for the acknowledgement")
	fmt.Println("    flymqtt-cli pub -topic alerts -message \"disk full\" -qos 1")
	fmt.Println()
	dim.Println("    # Watch every sensor")
	fmt.Println("    flymqtt-cli sub -topic \"sensors/#\"")
	fmt.Println()
}

// commonFlags registers the connection options shared by all commands.
func commonFlags(fs *flag.FlagSet) (broker, id, user, pass *string) {
	broker = fs.String("broker", "localhost:1883", "Broker address")
	id = fs.String("id", "", "Client identifier")
	user = fs.String("user", "", "Username")
	pass = fs.String("pass", "", "Password")
	return
}

func dial(broker, id, user, pass string) *client.Client {
	c, err := client.Dial(broker, client.Options{
		ClientID: id,
		Username: user,
		Password: pass,
	})
	if err != nil {
		fail.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	return c
}

func runPub(args []string) {
	fs := flag.NewFlagSet("pub", flag.ExitOnError)
	broker, id, user, pass := commonFlags(fs)
	topic := fs.String("topic", "", "Topic to publish to (required)")
	message := fs.String("message", "", "Message payload")
	qos := fs.Int("qos", 0, "Quality of service (0 or 1)")
	fs.Parse(args)

	if *topic == "" {
		fail.Fprintln(os.Stderr, "✗ -topic is required")
		os.Exit(1)
	}
	if *qos != 0 && *qos != 1 {
		fail.Fprintln(os.Stderr, "✗ -qos must be 0 or 1")
		os.Exit(1)
	}

	c := dial(*broker, *id, *user, *pass)
	defer c.Disconnect()

	if err := c.Publish(*topic, []byte(*message), byte(*qos)); err != nil {
		fail.Fprintf(os.Stderr, "✗ Publish failed: %v\n", err)
		os.Exit(1)
	}
	ok.Printf("✓ Published %d bytes to %s\n", len(*message), *topic)
}

func runSub(args []string) {
	fs := flag.NewFlagSet("sub", flag.ExitOnError)
	broker, id, user, pass := commonFlags(fs)
	topic := fs.String("topic", "", "Topic filter to subscribe to (required)")
	fs.Parse(args)

	if *topic == "" {
		fail.Fprintln(os.Stderr, "✗ -topic is required")
		os.Exit(1)
	}

	c := dial(*broker, *id, *user, *pass)
	defer c.Disconnect()

	if err := c.Subscribe(*topic); err != nil {
		fail.Fprintf(os.Stderr, "✗ Subscribe failed: %v\n", err)
		os.Exit(1)
	}
	dim.Printf("Subscribed to %s, waiting for messages (Ctrl-C to exit)...\n", *topic)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case msg, alive := <-c.Messages():
			if !alive {
				fail.Fprintln(os.Stderr, "✗ Connection closed by broker")
				os.Exit(1)
			}
			dim.Printf("[%s] ", time.Now().Format("15:04:05"))
			ok.Printf("%s ", msg.Topic)
			fmt.Printf("%s\n", msg.Payload)
		case <-sigCh:
			fmt.Println()
			return
		}
	}
}

func runPing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	broker, id, user, pass := commonFlags(fs)
	fs.Parse(args)

	c := dial(*broker, *id, *user, *pass)
	defer c.Disconnect()

	start := time.Now()
	if err := c.Ping(); err != nil {
		fail.Fprintf(os.Stderr, "✗ Ping failed: %v\n", err)
		os.Exit(1)
	}
	ok.Printf("✓ %s responded in %s\n", *broker, time.Since(start).Round(time.Microsecond))
}
