// FlyMQTT vs Kafka publish benchmark.
// Measures throughput and latency of acknowledged publishes against a
// running FlyMQTT broker and, optionally, a Kafka broker for comparison.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	flymqtt "flymqtt/pkg/client"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// TestConfig defines a single benchmark test configuration
type TestConfig struct {
	Name        string
	MsgSize     int
	MsgCount    int
	Concurrency int
}

// BenchmarkResult contains the results of a single benchmark run
type BenchmarkResult struct {
	System         string   `json:"system"`
	Name           string   `json:"name"`
	MessageSize    int      `json:"message_size_bytes"`
	MessageCount   int      `json:"message_count"`
	DurationSec    float64  `json:"duration_seconds"`
	ThroughputMsgs float64  `json:"throughput_msgs_per_sec"`
	ThroughputMB   float64  `json:"throughput_mb_per_sec"`
	LatencyP50Ms   float64  `json:"latency_p50_ms"`
	LatencyP95Ms   float64  `json:"latency_p95_ms"`
	LatencyP99Ms   float64  `json:"latency_p99_ms"`
	LatencyAvgMs   float64  `json:"latency_avg_ms"`
	Errors         int      `json:"errors"`
	ErrorMessages  []string `json:"error_messages,omitempty"`
	Concurrency    int      `json:"concurrency"`
	Success        bool     `json:"success"`
}

// BenchmarkSuite contains all benchmark results and metadata
type BenchmarkSuite struct {
	Timestamp  string            `json:"timestamp"`
	GoVersion  string            `json:"go_version"`
	NumCPU     int               `json:"num_cpu"`
	Results    []BenchmarkResult `json:"results"`
	WarmupRuns int               `json:"warmup_runs"`
	TotalTimeS float64           `json:"total_time_seconds"`
}

// Command-line flags
var (
	flymqttAddr = flag.String("flymqtt", "localhost:1883", "FlyMQTT broker address")
	kafkaAddr   = flag.String("kafka", "", "Kafka broker address (empty disables the comparison)")
	outputFile  = flag.String("output", "benchmark-results.json", "Output file for results")
	quick       = flag.Bool("quick", false, "Quick mode - fewer tests")
	warmup      = flag.Int("warmup", 1, "Number of warmup runs before benchmarking")
	verbose     = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	suiteStart := time.Now()
	printBanner()

	suite := &BenchmarkSuite{
		Timestamp:  time.Now().Format(time.RFC3339),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		WarmupRuns: *warmup,
	}

	fmt.Printf("\n%s Testing connectivity...%s\n", colorCyan, colorReset)
	flymqttOK := testFlyMQTTConnection(*flymqttAddr)
	kafkaOK := *kafkaAddr != "" && testKafkaConnection(*kafkaAddr)

	if !flymqttOK && !kafkaOK {
		fmt.Printf("%s✗ No systems available for benchmarking%s\n", colorRed, colorReset)
		os.Exit(1)
	}

	tests := getTestConfigs()

	for i := 0; i < *warmup; i++ {
		if flymqttOK {
			runFlyMQTTBenchmark(*flymqttAddr, 1024, 500, 4, "warmup")
		}
		if kafkaOK {
			runKafkaBenchmark(*kafkaAddr, 1024, 500, 4, "warmup")
		}
	}

	for i, test := range tests {
		fmt.Printf("\n%s[%d/%d] %s%s\n", colorBold, i+1, len(tests), test.Name, colorReset)
		fmt.Printf("  Size: %s | Count: %d | Concurrency: %d\n",
			formatBytes(test.MsgSize), test.MsgCount, test.Concurrency)

		if flymqttOK {
			fmt.Printf("  %s▶ FlyMQTT:%s ", colorGreen, colorReset)
			r := runFlyMQTTBenchmark(*flymqttAddr, test.MsgSize, test.MsgCount, test.Concurrency, test.Name)
			suite.Results = append(suite.Results, r)
			printInlineResult(r)
		}

		if kafkaOK {
			fmt.Printf("  %s▶ Kafka:%s ", colorYellow, colorReset)
			r := runKafkaBenchmark(*kafkaAddr, test.MsgSize, test.MsgCount, test.Concurrency, test.Name)
			suite.Results = append(suite.Results, r)
			printInlineResult(r)
		}
	}

	suite.TotalTimeS = time.Since(suiteStart).Seconds()

	data, _ := json.MarshalIndent(suite, "", "  ")
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		fmt.Printf("%s✗ Failed to save results: %v%s\n", colorRed, err, colorReset)
	}

	printFinalSummary(suite.Results)
	fmt.Printf("\n%sResults saved to %s%s\n", colorDim, *outputFile, colorReset)
	fmt.Printf("%sTotal benchmark time: %.1f seconds%s\n", colorDim, suite.TotalTimeS, colorReset)
}

func printBanner() {
	fmt.Printf("\n%s╔══════════════════════════════════════════════════════════════╗%s\n", colorCyan, colorReset)
	fmt.Printf("%s║  FlyMQTT Publish Benchmark Suite                             ║%s\n", colorCyan, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════════════════════════════╝%s\n", colorCyan, colorReset)
	if *warmup > 0 {
		fmt.Printf("%s  Warmup runs: %d%s\n", colorDim, *warmup, colorReset)
	}
}

func getTestConfigs() []TestConfig {
	if *quick {
		return []TestConfig{
			{"Quick test (1KB x 2000)", 1024, 2000, 1},
			{"Concurrent (1KB x 5000, 8 workers)", 1024, 5000, 8},
		}
	}
	return []TestConfig{
		{"Tiny messages (100B x 5000)", 100, 5000, 1},
		{"Small messages (1KB x 5000)", 1024, 5000, 1},
		{"Medium messages (10KB x 2000)", 10240, 2000, 1},
		{"Concurrent (1KB x 10000, 4 workers)", 1024, 10000, 4},
		{"Concurrent (1KB x 10000, 8 workers)", 1024, 10000, 8},
		{"Sustained load (1KB x 50000, 8 workers)", 1024, 50000, 8},
	}
}

func testFlyMQTTConnection(addr string) bool {
	c, err := flymqtt.Dial(addr, flymqtt.Options{ClientID: "bench-probe"})
	if err != nil {
		fmt.Printf("  %s✗ FlyMQTT (%s): %v%s\n", colorRed, addr, err, colorReset)
		return false
	}
	c.Disconnect()
	fmt.Printf("  %s✓ FlyMQTT (%s)%s\n", colorGreen, addr, colorReset)
	return true
}

func testKafkaConnection(addr string) bool {
	conn, err := kafka.Dial("tcp", addr)
	if err != nil {
		fmt.Printf("  %s✗ Kafka (%s): %v%s\n", colorRed, addr, err, colorReset)
		return false
	}
	conn.Close()
	fmt.Printf("  %s✓ Kafka (%s)%s\n", colorGreen, addr, colorReset)
	return true
}

// runFlyMQTTBenchmark publishes at QoS 1 so each latency sample covers
// the full round trip to the broker's acknowledgement.
func runFlyMQTTBenchmark(addr string, msgSize, msgCount, concurrency int, testName string) BenchmarkResult {
	topic := fmt.Sprintf("bench/%d", time.Now().UnixNano())

	result := BenchmarkResult{
		System:       "FlyMQTT",
		Name:         testName,
		MessageSize:  msgSize,
		MessageCount: msgCount,
		Concurrency:  concurrency,
	}

	var latencies []time.Duration
	var latMu sync.Mutex
	var errorCount int64
	var errorMsgs []string
	var errorMsgMu sync.Mutex
	msgsPerWorker := msgCount / concurrency

	start := time.Now()
	var wg sync.WaitGroup

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			c, err := flymqtt.Dial(addr, flymqtt.Options{
				ClientID: fmt.Sprintf("bench-%d-%d", time.Now().UnixNano(), workerID),
			})
			if err != nil {
				atomic.AddInt64(&errorCount, int64(msgsPerWorker))
				errorMsgMu.Lock()
				errorMsgs = append(errorMsgs, fmt.Sprintf("worker %d: connection failed: %v", workerID, err))
				errorMsgMu.Unlock()
				return
			}
			defer c.Disconnect()

			payload := make([]byte, msgSize)
			rand.Read(payload)

			for i := 0; i < msgsPerWorker; i++ {
				t := time.Now()
				err := c.Publish(topic, payload, 1)
				lat := time.Since(t)

				if err != nil {
					atomic.AddInt64(&errorCount, 1)
					if *verbose {
						errorMsgMu.Lock()
						if len(errorMsgs) < 10 {
							errorMsgs = append(errorMsgs, fmt.Sprintf("publish error: %v", err))
						}
						errorMsgMu.Unlock()
					}
				} else {
					latMu.Lock()
					latencies = append(latencies, lat)
					latMu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	fillResult(&result, time.Since(start), latencies, int(errorCount), errorMsgs)
	return result
}

func runKafkaBenchmark(addr string, msgSize, msgCount, concurrency int, testName string) BenchmarkResult {
	topic := fmt.Sprintf("bench-kafka-%d", time.Now().UnixNano())

	result := BenchmarkResult{
		System:       "Kafka",
		Name:         testName,
		MessageSize:  msgSize,
		MessageCount: msgCount,
		Concurrency:  concurrency,
	}

	if conn, err := kafka.Dial("tcp", addr); err == nil {
		conn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     6,
			ReplicationFactor: 1,
		})
		conn.Close()
		time.Sleep(time.Second)
	}

	var latencies []time.Duration
	var latMu sync.Mutex
	var errorCount int64
	var errorMsgs []string
	var errorMsgMu sync.Mutex
	msgsPerWorker := msgCount / concurrency

	start := time.Now()
	var wg sync.WaitGroup

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			writer := &kafka.Writer{
				Addr:         kafka.TCP(addr),
				Topic:        topic,
				Balancer:     &kafka.RoundRobin{},
				BatchSize:    1,
				BatchTimeout: time.Millisecond,
				RequiredAcks: kafka.RequireOne,
			}
			defer writer.Close()

			payload := make([]byte, msgSize)
			rand.Read(payload)

			for i := 0; i < msgsPerWorker; i++ {
				t := time.Now()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := writer.WriteMessages(ctx, kafka.Message{Value: payload})
				cancel()
				lat := time.Since(t)

				if err != nil {
					atomic.AddInt64(&errorCount, 1)
					if *verbose {
						errorMsgMu.Lock()
						if len(errorMsgs) < 10 {
							errorMsgs = append(errorMsgs, fmt.Sprintf("produce error: %v", err))
						}
						errorMsgMu.Unlock()
					}
				} else {
					latMu.Lock()
					latencies = append(latencies, lat)
					latMu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	fillResult(&result, time.Since(start), latencies, int(errorCount), errorMsgs)
	return result
}

func fillResult(r *BenchmarkResult, duration time.Duration, latencies []time.Duration, errors int, errorMsgs []string) {
	successCount := r.MessageCount - errors
	r.DurationSec = duration.Seconds()
	r.ThroughputMsgs = float64(successCount) / duration.Seconds()
	r.ThroughputMB = float64(successCount*r.MessageSize) / duration.Seconds() / 1024 / 1024
	r.Errors = errors
	r.ErrorMessages = errorMsgs
	r.Success = errors == 0

	if len(latencies) > 0 {
		r.LatencyP50Ms = float64(percentile(latencies, 0.50).Microseconds()) / 1000.0
		r.LatencyP95Ms = float64(percentile(latencies, 0.95).Microseconds()) / 1000.0
		r.LatencyP99Ms = float64(percentile(latencies, 0.99).Microseconds()) / 1000.0
		r.LatencyAvgMs = float64(avgDuration(latencies).Microseconds()) / 1000.0
	}
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avgDuration(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func printInlineResult(r BenchmarkResult) {
	if r.Success {
		fmt.Printf("%s%.0f msgs/s%s | %.2f MB/s | p50=%.2fms p99=%.2fms\n",
			colorGreen, r.ThroughputMsgs, colorReset, r.ThroughputMB, r.LatencyP50Ms, r.LatencyP99Ms)
	} else {
		fmt.Printf("%s✗ %d errors%s\n", colorRed, r.Errors, colorReset)
	}
}

func printFinalSummary(results []BenchmarkResult) {
	fmt.Printf("\n%s═══════════════════════════════════════════════════════════════%s\n", colorCyan, colorReset)
	fmt.Printf("%s                        BENCHMARK SUMMARY                        %s\n", colorCyan, colorReset)
	fmt.Printf("%s═══════════════════════════════════════════════════════════════%s\n", colorCyan, colorReset)

	var flymqttResults, kafkaResults []BenchmarkResult
	for _, r := range results {
		if !r.Success || r.Name == "warmup" {
			continue
		}
		if r.System == "FlyMQTT" {
			flymqttResults = append(flymqttResults, r)
		} else {
			kafkaResults = append(kafkaResults, r)
		}
	}

	fmt.Println(strings.Repeat("─", 65))

	if len(flymqttResults) > 0 {
		fmt.Printf("  %sFlyMQTT%s: avg %s%.0f msgs/s%s | max %.0f msgs/s | avg p50=%.2fms\n",
			colorGreen, colorReset, colorBold, avgThroughput(flymqttResults), colorReset,
			maxThroughput(flymqttResults), avgP50(flymqttResults))
	}
	if len(kafkaResults) > 0 {
		fmt.Printf("  %sKafka%s:   avg %s%.0f msgs/s%s | max %.0f msgs/s | avg p50=%.2fms\n",
			colorYellow, colorReset, colorBold, avgThroughput(kafkaResults), colorReset,
			maxThroughput(kafkaResults), avgP50(kafkaResults))
	}

	if len(flymqttResults) > 0 && len(kafkaResults) > 0 {
		ratio := avgThroughput(flymqttResults) / avgThroughput(kafkaResults)
		fmt.Println()
		if ratio > 1 {
			fmt.Printf("  → FlyMQTT is %s%.2fx faster throughput%s\n", colorGreen, ratio, colorReset)
		} else {
			fmt.Printf("  → Kafka is %s%.2fx faster throughput%s\n", colorYellow, 1/ratio, colorReset)
		}
	}
}

func avgThroughput(results []BenchmarkResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, r := range results {
		total += r.ThroughputMsgs
	}
	return total / float64(len(results))
}

func maxThroughput(results []BenchmarkResult) float64 {
	var max float64
	for _, r := range results {
		if r.ThroughputMsgs > max {
			max = r.ThroughputMsgs
		}
	}
	return max
}

func avgP50(results []BenchmarkResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, r := range results {
		total += r.LatencyP50Ms
	}
	return total / float64(len(results))
}

func formatBytes(b int) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%.1fMB", float64(b)/1024/1024)
	}
	if b >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	return fmt.Sprintf("%dB", b)
}
