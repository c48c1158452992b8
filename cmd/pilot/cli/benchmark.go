package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

type benchmarkOptions struct {
	baseURL     string
	appKey      string
	licenseKey  string
	hwid        string
	duration    time.Duration
	concurrency int
}

func newBenchmarkCmd() *cobra.Command {
	var opts benchmarkOptions

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark sign-in throughput",
		Long: `Run a load test against a running Pilot server. Concurrent workers call
/auth/signin with the given application and license for the given duration
and report throughput, status codes and latency percentiles.

Raise server.rate_limit.public_per_minute on the target first, or most
requests will be answered with 429.`,
		Example: `  pilot benchmark --app-key $APP --license-key $LIC --duration 30s --concurrency 50
  pilot benchmark --url http://auth.internal:8080 --app-key $APP --license-key $LIC --hwid box-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://127.0.0.1:8080", "Server base URL")
	cmd.Flags().StringVar(&opts.appKey, "app-key", "", "Application key (required)")
	cmd.Flags().StringVar(&opts.licenseKey, "license-key", "", "License key (required)")
	cmd.Flags().StringVar(&opts.hwid, "hwid", "", "Hardware ID to present")
	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "Test duration")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.MarkFlagRequired("app-key")
	cmd.MarkFlagRequired("license-key")

	return cmd
}

// signInURL builds the /auth/signin request URL for the options.
func signInURL(opts benchmarkOptions) (string, error) {
	u, err := url.Parse(opts.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse --url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("--url must be absolute, got %q", opts.baseURL)
	}
	u = u.JoinPath("auth", "signin")
	q := url.Values{}
	q.Set("application_key", opts.appKey)
	q.Set("license_key", opts.licenseKey)
	if opts.hwid != "" {
		q.Set("hwid", opts.hwid)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printBenchmarkBanner(opts benchmarkOptions) {
	fmt.Print(banner)
	fmt.Println("Pilot Benchmark Suite")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: %s/auth/signin\n", opts.baseURL)
	fmt.Printf("Duration: %s | Concurrency: %d\n", opts.duration, opts.concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// percentile returns the p-th percentile of sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := len(sorted) * p / 100
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// benchmarkResult aggregates what the workers observed.
type benchmarkResult struct {
	requests  int64
	transport int64
	statuses  map[int]int64
	latencies []time.Duration
}

func runBenchmark(opts benchmarkOptions) error {
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	target, err := signInURL(opts)
	if err != nil {
		return err
	}

	printBenchmarkBanner(opts)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
		},
	}

	fmt.Print("Checking sign-in... ")
	status, _, err := signInOnce(context.Background(), client, target)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	fmt.Printf("%d\n", status)
	if status != http.StatusOK {
		fmt.Println("  warning: sign-in does not succeed; measuring the error path")
	}
	fmt.Println()
	fmt.Println("Running benchmark...")
	fmt.Println()

	memBefore := captureMemStats()
	res := drive(client, target, opts)
	memAfter := captureMemStats()

	qps := float64(res.requests) / opts.duration.Seconds()

	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total requests: %d\n", res.requests)
	fmt.Printf("  Transport errs: %d\n", res.transport)
	fmt.Printf("  RPS:            %.1f\n", qps)

	codes := make([]int, 0, len(res.statuses))
	for c := range res.statuses {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Printf("  HTTP %d:       %d\n", c, res.statuses[c])
	}

	if len(res.latencies) > 0 {
		sort.Slice(res.latencies, func(i, j int) bool {
			return res.latencies[i] < res.latencies[j]
		})
		fmt.Printf("  Latency p50:    %s\n", percentile(res.latencies, 50))
		fmt.Printf("  Latency p95:    %s\n", percentile(res.latencies, 95))
		fmt.Printf("  Latency p99:    %s\n", percentile(res.latencies, 99))
		fmt.Printf("  Latency max:    %s\n", res.latencies[len(res.latencies)-1])
	}

	fmt.Println()
	fmt.Println("Memory (client)")
	fmt.Println("---------------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  RSS (sys) before: %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  RSS (sys) after:  %s\n", formatBytes(memAfter.Sys))

	return nil
}

// drive runs the workers until the duration elapses.
func drive(client *http.Client, target string, opts benchmarkOptions) benchmarkResult {
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	var (
		requests  atomic.Int64
		transport atomic.Int64
		mu        sync.Mutex
		statuses  = make(map[int]int64)
		latencies = make([]time.Duration, 0, 100000)
		wg        sync.WaitGroup
	)

	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				status, elapsed, err := signInOnce(ctx, client, target)
				if err != nil {
					if ctx.Err() == nil {
						transport.Add(1)
					}
					continue
				}
				requests.Add(1)
				mu.Lock()
				statuses[status]++
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return benchmarkResult{
		requests:  requests.Load(),
		transport: transport.Load(),
		statuses:  statuses,
		latencies: latencies,
	}
}

// signInOnce issues one sign-in and drains the body so the connection is
// reused.
func signInOnce(ctx context.Context, client *http.Client, target string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), nil
}
