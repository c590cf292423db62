// Command loadtest drives concurrent filename searches against a running
// searcher and reports throughput, latency percentiles and cache hit rate.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -dir C: -concurrency 20 -duration 30s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQueries = []string{
	"report", "invoice", "main", "readme", "config", "notes", "photo",
	"backup", "rprt", "cfg", "doc", "setup", "index", "test", "draft",
}

type runConfig struct {
	baseURL     string
	dir         string
	concurrency int
	duration    time.Duration
	queries     []string
}

type stats struct {
	total     atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	results   atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

type searchReply struct {
	Returned int  `json:"returned"`
	CacheHit bool `json:"cache_hit"`
}

func (s *stats) record(d time.Duration, status int, reply *searchReply) {
	s.total.Add(1)
	if status < 200 || status >= 300 {
		s.failures.Add(1)
	}
	if reply != nil {
		s.results.Add(int64(reply.Returned))
		if reply.CacheHit {
			s.cacheHits.Add(1)
		}
	}
	s.mu.Lock()
	if status != 0 {
		s.latencies = append(s.latencies, d)
	}
	s.statusCodes[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the searcher")
	dir := flag.String("dir", "C:", "directory sent with every query; its first character picks the volume")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queries := flag.String("queries", "", "comma separated queries (defaults to a built-in set)")
	flag.Parse()

	cfg := runConfig{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		dir:         *dir,
		concurrency: *concurrency,
		duration:    *duration,
		queries:     defaultQueries,
	}
	if *queries != "" {
		cfg.queries = strings.Split(*queries, ",")
	}

	fmt.Println("=== FileExplorer Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.baseURL)
	fmt.Printf("Directory:   %s\n", cfg.dir)
	fmt.Printf("Concurrency: %d\n", cfg.concurrency)
	fmt.Printf("Duration:    %s\n", cfg.duration)
	fmt.Printf("Queries:     %d unique\n\n", len(cfg.queries))

	s := run(cfg)
	if !report(s, cfg.duration) {
		os.Exit(1)
	}
}

func run(cfg runConfig) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				q := cfg.queries[i%len(cfg.queries)]
				target := fmt.Sprintf("%s/api/v1/search?q=%s&dir=%s&limit=50",
					cfg.baseURL, url.QueryEscape(q), url.QueryEscape(cfg.dir))
				search(ctx, client, target, s)
			}
			return nil
		})
	}
	_ = g.Wait()
	return s
}

func search(ctx context.Context, client *http.Client, target string, s *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.record(0, 0, nil)
		return
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.record(0, 0, nil)
		}
		return
	}
	defer resp.Body.Close()

	var reply searchReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil || resp.StatusCode != http.StatusOK {
		s.record(time.Since(start), resp.StatusCode, nil)
		return
	}
	s.record(time.Since(start), resp.StatusCode, &reply)
}

// report prints the summary and returns false when nothing completed.
func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	failures := s.failures.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Failed:          %d\n", failures)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failures)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
		fmt.Printf("Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits.Load())/float64(total)*100)
		fmt.Printf("Avg Results:     %.1f\n", float64(s.results.Load())/float64(total))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) > 0 {
		latencies := append([]time.Duration(nil), s.latencies...)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		label := fmt.Sprint(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Printf("  %s: %d\n", label, s.statusCodes[code])
	}

	if total == 0 {
		fmt.Println("\nWARNING: no requests completed. Is the searcher running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
