// Benchmark tool for load testing the settlement pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -tenant load-test
//
// This tool:
//   1. Seeds a catalog section and default rules via the API
//   2. Hammers POST /settlements from concurrent workers
//   3. Reports throughput, latency percentiles and outcome counts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SettleRequest is the settlement API request format.
type SettleRequest struct {
	SectionID    string `json:"sectionId"`
	SubSectionID string `json:"subSectionId,omitempty"`
	Level        string `json:"level"`
	BaseAmount   string `json:"baseAmount"`
	SpecialPlace bool   `json:"specialPlace,omitempty"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Settled    int64
	Unresolved int64
	Errors     int64
}

var levels = []string{"C1", "C2", "C3", "ESPECIAL"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Comision base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	requests := flag.Int("requests", 10000, "Total settlement requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each error response")
	flag.Parse()

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|          COMISION BENCHMARK - Settlement Throughput           |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nComision URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Requests:     %d\n", *requests)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Comision not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Comision is running:")
		fmt.Println("  go run cmd/comision/main.go")
		os.Exit(1)
	}

	if err := seed(*baseURL, *tenantID); err != nil {
		fmt.Printf("ERROR: failed to seed catalog and rules: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Seeded section 'bench' with default rules for every level.")
	fmt.Println()

	var metrics Metrics
	latencies := make([]time.Duration, *requests)

	jobs := make(chan int, *requests)
	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			for i := range jobs {
				req := SettleRequest{
					SectionID:    "bench",
					Level:        levels[rng.Intn(len(levels))],
					BaseAmount:   fmt.Sprintf("%d.%02d", 100+rng.Intn(5000), rng.Intn(100)),
					SpecialPlace: rng.Intn(10) == 0,
				}

				t0 := time.Now()
				status, body, err := post(client, *baseURL, *tenantID, "/settlements", req)
				latencies[i] = time.Since(t0)

				switch {
				case err != nil:
					atomic.AddInt64(&metrics.Errors, 1)
					if *verbose {
						fmt.Printf("request failed: %v\n", err)
					}
				case status == http.StatusCreated:
					atomic.AddInt64(&metrics.Settled, 1)
				case status == http.StatusUnprocessableEntity:
					atomic.AddInt64(&metrics.Unresolved, 1)
				default:
					atomic.AddInt64(&metrics.Errors, 1)
					if *verbose {
						fmt.Printf("unexpected status %d: %s\n", status, body)
					}
				}
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	report(&metrics, latencies, elapsed, *requests)
}

func seed(baseURL, tenantID string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	section := map[string]any{"id": "bench", "name": "Benchmark", "slug": "bench", "active": true}
	if status, body, err := post(client, baseURL, tenantID, "/sections", section); err != nil {
		return err
	} else if status != http.StatusOK {
		return fmt.Errorf("section seed failed: %d %s", status, body)
	}

	fill := map[string]any{"sectionId": "bench"}
	if status, body, err := post(client, baseURL, tenantID, "/rules/fill-missing", fill); err != nil {
		return err
	} else if status != http.StatusOK {
		return fmt.Errorf("fill-missing failed: %d %s", status, body)
	}

	// Give the zero-percentage defaults a real rate so settlements carry amounts
	rules, err := listRules(client, baseURL, tenantID)
	if err != nil {
		return err
	}
	for _, id := range rules {
		patch := map[string]any{"percentage": "0.10", "maxTotal": "400"}
		req, err := http.NewRequest(http.MethodPatch, baseURL+"/rules/"+id, bytes.NewReader(mustJSON(patch)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Actor-Role", "admin")
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rule patch failed: %d", resp.StatusCode)
		}
	}
	return nil
}

func listRules(client *http.Client, baseURL, tenantID string) ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/rules?sectionId=bench", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Actor-Role", "admin")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Rules []struct {
			ID string `json:"id"`
		} `json:"rules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.Rules))
	for _, r := range out.Rules {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func post(client *http.Client, baseURL, tenantID, path string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Role", "admin")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

func report(m *Metrics, latencies []time.Duration, elapsed time.Duration, total int) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	pct := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx]
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|                           RESULTS                             |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nTotal time:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput:    %.1f req/s\n", float64(total)/elapsed.Seconds())
	fmt.Println()
	fmt.Printf("Settled:       %d\n", m.Settled)
	fmt.Printf("Unresolved:    %d\n", m.Unresolved)
	fmt.Printf("Errors:        %d\n", m.Errors)
	fmt.Println()
	fmt.Printf("Latency p50:   %s\n", pct(0.50).Round(time.Microsecond))
	fmt.Printf("Latency p95:   %s\n", pct(0.95).Round(time.Microsecond))
	fmt.Printf("Latency p99:   %s\n", pct(0.99).Round(time.Microsecond))
	fmt.Printf("Latency max:   %s\n", pct(1.00).Round(time.Microsecond))
	fmt.Println()
}
