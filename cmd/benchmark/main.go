// Benchmark tool for testing Kestrel against labeled transaction data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a CSV of transactions with expected category labels
//   2. Sends each transaction to POST /rules/test
//   3. Compares the top match's category with the expected label
//   4. Calculates coverage, accuracy, and latency statistics
//
// Expected CSV columns: description, amount, type, date, category
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is a row from the benchmark dataset.
type LabeledTransaction struct {
	Description string
	Amount      float64
	Type        string
	Date        string
	Category    string
}

// TestRequest is the Kestrel matching request format.
type TestRequest struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
	Date        string  `json:"date"`
}

// TestResponse is the Kestrel matching response format.
type TestResponse struct {
	MatchedRules []struct {
		RuleID     string  `json:"rule_id"`
		Name       string  `json:"name"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"matched_rules"`
	Count int `json:"count"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Matched        int64 // at least one rule matched
	Unmatched      int64 // no rule matched
	CorrectTop     int64 // top match category equals expected label
	WrongTop       int64 // top match category differs from expected label
	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Company ID for requests")
	token := flag.String("token", "", "Bearer token (if auth is enabled)")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Rule Matching Coverage             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Company ID:  %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	transactions, err := readCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *tenantID, *token, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCSV(path string, limit int) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for _, required := range []string{"description", "amount", "category"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var transactions []LabeledTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)

		tx := LabeledTransaction{
			Description: record[colIndex["description"]],
			Amount:      amount,
			Category:    record[colIndex["category"]],
		}
		if i, ok := colIndex["type"]; ok {
			tx.Type = record[i]
		}
		if i, ok := colIndex["date"]; ok {
			tx.Date = record[i]
		}
		if tx.Type == "" {
			tx.Type = "expense"
		}
		if tx.Date == "" {
			tx.Date = time.Now().Format("2006-01-02")
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL, tenantID, token string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := testTransaction(client, baseURL, tenantID, token, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %q -> %v\n", tx.Description, err)
					}
					continue
				}

				if result.Count == 0 {
					atomic.AddInt64(&metrics.Unmatched, 1)
					if verbose {
						fmt.Printf("✗ %-40q | $%10.2f | expected %-15s | no match\n",
							tx.Description, tx.Amount, tx.Category)
					}
					continue
				}

				atomic.AddInt64(&metrics.Matched, 1)
				top := result.MatchedRules[0]
				if strings.EqualFold(top.Category, tx.Category) {
					atomic.AddInt64(&metrics.CorrectTop, 1)
				} else {
					atomic.AddInt64(&metrics.WrongTop, 1)
				}

				if verbose {
					status := "✓"
					if !strings.EqualFold(top.Category, tx.Category) {
						status = "✗"
					}
					fmt.Printf("%s %-40q | $%10.2f | expected %-15s | got %-15s (%.2f)\n",
						status, tx.Description, tx.Amount, tx.Category, top.Category, top.Confidence)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func testTransaction(client *http.Client, baseURL, tenantID, token string, tx LabeledTransaction) (*TestResponse, error) {
	reqBody := TestRequest{
		Description: tx.Description,
		Amount:      tx.Amount,
		Type:        tx.Type,
		Date:        tx.Date,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/rules/test", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-ID", tenantID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}

	var result TestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("  RESULTS")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	total := m.TotalProcessed
	if total == 0 {
		fmt.Println("  No transactions processed.")
		return
	}

	coverage := 100 * float64(m.Matched) / float64(total)
	accuracy := 0.0
	if m.Matched > 0 {
		accuracy = 100 * float64(m.CorrectTop) / float64(m.Matched)
	}
	avgMs := float64(m.ProcessingTimeMs) / float64(total)
	throughput := float64(total) / duration.Seconds()

	fmt.Printf("  Processed:     %d (%d errors)\n", total, m.TotalErrors)
	fmt.Printf("  Matched:       %d (%.2f%% coverage)\n", m.Matched, coverage)
	fmt.Printf("  Unmatched:     %d\n", m.Unmatched)
	fmt.Printf("  Correct top:   %d (%.2f%% of matched)\n", m.CorrectTop, accuracy)
	fmt.Printf("  Wrong top:     %d\n", m.WrongTop)
	fmt.Println()
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Avg latency:   %.1f ms\n", avgMs)
	fmt.Printf("  Throughput:    %.1f tx/sec\n", throughput)
	fmt.Println()
}
