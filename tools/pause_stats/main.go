package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
)

// Polls a running kilnd's metrics endpoint and prints the cleanup
// counters, for eyeballing pause behavior during manual testing.
func main() {
	addr := flag.String("addr", "localhost:9090", "kilnd metrics address")
	interval := flag.Duration("interval", time.Second, "Polling interval")
	samples := flag.Int("samples", 5, "Number of samples to print")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-request timeout")
	flag.Parse()

	if *samples <= 0 {
		fmt.Fprintln(os.Stderr, "error: -samples must be > 0")
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}
	url := fmt.Sprintf("http://%s/metrics", *addr)

	for i := 0; i < *samples; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		if err := printSample(client, url); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func printSample(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("fetching metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching metrics: status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("parsing metrics: %w", err)
	}

	var names []string
	for name := range families {
		if strings.HasPrefix(name, "kiln_cleanup_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fmt.Printf("--- %s\n", time.Now().Format(time.RFC3339))
	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Printf("%-45s %.0f\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Printf("%-45s count=%d sum=%.4fs\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
