package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiln-io/kiln/internal/config"
	"github.com/kiln-io/kiln/internal/logging"
	"github.com/kiln-io/kiln/internal/metrics"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	fs := flag.NewFlagSet("kilnd", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	workerCount := fs.Int("workers", 0, "Override cleanup worker count")
	cycles := fs.Int("cycles", 0, "Number of allocate/collect cycles to run (0 = until signalled)")
	showVersion := fs.Bool("version", false, "Print version information and exit")

	fs.Usage = func() {
		fmt.Println(`Usage: kilnd [options]

Run the kiln heap with a synthetic mutator load, collecting with the
post-evacuation cleanup pipeline and exporting pause metrics.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("kilnd version %s (built %s)\n", version, buildTime)
		return
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if *workerCount > 0 {
		cfg.Cleanup.Workers = *workerCount
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	logger.Infof("kilnd starting", map[string]any{
		"version":     version,
		"regionBytes": cfg.Heap.RegionBytes,
		"regionCount": cfg.Heap.RegionCount,
		"workers":     cfg.Cleanup.Workers,
	})

	metricsServer := metrics.NewServer(cfg.Observability.MetricsAddr)
	metricsServer.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsServer.Stop(ctx)
	}()

	sim, err := newSimulator(cfg, logger)
	if err != nil {
		logger.Errorf("failed to build heap", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sim.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ran := 0
	for *cycles == 0 || ran < *cycles {
		select {
		case sig := <-sigCh:
			logger.Infof("shutting down", map[string]any{"signal": sig.String()})
			return
		default:
		}
		sim.RunCycle()
		ran++
		if *cycles == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	logger.Infof("kilnd done", map[string]any{"cycles": ran})
}
