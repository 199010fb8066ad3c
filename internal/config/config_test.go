package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Heap.RegionBytes != 1024*1024 {
		t.Errorf("regionBytes = %d", cfg.Heap.RegionBytes)
	}
	if cfg.Heap.RegionCount != 256 {
		t.Errorf("regionCount = %d", cfg.Heap.RegionCount)
	}
	if cfg.Cleanup.Workers != 4 || cfg.Cleanup.ChunksPerRegion != 8 {
		t.Errorf("cleanup defaults wrong: %+v", cfg.Cleanup)
	}
	if !cfg.Cleanup.ResizeTLABs || !cfg.Cleanup.SampleCandidates {
		t.Error("cleanup toggles should default on")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	content := `
heap:
  regionBytes: 524288
  regionCount: 128
cleanup:
  workers: 8
  resizeTlabs: false
observability:
  logLevel: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Heap.RegionBytes != 524288 || cfg.Heap.RegionCount != 128 {
		t.Errorf("heap config not loaded: %+v", cfg.Heap)
	}
	if cfg.Cleanup.Workers != 8 {
		t.Errorf("workers = %d", cfg.Cleanup.Workers)
	}
	if cfg.Cleanup.ResizeTLABs {
		t.Error("resizeTlabs should be false")
	}
	// Unspecified values keep their defaults.
	if cfg.Cleanup.ChunksPerRegion != 8 {
		t.Errorf("chunksPerRegion = %d, want default 8", cfg.Cleanup.ChunksPerRegion)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("logLevel = %q", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KILN_REGION_COUNT", "512")
	t.Setenv("KILN_CLEANUP_WORKERS", "16")
	t.Setenv("KILN_RESIZE_TLABS", "false")
	t.Setenv("KILN_LOG_FORMAT", "text")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Heap.RegionCount != 512 {
		t.Errorf("regionCount = %d", cfg.Heap.RegionCount)
	}
	if cfg.Cleanup.Workers != 16 {
		t.Errorf("workers = %d", cfg.Cleanup.Workers)
	}
	if cfg.Cleanup.ResizeTLABs {
		t.Error("resizeTlabs env override not applied")
	}
	if cfg.Observability.LogFormat != "text" {
		t.Errorf("logFormat = %q", cfg.Observability.LogFormat)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Heap.RegionBytes = 0 },
		func(c *Config) { c.Heap.RegionBytes = 100 }, // not a multiple of 8
		func(c *Config) { c.Heap.RegionCount = 0 },
		func(c *Config) { c.Cleanup.Workers = 0 },
		func(c *Config) { c.Cleanup.ChunksPerRegion = -1 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
