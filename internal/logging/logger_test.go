package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Format: FormatJSON, Output: &buf})

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	l.Error("kept too")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	l.Infof("pause done", map[string]any{"regionsFreed": 4})

	var e Entry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if e.Level != "info" || e.Message != "pause done" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Fields["regionsFreed"] != float64(4) {
		t.Errorf("field regionsFreed = %v", e.Fields["regionsFreed"])
	}
}

func TestWithPauseID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	tagged := l.WithPauseID("pause-123")
	tagged.Info("working")
	l.Info("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first, second Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first.PauseID != "pause-123" {
		t.Errorf("tagged entry pauseId = %q", first.PauseID)
	}
	if second.PauseID != "" {
		t.Errorf("untagged entry carries pauseId %q", second.PauseID)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	l.With(map[string]any{"worker": 3}).Info("claimed")

	var e Entry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Fields["worker"] != float64(3) {
		t.Errorf("field worker = %v", e.Fields["worker"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	l.WithPauseID("p1").Infof("freeing", map[string]any{"regions": 2})

	out := buf.String()
	for _, want := range []string{"[info]", "freeing", "pauseId=p1", "regions=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output %q missing %q", out, want)
		}
	}
}

func TestGlobalConfigure(t *testing.T) {
	old := Global()
	defer SetGlobal(old)

	l := Configure("debug", "text")
	if Global() != l {
		t.Error("Configure did not install the global logger")
	}
	if l.GetLevel() != LevelDebug {
		t.Errorf("level %v, want debug", l.GetLevel())
	}
}
