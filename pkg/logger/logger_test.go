package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/devraulu/hilight/pkg/config"
)

func TestJSONUsesBunyanLevels(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Format = "json"

	var buf bytes.Buffer
	New(cfg, &buf).Warn("careful")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if line["level"] != float64(40) {
		t.Fatalf("level = %v, want 40", line["level"])
	}
	if line["name"] != "hilight" {
		t.Fatalf("name = %v, want hilight", line["name"])
	}
}

func TestLevelFiltering(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	l := New(cfg, &buf)
	l.Info("hidden")
	l.Error("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("error line missing: %q", out)
	}
}
