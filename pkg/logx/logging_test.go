package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	if l.Enabled(LevelError) {
		t.Fatal("zero logger should not be enabled")
	}
	l.Info("dropped", String("k", "v"))
}

func TestServiceConsoleLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	_, log := newService(Config{Level: "warn", Console: true}, &buf)
	log = log.With(String("comp", "test"))

	log.Info("hidden")
	log.Warn("visible", Int("n", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked through warn level: %q", out)
	}
	for _, want := range []string{"visible", "comp=test", "n=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "info", Console: true}, &buf)
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at info level")
	}
	svc.Apply(Config{Level: "debug", Console: true})
	if !log.Enabled(LevelDebug) {
		t.Fatal("derived logger should follow Apply")
	}
}

func TestServiceFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnipd.log")
	svc, log := newService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, &bytes.Buffer{})
	log.Info("expired", Uint64("id", 7))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("file line is not JSON: %v (%q)", err, b)
	}
	if m["message"] != "expired" {
		t.Fatalf("message = %v, want expired", m["message"])
	}
	if m["id"] != float64(7) {
		t.Fatalf("id = %v, want 7", m["id"])
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, lvl := range []string{"", "trace", "DEBUG", " info ", "warning", "error"} {
		if !ValidLevel(lvl) {
			t.Fatalf("ValidLevel(%q) = false", lvl)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
