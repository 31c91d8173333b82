package obslog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesParentDirAndAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "orchestrator.log")

	logger, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Printf("manager cycle %d complete", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", lines[0], err)
	}
	if entry["msg"] != "manager cycle 3 complete" {
		t.Fatalf("unexpected msg field: %v", entry["msg"])
	}
}

func TestNewAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.log")

	first, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Printf("first entry")
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	second.Printf("second entry")
	if err := second.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 appended lines, got %d", len(lines))
	}
}

func TestNopLoggerDiscardsSilently(t *testing.T) {
	var n Nop
	n.Printf("anything %s", "goes")
}
