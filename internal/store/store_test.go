package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Value string `json:"value"`
}

func TestGetMissingFileReturnsNotExist(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "missing.json")
	var out doc
	err := s.Get(path, &out)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	in := doc{Value: "hello"}
	if err := s.Put(path, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out doc
	if err := s.Get(path, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != in.Value {
		t.Fatalf("expected %q, got %q", in.Value, out.Value)
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := s.Put(path, doc{Value: "first"}); err != nil {
		t.Fatalf("Put first: %v", err)
	}
	if err := s.Put(path, doc{Value: "second"}); err != nil {
		t.Fatalf("Put second: %v", err)
	}

	var out doc
	if err := s.Get(path, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != "second" {
		t.Fatalf("expected latest write to win, got %q", out.Value)
	}

	entries, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}

func TestGetEmptyFileLeavesValueUntouched(t *testing.T) {
	s := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := s.Put(path, doc{}); err != nil {
		t.Fatal(err)
	}
	// Truncate to simulate an empty-but-existing document.
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out := doc{Value: "untouched"}
	if err := s.Get(path, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != "untouched" {
		t.Fatalf("expected empty file to leave v unmodified, got %q", out.Value)
	}
}
