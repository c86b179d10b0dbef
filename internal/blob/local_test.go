package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLocal(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func readAll(t *testing.T, s Store, key string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%s): %v", key, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %s: %v", key, err)
	}
	return string(b)
}

// --- LocalStore ---

func TestLocalPutOpen(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestLocal(t)

	t.Run("round trip with nested key", func(t *testing.T) {
		body := "lecture notes"
		if err := s.Put(ctx, "files/ab/cd", strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if got := readAll(t, s, "files/ab/cd"); got != body {
			t.Errorf("expected %q, got %q", body, got)
		}
		if _, err := os.Stat(filepath.Join(dir, "files", "ab", "cd.part")); !os.IsNotExist(err) {
			t.Error("temporary file should be gone")
		}
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		s.Put(ctx, "k", strings.NewReader("one"), 3, "")
		s.Put(ctx, "k", strings.NewReader("two!"), 4, "")
		if got := readAll(t, s, "k"); got != "two!" {
			t.Errorf("expected two!, got %q", got)
		}
	})

	t.Run("size mismatch leaves nothing behind", func(t *testing.T) {
		err := s.Put(ctx, "short", strings.NewReader("abc"), 10, "")
		if err == nil {
			t.Fatal("expected error for short body")
		}
		if _, err := s.Open(ctx, "short"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.Put(ctx, "long", strings.NewReader("abcdef"), 3, ""); err == nil {
			t.Error("expected error for oversized body")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if _, err := s.Open(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestLocal(t)

	for _, key := range []string{"", "../x", "a/../../x", "/etc/passwd"} {
		t.Run(key, func(t *testing.T) {
			if err := s.Put(ctx, key, strings.NewReader("x"), 1, ""); err == nil {
				t.Errorf("Put(%q) should fail", key)
			}
			if _, err := s.Open(ctx, key); err == nil {
				t.Errorf("Open(%q) should fail", key)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "x")); !os.IsNotExist(err) {
		t.Error("nothing may be written outside the store")
	}
}
