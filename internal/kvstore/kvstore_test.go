package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "state", "kv.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set overwrite error: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Get = %q, want %q", got, "two")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Set(ctx, "pantry-sync-queue", []byte(`[]`)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	_ = s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Get(ctx, "pantry-sync-queue")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("Get = %q, want []", got)
	}
}

func TestMemoryFailSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailSet = errors.New("disk full")

	if err := m.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatal("expected Set to fail")
	}
	if m.SetCount() != 0 {
		t.Errorf("SetCount = %d, want 0", m.SetCount())
	}

	m.FailSet = nil
	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, _ := m.Get(ctx, "k")
	got[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v" {
		t.Errorf("Get returned shared buffer, got %q", again)
	}
}
