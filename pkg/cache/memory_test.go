package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	// stored values are copies
	got[0] = 'x'
	again, _ := s.Get(ctx, "k")
	if string(again) != "v" {
		t.Error("caller mutation leaked into the store")
	}

	m := s.Metrics()
	if m.CacheHits != 2 || m.CacheMisses != 1 || m.SetOperations != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := s.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStoreDependencies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"q1", "q2", "q3"} {
		if err := s.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.AddDependency(ctx, "deps:A", "q1")
	_ = s.AddDependency(ctx, "deps:A", "q2")
	_ = s.AddDependency(ctx, "deps:B", "q3")

	if err := s.InvalidateDependency(ctx, "deps:A"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "q1"); !IsMiss(err) {
		t.Error("q1 should be invalidated")
	}
	if _, err := s.Get(ctx, "q3"); err != nil {
		t.Error("q3 depends on another table")
	}
}

func TestMemoryStorePrefixAndClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "p:entity:A:1", nil, 0)
	_ = s.Set(ctx, "p:entity:A:2", nil, 0)
	_ = s.Set(ctx, "p:entity:B:1", nil, 0)

	if err := s.DeletePrefix(ctx, "p:entity:A:"); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}

	if err := s.Delete(ctx, "p:entity:B:1", "missing"); err != nil {
		t.Fatal(err)
	}

	_ = s.Close()
	if _, err := s.Get(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
