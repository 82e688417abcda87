package store

import (
	"testing"
	"time"
)

// countingStore records how many calls land on it.
type countingStore struct {
	data map[string]string
	gets int
	sets int
}

func newCountingStore() *countingStore {
	return &countingStore{data: map[string]string{}}
}

func (s *countingStore) Get(key string) (string, error) {
	s.gets++
	v, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *countingStore) Set(key, value string, ttl time.Duration) error {
	s.sets++
	s.data[key] = value
	return nil
}

func TestFacadePrefersDirect(t *testing.T) {
	direct := newCountingStore()
	rest := newCountingStore()
	f := NewFacade(direct, rest)

	if !f.IsConfigured() {
		t.Fatalf("expected the facade to be configured")
	}

	for i := 0; i < 5; i++ {
		if err := f.Set("k", "v", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := f.Get("k"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if direct.gets != 5 || direct.sets != 5 {
		t.Fatalf("expected all calls on the direct backend, got %d gets %d sets", direct.gets, direct.sets)
	}
	if rest.gets != 0 || rest.sets != 0 {
		t.Fatalf("expected no calls on the REST backend, got %d gets %d sets", rest.gets, rest.sets)
	}
}

func TestFacadeFallsBackToREST(t *testing.T) {
	rest := newCountingStore()
	f := NewFacade(nil, rest)

	if !f.IsConfigured() {
		t.Fatalf("expected a REST-only facade to count as configured")
	}
	if err := f.Set("k", "v", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, err := f.Get("k"); err != nil || v != "v" {
		t.Fatalf("expected v, got %q %v", v, err)
	}
	if rest.gets != 1 || rest.sets != 1 {
		t.Fatalf("expected calls on the REST backend, got %d gets %d sets", rest.gets, rest.sets)
	}
}

func TestFacadeUnconfigured(t *testing.T) {
	f := NewFacade(nil, nil)

	if f.IsConfigured() {
		t.Fatalf("expected an empty facade to be unconfigured")
	}
	if _, err := f.Get("k"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := f.Set("k", "v", time.Minute); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
