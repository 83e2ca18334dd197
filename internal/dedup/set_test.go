package dedup

import (
	"errors"
	"fmt"
	"testing"
)

// memBacking is an in-memory Backing for tests.
type memBacking struct {
	values map[string]string
	err    error
}

func newMemBacking() *memBacking {
	return &memBacking{values: make(map[string]string)}
}

func (m *memBacking) GetKV(key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[key], nil
}

func (m *memBacking) PutKV(key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestRememberAndHas(t *testing.T) {
	s := NewSet(newMemBacking(), "k", 10)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if s.Has("a") {
		t.Error("empty set Has(a) = true")
	}
	s.Remember("a")
	if !s.Has("a") {
		t.Error("Has(a) = false after Remember")
	}

	// Idempotent.
	s.Remember("a")
	if s.Len() != 1 {
		t.Errorf("Len = %d after double Remember, want 1", s.Len())
	}
}

func TestPersistAndReload(t *testing.T) {
	backing := newMemBacking()

	s := NewSet(backing, "k", 10)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	s.Remember("a")
	s.Remember("b")
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	// A fresh instance sees the persisted keys.
	s2 := NewSet(backing, "k", 10)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if !s2.Has("a") || !s2.Has("b") {
		t.Error("reloaded set missing remembered keys")
	}
	if s2.Len() != 2 {
		t.Errorf("reloaded Len = %d, want 2", s2.Len())
	}
}

func TestFIFOEviction(t *testing.T) {
	backing := newMemBacking()
	s := NewSet(backing, "k", 600)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 650; i++ {
		s.Remember(fmt.Sprintf("id-%03d", i))
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	s2 := NewSet(backing, "k", 600)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.Len() != 600 {
		t.Fatalf("Len after eviction = %d, want 600", s2.Len())
	}
	// The 50 earliest-inserted keys are gone.
	for i := 0; i < 50; i++ {
		if s2.Has(fmt.Sprintf("id-%03d", i)) {
			t.Errorf("id-%03d survived eviction, want dropped (oldest inserted)", i)
		}
	}
	// The rest survive in original relative order.
	for i := 50; i < 650; i++ {
		if !s2.Has(fmt.Sprintf("id-%03d", i)) {
			t.Errorf("id-%03d missing, want kept", i)
		}
	}
	if s2.order[0] != "id-050" || s2.order[599] != "id-649" {
		t.Errorf("order after eviction = [%s .. %s], want [id-050 .. id-649]", s2.order[0], s2.order[599])
	}
}

func TestLoadResetsOnCorruptValue(t *testing.T) {
	backing := newMemBacking()
	backing.values["k"] = "{not json"

	s := NewSet(backing, "k", 10)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v, want reset to empty", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after corrupt load, want 0", s.Len())
	}
}

func TestLoadPropagatesBackingError(t *testing.T) {
	backing := newMemBacking()
	backing.err = errors.New("disk gone")

	s := NewSet(backing, "k", 10)
	if err := s.Load(); err == nil {
		t.Error("Load() error = nil, want backing error")
	}
}

func TestPersistTrimDropsOldestEvenWithoutNewKeys(t *testing.T) {
	backing := newMemBacking()
	s := NewSet(backing, "k", 3)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		s.Remember(k)
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	if s.Has("a") || s.Has("b") {
		t.Error("oldest keys still present after trim")
	}
	if !s.Has("c") || !s.Has("d") || !s.Has("e") {
		t.Error("newest keys dropped by trim")
	}
}
