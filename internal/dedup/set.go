// Package dedup implements the bounded, persisted remember-sets that keep
// the scanner and the realtime listener from resubmitting a message. Both
// stores are instances of one Set abstraction, parameterized by capacity
// and persistence key: the historical scanner keys on native message IDs
// and persists once per scan run, the realtime listener keys on message
// fingerprints and persists per event.
package dedup

import "encoding/json"

// Default capacities for the two engine stores. Capacity bounds storage,
// not correctness: a key evicted after enough churn could in principle be
// re-imported, which is accepted over unbounded growth.
const (
	ImportedIDCapacity  = 600
	FingerprintCapacity = 400
)

// Backing persists one set as a JSON array under a fixed key.
// Implemented by state.DB.
type Backing interface {
	GetKV(key string) (string, error)
	PutKV(key, value string) error
}

// Set is a bounded remember-set with FIFO-by-insertion eviction: when
// capacity is exceeded the oldest inserted keys are dropped, regardless
// of message recency. Not safe for concurrent use; each instance belongs
// to a single logical operation at a time (one scan run, or one realtime
// event in the platform's serialized delivery).
type Set struct {
	backing  Backing
	key      string
	capacity int

	order []string
	seen  map[string]struct{}
}

// NewSet creates an empty set bound to a persistence key. Call Load before
// the first Has check.
func NewSet(backing Backing, key string, capacity int) *Set {
	return &Set{
		backing:  backing,
		key:      key,
		capacity: capacity,
		seen:     make(map[string]struct{}),
	}
}

// Load replaces the in-memory contents with the persisted JSON array.
// A missing or unparseable value resets the set to empty rather than
// poisoning every future sync.
func (s *Set) Load() error {
	raw, err := s.backing.GetKV(s.key)
	if err != nil {
		return err
	}
	s.order = s.order[:0]
	s.seen = make(map[string]struct{})
	if raw == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil
	}
	for _, k := range keys {
		s.remember(k)
	}
	return nil
}

// Has reports whether key has been remembered.
func (s *Set) Has(key string) bool {
	_, ok := s.seen[key]
	return ok
}

// Remember adds key to the set. Idempotent: re-remembering an existing key
// does not change its insertion position.
func (s *Set) Remember(key string) {
	s.remember(key)
}

func (s *Set) remember(key string) {
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
}

// Len returns the number of remembered keys.
func (s *Set) Len() int {
	return len(s.order)
}

// Persist trims the set to capacity, dropping the oldest-inserted keys
// first, and writes the survivors back as a JSON array.
func (s *Set) Persist() error {
	if excess := len(s.order) - s.capacity; excess > 0 {
		for _, k := range s.order[:excess] {
			delete(s.seen, k)
		}
		s.order = append(s.order[:0:0], s.order[excess:]...)
	}
	data, err := json.Marshal(s.order)
	if err != nil {
		return err
	}
	return s.backing.PutKV(s.key, string(data))
}
