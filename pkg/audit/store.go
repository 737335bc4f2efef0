package audit

import (
	"context"
	"sync"
)

// Store is an append-only audit entry storage
type Store interface {
	Append(ctx context.Context, e Entry) error
	Entries(ctx context.Context) ([]Entry, error)
	Last(ctx context.Context) (Entry, bool, error)
	Close() error
}

// MemoryStore keeps entries in memory
type MemoryStore struct {
	entries []Entry
	sync.RWMutex
}

// NewMemoryStore initializes an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make([]Entry, 0)}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	s.Lock()
	defer s.Unlock()

	if uint64(len(s.entries))+1 != e.Sequence {
		return ErrOutOfSequence
	}

	s.entries = append(s.entries, e)

	return nil
}

func (s *MemoryStore) Entries(ctx context.Context) ([]Entry, error) {
	s.RLock()
	defer s.RUnlock()

	es := make([]Entry, len(s.entries))
	copy(es, s.entries)

	return es, nil
}

func (s *MemoryStore) Last(ctx context.Context) (Entry, bool, error) {
	s.RLock()
	defer s.RUnlock()

	if len(s.entries) == 0 {
		return Entry{}, false, nil
	}

	return s.entries[len(s.entries)-1], true, nil
}

func (s *MemoryStore) Close() error { return nil }

// Tamper replaces a stored entry as-is, for integrity checks in tests
func (s *MemoryStore) Tamper(sequence uint64, fn func(e *Entry)) bool {
	s.Lock()
	defer s.Unlock()

	if sequence == 0 || sequence > uint64(len(s.entries)) {
		return false
	}

	fn(&s.entries[sequence-1])

	return true
}
