// Package memory provides the in-memory audit store used by tests and by
// deployments without PostgreSQL. It intentionally favors clarity over
// performance.
package memory

import (
	"context"
	"sync"

	"custodia/internal/audit"
)

type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
	nextSeq uint64
}

func New() *Store {
	return &Store{nextSeq: 1}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *Store) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []audit.Entry
	// Entries are stored in append order, which is Seq order.
	for _, e := range s.entries {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len reports the total number of entries; used by tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
