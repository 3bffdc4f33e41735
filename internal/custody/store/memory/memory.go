// Package memory is an in-memory custody event store for tests and local runs.
package memory

import (
	"context"
	"sync"

	"custodia/internal/custody"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.Mutex
	chains map[id.ContainerID][]custody.Event
}

func New() *Store {
	return &Store{chains: make(map[id.ContainerID][]custody.Event)}
}

// Append accepts only the event extending the current chain end, mirroring
// the per-container sequence constraint of the postgres store.
func (s *Store) Append(_ context.Context, event custody.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Seq != int64(len(s.chains[event.ContainerID]))+1 {
		return sentinel.ErrConflict
	}
	s.chains[event.ContainerID] = append(s.chains[event.ContainerID], event)
	return nil
}

func (s *Store) History(_ context.Context, containerID id.ContainerID) ([]custody.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[containerID]
	out := make([]custody.Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *Store) Last(_ context.Context, containerID id.ContainerID) (custody.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[containerID]
	if len(chain) == 0 {
		return custody.Event{}, sentinel.ErrNotFound
	}
	return chain[len(chain)-1], nil
}
