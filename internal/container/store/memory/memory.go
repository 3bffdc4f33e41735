// Package memory is an in-memory container store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"custodia/internal/container"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type Store struct {
	mu         sync.Mutex
	containers map[id.ContainerID]container.Container
}

func New() *Store {
	return &Store{containers: make(map[id.ContainerID]container.Container)}
}

func (s *Store) Create(_ context.Context, c *container.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[c.ID]; ok {
		return sentinel.ErrConflict
	}
	c.Version = 1
	s.containers[c.ID] = *c
	return nil
}

func (s *Store) FindByID(_ context.Context, containerID id.ContainerID) (*container.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

// Update applies the write only when the caller read the current version.
func (s *Store) Update(_ context.Context, c *container.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.containers[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != c.Version {
		return sentinel.ErrConflict
	}
	c.Version++
	s.containers[c.ID] = *c
	return nil
}

func (s *Store) List(_ context.Context) ([]*container.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*container.Container, 0, len(s.containers))
	for _, c := range s.containers {
		copied := c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
