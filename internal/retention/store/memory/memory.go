// Package memory is an in-memory retention store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"custodia/internal/retention"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.Mutex
	policies map[id.PolicyID]retention.Policy
	versions map[id.VersionID]retention.Version
}

func New() *Store {
	return &Store{
		policies: make(map[id.PolicyID]retention.Policy),
		versions: make(map[id.VersionID]retention.Version),
	}
}

func (s *Store) CreatePolicy(_ context.Context, policy *retention.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.Name == policy.Name {
			return sentinel.ErrConflict
		}
	}
	s.policies[policy.ID] = *policy
	return nil
}

func (s *Store) FindPolicy(_ context.Context, policyID id.PolicyID) (*retention.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[policyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &policy, nil
}

func (s *Store) UpdatePolicy(_ context.Context, policy *retention.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policy.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.policies[policy.ID] = *policy
	return nil
}

func (s *Store) ListPolicies(_ context.Context) ([]*retention.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*retention.Policy, 0, len(s.policies))
	for _, policy := range s.policies {
		copied := policy
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateVersion(_ context.Context, version *retention.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[version.ID] = *version
	return nil
}

func (s *Store) FindVersion(_ context.Context, versionID id.VersionID) (*retention.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[versionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &version, nil
}

func (s *Store) UpdateVersion(_ context.Context, version *retention.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[version.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.versions[version.ID] = *version
	return nil
}

func (s *Store) ListVersions(_ context.Context, policyID id.PolicyID) ([]*retention.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*retention.Version
	for _, version := range s.versions {
		if version.PolicyID == policyID {
			copied := version
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *Store) ActiveVersion(_ context.Context, policyID id.PolicyID) (*retention.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, version := range s.versions {
		if version.PolicyID == policyID && version.State == retention.VersionActive {
			copied := version
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) MaxVersionNumber(_ context.Context, policyID id.PolicyID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxNumber := 0
	for _, version := range s.versions {
		if version.PolicyID == policyID && version.VersionNumber > maxNumber {
			maxNumber = version.VersionNumber
		}
	}
	return maxNumber, nil
}
