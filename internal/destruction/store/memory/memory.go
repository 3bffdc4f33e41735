// Package memory is an in-memory destruction store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"custodia/internal/destruction"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type Store struct {
	mu           sync.Mutex
	requests     map[id.RequestID]destruction.Request
	certificates map[id.CertificateID]destruction.Certificate
}

func New() *Store {
	return &Store{
		requests:     make(map[id.RequestID]destruction.Request),
		certificates: make(map[id.CertificateID]destruction.Certificate),
	}
}

func (s *Store) CreateRequest(_ context.Context, request *destruction.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[request.ID] = *request
	return nil
}

func (s *Store) FindRequest(_ context.Context, requestID id.RequestID) (*destruction.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &request, nil
}

func (s *Store) FindRequestByInstance(_ context.Context, instanceID id.InstanceID) (*destruction.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range s.requests {
		if request.InstanceID != nil && *request.InstanceID == instanceID {
			copied := request
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) UpdateRequest(_ context.Context, request *destruction.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[request.ID] = *request
	return nil
}

func (s *Store) ListRequests(_ context.Context) ([]*destruction.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*destruction.Request, 0, len(s.requests))
	for _, request := range s.requests {
		copied := request
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateCertificate(_ context.Context, cert *destruction.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.certificates {
		if existing.Number == cert.Number {
			return sentinel.ErrConflict
		}
	}
	s.certificates[cert.ID] = *cert
	return nil
}

func (s *Store) FindCertificate(_ context.Context, certID id.CertificateID) (*destruction.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certificates[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &cert, nil
}
