// Package memory is an in-memory approval store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/internal/approval"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type Store struct {
	mu        sync.Mutex
	templates map[id.WorkflowID]approval.Template
	instances map[id.InstanceID]approval.Instance
	steps     map[id.StepID]approval.Step
}

func New() *Store {
	return &Store{
		templates: make(map[id.WorkflowID]approval.Template),
		instances: make(map[id.InstanceID]approval.Instance),
		steps:     make(map[id.StepID]approval.Step),
	}
}

func (s *Store) CreateTemplate(_ context.Context, template *approval.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.templates {
		if existing.Name == template.Name {
			return sentinel.ErrConflict
		}
	}
	s.templates[template.ID] = *template
	return nil
}

func (s *Store) FindTemplate(_ context.Context, workflowID id.WorkflowID) (*approval.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template, ok := s.templates[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &template, nil
}

func (s *Store) ListTemplates(_ context.Context) ([]*approval.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*approval.Template, 0, len(s.templates))
	for _, template := range s.templates {
		copied := template
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateInstance(_ context.Context, instance *approval.Instance, steps []*approval.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = *instance
	for _, step := range steps {
		s.steps[step.ID] = *step
	}
	return nil
}

func (s *Store) FindInstance(_ context.Context, instanceID id.InstanceID) (*approval.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &instance, nil
}

func (s *Store) UpdateInstance(_ context.Context, instance *approval.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.instances[instance.ID] = *instance
	return nil
}

func (s *Store) FindStep(_ context.Context, stepID id.StepID) (*approval.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &step, nil
}

func (s *Store) UpdateStep(_ context.Context, step *approval.Step, from approval.StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.steps[step.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.State != from {
		return sentinel.ErrConflict
	}
	s.steps[step.ID] = *step
	return nil
}

func (s *Store) ListSteps(_ context.Context, instanceID id.InstanceID) ([]*approval.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Step
	for _, step := range s.steps {
		if step.InstanceID == instanceID {
			copied := step
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) OpenStepsPastDeadline(_ context.Context, now time.Time) ([]*approval.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Step
	for _, step := range s.steps {
		if step.State.Open() && step.Deadline != nil && step.Deadline.Before(now) {
			copied := step
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
