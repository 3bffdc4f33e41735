package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/identity"
	"custodia/internal/platform/metrics"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Store persists entries. The interface deliberately has no update or delete:
// immutability is structural, not a runtime check a store could forget.
type Store interface {
	// Append persists the entry, assigns its monotonic Seq, and returns it.
	// The write is atomic: either the full entry lands or nothing does.
	Append(ctx context.Context, entry Entry) (Entry, error)
	// Query returns entries matching the filter, ordered by Seq ascending,
	// at most Filter.Limit of them (a store default applies when zero).
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Service is the append-only compliance log. Writes are fail-closed: callers
// treat an append error as a failure of their own operation.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    chan<- Entry
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSink fans committed entries out to a channel, typically consumed by the
// Kafka publisher. Delivery is best-effort; a full sink never blocks appends.
func WithSink(sink chan<- Entry) Option {
	return func(s *Service) { s.sink = sink }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records one compliance action. The timestamp is server-assigned; a
// caller-supplied one is ignored by design so entries cannot be backdated.
func (s *Service) Append(ctx context.Context, actor identity.Actor, action Action, entity EntityRef, description string) (Entry, error) {
	entry := Entry{
		ID:          id.EntryID(uuid.New()),
		Timestamp:   s.now().UTC(),
		Actor:       actor.ID,
		Action:      action,
		Entity:      entity,
		Description: description,
	}

	stored, err := s.store.Append(ctx, entry)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "audit append failed",
				"action", action,
				"entity_type", entity.Type,
				"entity_id", entity.ID,
				"error", err,
			)
		}
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}

	if s.metrics != nil {
		s.metrics.AuditEntriesAppended.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(action),
			"actor", actor.ID,
			"entity_type", entity.Type,
			"entity_id", entity.ID,
			"seq", stored.Seq,
			"log_type", "audit",
		)
	}
	if s.sink != nil {
		select {
		case s.sink <- stored:
		default:
			// Fan-out is best-effort; the store is the source of truth.
		}
	}
	return stored, nil
}

// Query returns one page of entries, Seq ascending. Resume with
// Filter.AfterSeq = Page.NextAfterSeq; the scan is restartable from any
// cursor value.
func (s *Service) Query(ctx context.Context, filter Filter) (Page, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	// Fetch one extra to learn whether another page exists.
	lookahead := filter
	lookahead.Limit = filter.Limit + 1
	entries, err := s.store.Query(ctx, lookahead)
	if err != nil {
		return Page{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit log")
	}

	page := Page{Entries: entries}
	if len(entries) > filter.Limit {
		page.Entries = entries[:filter.Limit]
		page.More = true
	}
	if n := len(page.Entries); n > 0 {
		page.NextAfterSeq = page.Entries[n-1].Seq
	} else {
		page.NextAfterSeq = filter.AfterSeq
	}
	return page, nil
}

// Update exists only to make the immutability contract explicit: audit
// entries are never mutated.
func (s *Service) Update(context.Context, id.EntryID, Entry) error {
	return dErrors.New(dErrors.CodeImmutability, "audit entries cannot be updated")
}

// Delete exists only to make the immutability contract explicit: audit
// entries are never removed.
func (s *Service) Delete(context.Context, id.EntryID) error {
	return dErrors.New(dErrors.CodeImmutability, "audit entries cannot be deleted")
}
