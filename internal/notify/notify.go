// Package notify delivers workflow notifications to approvers and
// requesters. Messages are pushed onto a Redis list consumed by the
// messaging gateway; delivery is best-effort with bounded retries and never
// blocks or fails the operation that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/internal/approval"
	"custodia/internal/destruction"
	"custodia/internal/platform/metrics"
)

// Kind classifies a notification for the downstream gateway.
type Kind string

const (
	KindStepAssigned    Kind = "step_assigned"
	KindStepEscalated   Kind = "step_escalated"
	KindRequestResolved Kind = "request_resolved"
)

// Message is the queue payload.
type Message struct {
	Kind      Kind      `json:"kind"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is the slice of the redis client the dispatcher needs.
type Queue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Dispatcher pushes notifications onto the queue. It satisfies both
// approval.Notifier and destruction.Notifier.
type Dispatcher struct {
	queue   Queue
	key     string
	logger  *slog.Logger
	metrics *metrics.Metrics
	retries int
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithRetries(n int) Option {
	return func(d *Dispatcher) { d.retries = n }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher builds a dispatcher over the given queue. A nil queue
// degrades to log-only delivery, which keeps local runs working without
// Redis.
func NewDispatcher(queue Queue, key string, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{queue: queue, key: key, logger: logger, retries: 3, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ approval.Notifier = (*Dispatcher)(nil)
var _ destruction.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) StepAssigned(ctx context.Context, step approval.Step) {
	recipient := step.ApproverUser
	if recipient == "" {
		recipient = "group:" + step.ApproverGroup
	}
	d.dispatch(ctx, Message{
		Kind:      KindStepAssigned,
		Recipient: recipient,
		Subject:   "Approval required",
		Body:      "A destruction approval step is awaiting your decision.",
		CreatedAt: d.now(),
	})
}

func (d *Dispatcher) StepEscalated(ctx context.Context, step approval.Step) {
	d.dispatch(ctx, Message{
		Kind:      KindStepEscalated,
		Recipient: step.ApproverUser,
		Subject:   "Escalated approval",
		Body:      "An overdue destruction approval step has been escalated to you.",
		CreatedAt: d.now(),
	})
}

func (d *Dispatcher) RequestResolved(ctx context.Context, request destruction.Request) {
	d.dispatch(ctx, Message{
		Kind:      KindRequestResolved,
		Recipient: request.RequestedBy,
		Subject:   "Destruction request " + string(request.State),
		Body:      "Your destruction request " + request.ID.String() + " is now " + string(request.State) + ".",
		CreatedAt: d.now(),
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.ErrorContext(ctx, "marshal notification", "error", err)
		return
	}
	if d.queue == nil {
		d.logger.InfoContext(ctx, "notification",
			"kind", string(msg.Kind),
			"recipient", msg.Recipient,
			"subject", msg.Subject,
		)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if lastErr = d.queue.LPush(ctx, d.key, payload).Err(); lastErr == nil {
			return
		}
	}

	if d.metrics != nil {
		d.metrics.NotificationFailures.Inc()
	}
	d.logger.ErrorContext(ctx, "notification dropped after retries",
		"kind", string(msg.Kind),
		"recipient", msg.Recipient,
		"error", lastErr,
	)
}
