// Package publisher streams committed audit entries to Kafka for external
// compliance-reporting consumers. The store remains the source of truth;
// publishing is a best-effort fan-out and never gates a business operation.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/audit"
)

type Publisher struct {
	client *kgo.Client
	topic  string
	inbox  <-chan audit.Entry
	logger *slog.Logger
}

// New connects to Kafka, ensures the audit topic exists, and returns a
// publisher consuming from inbox.
func New(ctx context.Context, seeds []string, topic string, inbox <-chan audit.Entry, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, topic)
	if err == nil {
		err = resp.Err
	}
	// Already-exists is the steady state; anything else is surfaced.
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}

	return &Publisher{client: client, topic: topic, inbox: inbox, logger: logger}, nil
}

// Run consumes entries until the context is cancelled. Produce failures are
// logged and dropped; the durable log already holds the entry.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-p.inbox:
			payload, err := json.Marshal(entry)
			if err != nil {
				p.logger.ErrorContext(ctx, "marshal audit entry for kafka", "error", err)
				continue
			}
			record := &kgo.Record{
				Topic: p.topic,
				Key:   []byte(entry.Entity.ID),
				Value: payload,
			}
			p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
				if err != nil {
					p.logger.ErrorContext(ctx, "kafka produce failed",
						"seq", entry.Seq,
						"action", entry.Action,
						"error", err,
					)
				}
			})
		}
	}
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
