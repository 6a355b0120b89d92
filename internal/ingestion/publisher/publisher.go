// Package publisher turns accepted documents into events on the Kafka
// documents topic, keyed by document id so re-indexes and deletes of one
// document stay ordered within a partition.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/ingestion"
	"github.com/karteio/geosearch/internal/ingestion/validator"
	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
	"github.com/karteio/geosearch/pkg/resilience"
)

// Publisher publishes document events. Broker writes go through a circuit
// breaker so a down broker fails ingest requests fast instead of holding
// connections open.
type Publisher struct {
	producer *kafka.Producer
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// New creates a Publisher on the given Kafka producer.
func New(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("document-publish", resilience.CircuitBreakerConfig{}),
		logger:   logger.WithComponent("ingestion-publisher"),
	}
}

func (p *Publisher) publish(fn func() error) error {
	err := p.breaker.Execute(fn)
	metrics.CircuitBreakerState.WithLabelValues("document-publish").Set(float64(p.breaker.GetState()))
	return err
}

// PublishIndex validates docs and publishes one index event per document in
// a single Kafka write. Validation failures reject the whole batch before
// anything is published.
func (p *Publisher) PublishIndex(ctx context.Context, docs []*document.Document) (*ingestion.IngestResponse, error) {
	for _, doc := range docs {
		if err := validator.ValidateDocument(doc); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	events := make([]kafka.Event, 0, len(docs))
	for _, doc := range docs {
		events = append(events, kafka.Event{
			Key: doc.ID,
			Value: ingestion.DocumentEvent{
				Action:   ingestion.ActionIndex,
				ID:       doc.ID,
				Document: doc,
				At:       now,
			},
		})
	}
	if err := p.publish(func() error { return p.producer.PublishBatch(ctx, events) }); err != nil {
		return nil, fmt.Errorf("publishing index events: %w", err)
	}
	p.logger.Info("documents accepted", "count", len(docs))
	return &ingestion.IngestResponse{Accepted: len(docs), Status: "accepted"}, nil
}

// PublishDelete publishes a delete event for id.
func (p *Publisher) PublishDelete(ctx context.Context, id string) error {
	event := kafka.Event{
		Key: id,
		Value: ingestion.DocumentEvent{
			Action: ingestion.ActionDelete,
			ID:     id,
			At:     time.Now().UTC(),
		},
	}
	if err := p.publish(func() error { return p.producer.Publish(ctx, event) }); err != nil {
		return fmt.Errorf("publishing delete event: %w", err)
	}
	p.logger.Info("document delete accepted", "id", id)
	return nil
}
