// Package consumer reads document events from Kafka and applies them to the
// index through the index writer.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/ingestion"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
	"github.com/karteio/geosearch/pkg/resilience"
)

// Consumer applies document events to the index writer with retries.
type Consumer struct {
	inner *kafka.Consumer
	// invalidator publishes to the cache-invalidate topic after a write so
	// search nodes drop stale cached results. Nil disables it.
	invalidator *kafka.Producer
	writer      *indexer.Writer
	retry       resilience.RetryConfig
	// writeTimeout bounds one index write attempt so a stuck store
	// connection cannot stall the partition. Zero disables the bound.
	writeTimeout time.Duration
	logger       *slog.Logger
}

// New builds a Consumer on the documents topic.
func New(cfg config.KafkaConfig, writer *indexer.Writer, invalidator *kafka.Producer) *Consumer {
	c := &Consumer{
		invalidator:  invalidator,
		writer:       writer,
		writeTimeout: 10 * time.Second,
		logger:       logger.WithComponent("document-consumer"),
	}
	c.inner = kafka.NewConsumer(cfg, cfg.Topics.Documents, c.handle)
	return c
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	return c.inner.Start(ctx)
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.inner.Close()
}

// handle decodes one event and applies it. Decode failures are dropped (the
// message will never become valid); write failures are retried and then
// surfaced so the offset is not committed.
func (c *Consumer) handle(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[ingestion.DocumentEvent](value)
	if err != nil {
		metrics.ConsumerErrors.WithLabelValues("decode").Inc()
		c.logger.Error("dropping undecodable event", "key", string(key), "error", err)
		return nil
	}

	var apply func(ctx context.Context) error
	switch event.Action {
	case ingestion.ActionIndex:
		if event.Document == nil {
			metrics.ConsumerErrors.WithLabelValues("decode").Inc()
			c.logger.Error("dropping index event without document", "id", event.ID)
			return nil
		}
		apply = func(ctx context.Context) error { return c.writer.Index(ctx, event.Document) }
	case ingestion.ActionDelete:
		apply = func(ctx context.Context) error { return c.writer.Delete(ctx, event.ID) }
	default:
		// A malformed action never becomes valid. Drop it instead of
		// blocking the partition.
		metrics.ConsumerErrors.WithLabelValues("decode").Inc()
		c.logger.Error("dropping event with unknown action", "action", event.Action, "id", event.ID)
		return nil
	}

	attempt := func() error {
		return resilience.WithTimeout(ctx, c.writeTimeout, "apply-document-event", apply)
	}
	if err := resilience.Retry(ctx, "apply-document-event", c.retry, attempt); err != nil {
		metrics.ConsumerErrors.WithLabelValues("write").Inc()
		return err
	}
	if c.invalidator != nil {
		// Best effort: a missed invalidation only delays freshness by the
		// cache TTL.
		if err := c.invalidator.Publish(ctx, kafka.Event{Key: event.ID, Value: event.ID}); err != nil {
			c.logger.Warn("cache invalidation publish failed", "id", event.ID, "error", err)
		}
	}
	return nil
}
