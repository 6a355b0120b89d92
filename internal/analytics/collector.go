package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
)

// Collector buffers search events and flushes them to Kafka in batches,
// either when the batch fills or on a timer. Track never blocks the search
// path.
type Collector struct {
	producer      *kafka.Producer
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector flushing at batchSize events or after
// flushInterval, whichever comes first.
func NewCollector(producer *kafka.Producer, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.WithComponent("analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and then performs a final flush.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track buffers one event. A full buffer triggers an immediate background
// flush.
func (c *Collector) Track(event SearchEvent) {
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: string(event.Type), Value: event})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		go c.flush(context.Background())
	}
}

// Close waits for the background flush loop to finish.
func (c *Collector) Close() {
	<-c.done
}

// BufferLen returns the current number of buffered events.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		// Re-queue, capped so repeated failures cannot grow unbounded.
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if len(c.buffer) > c.batchSize*3 {
			dropped := len(c.buffer) - c.batchSize*3
			c.buffer = c.buffer[:c.batchSize*3]
			c.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
