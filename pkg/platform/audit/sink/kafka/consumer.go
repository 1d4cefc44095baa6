package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "verifyflow/pkg/platform/audit"
)

// Consumer reads the audit topic and appends every event to a store.
// Malformed records are logged and skipped so they never block the topic.
type Consumer struct {
	client *kgo.Client
	store  audit.Appender
	logger *slog.Logger
}

// NewConsumer joins group on topic.
func NewConsumer(brokers []string, topic, group string, store audit.Appender, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{client: client, store: store, logger: logger}, nil
}

// Run polls until ctx ends. Offsets are committed after each batch has been
// stored; a store failure stops the consumer so the batch is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, fe := range fetches.Errors() {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var batch []audit.Event
		fetches.EachRecord(func(r *kgo.Record) {
			if event, ok := c.decode(ctx, r); ok {
				batch = append(batch, event)
			}
		})
		if err := c.persist(ctx, batch); err != nil {
			return err
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

// handle decodes and stores one record. It returns an error only for store
// failures.
func (c *Consumer) handle(ctx context.Context, r *kgo.Record) error {
	event, ok := c.decode(ctx, r)
	if !ok {
		return nil
	}
	return c.persist(ctx, []audit.Event{event})
}

func (c *Consumer) decode(ctx context.Context, r *kgo.Record) (audit.Event, bool) {
	event, err := audit.Unmarshal(r.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed audit record",
			"key", string(r.Key),
			"offset", r.Offset,
			"error", err,
		)
		return audit.Event{}, false
	}
	return event, true
}

// persist stores a fetch in one transaction when the store supports it.
func (c *Consumer) persist(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	if b, ok := c.store.(audit.BatchAppender); ok && len(events) > 1 {
		if err := b.AppendBatch(ctx, events); err != nil {
			return fmt.Errorf("store %d audit events: %w", len(events), err)
		}
		return nil
	}
	for _, event := range events {
		if err := c.store.Append(ctx, event); err != nil {
			return fmt.Errorf("store audit event %s: %w", event.ID, err)
		}
	}
	return nil
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}
