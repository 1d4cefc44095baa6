// Package auditsink opens the configured audit sink and wraps it in a
// publisher. Both commands share it.
package auditsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"

	"verifyflow/internal/platform/config"
	"verifyflow/pkg/domain"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/audit/publisher"
	"verifyflow/pkg/platform/audit/sink/kafka"
	auditmemory "verifyflow/pkg/platform/audit/store/memory"
	auditpostgres "verifyflow/pkg/platform/audit/store/postgres"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
	topicPartitions  = 3
)

// Sink emits audit events and, where the sink allows it, lists them back.
type Sink struct {
	publisher *publisher.Publisher
	reader    audit.Store
	consumer  *kafka.Consumer
	closers   []func()
}

// Open connects the sink named by cfg.Sink. group names the kafka consumer
// group used to read events back; it is ignored by the other sinks.
func Open(ctx context.Context, cfg config.AuditConfig, group string, reg prometheus.Registerer, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sink{}
	var sink audit.Appender
	switch cfg.Sink {
	case config.AuditSinkNone:
		sink = discard{}
	case config.AuditSinkMemory:
		store := auditmemory.NewInMemoryStore()
		sink, s.reader = store, store
	case config.AuditSinkPostgres:
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		store := auditpostgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate audit schema: %w", err)
		}
		sink, s.reader = store, store
	case config.AuditSinkKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, fmt.Errorf("create audit producer: %w", err)
		}
		s.closers = append(s.closers, producer.Close)
		if err := kafka.EnsureTopic(ctx, producer.Client(), cfg.KafkaTopic, topicPartitions, 1); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		store := auditmemory.NewInMemoryStore()
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, group, store, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create audit consumer: %w", err)
		}
		s.closers = append(s.closers, consumer.Close)
		sink, s.reader, s.consumer = producer, store, consumer
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}

	opts := []publisher.Option{
		publisher.WithLogger(logger),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithCircuitBreaker(publisher.NewCircuitBreaker(breakerThreshold, breakerCooldown)),
	}
	if cfg.BufferSize > 0 {
		opts = append(opts, publisher.WithAsyncBuffer(cfg.BufferSize))
	}
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		opts = append(opts, publisher.WithSampler(publisher.NewSampler(cfg.SampleRate)))
	}
	s.publisher = publisher.NewPublisher(sink, opts...)
	return s, nil
}

// Emit records one event.
func (s *Sink) Emit(ctx context.Context, event audit.Event) error {
	return s.publisher.Emit(ctx, event)
}

// List returns the events recorded for a session. Kafka sinks answer from
// what the consumer has read back so far.
func (s *Sink) List(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error) {
	if s.reader == nil {
		return nil, publisher.ErrListUnsupported
	}
	return s.reader.ListBySession(ctx, sessionID)
}

// Run reads events back from kafka until ctx ends. Other sinks return
// immediately.
func (s *Sink) Run(ctx context.Context) error {
	if s.consumer == nil {
		return nil
	}
	if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close drains the publisher and releases connections.
func (s *Sink) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

type discard struct{}

func (discard) Append(context.Context, audit.Event) error { return nil }
