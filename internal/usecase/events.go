package usecase

import (
	"context"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/pkg/kafka"
	"RSIndex/pkg/logger"

	"github.com/google/uuid"
)

// KafkaEvents publishes computation events keyed by event type.
type KafkaEvents struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaEvents(producer *kafka.Producer, topic string) *KafkaEvents {
	return &KafkaEvents{producer: producer, topic: topic}
}

func (k *KafkaEvents) Publish(ctx context.Context, ev models.ComputationEvent) error {
	return k.producer.Publish(ctx, k.topic, []byte(ev.Type), ev)
}

// LogEvents writes events to the log when no broker is configured.
type LogEvents struct {
	log *logger.Logger
}

func NewLogEvents(log *logger.Logger) *LogEvents { return &LogEvents{log: log} }

func (l *LogEvents) Publish(_ context.Context, ev models.ComputationEvent) error {
	l.log.Info("computation finished",
		logger.String("event", ev.Type),
		logger.String("index_type", ev.IndexType),
		logger.String("index_code", ev.IndexCode),
		logger.Int("rows", ev.Rows),
	)
	return nil
}

var (
	_ drepo.EventPublisher = (*KafkaEvents)(nil)
	_ drepo.EventPublisher = (*LogEvents)(nil)
)

func newEvent(typ string, rows int) models.ComputationEvent {
	return models.ComputationEvent{ID: uuid.NewString(), Type: typ, Rows: rows, At: time.Now().UTC()}
}

// announce publishes ev and only logs a failure; the rows are already written.
func announce(ctx context.Context, pub drepo.EventPublisher, log *logger.Logger, ev models.ComputationEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn("publish event failed", logger.String("event", ev.Type), logger.Error(err))
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordJob(string, string)                  {}
func (nopMetrics) RecordRowsWritten(string, int)             {}
func (nopMetrics) RecordSkipped(string, string)              {}
func (nopMetrics) RecordError(string)                        {}
func (nopMetrics) RecordLatency(string, float64)             {}
func (nopMetrics) RecordIndexValue(models.IndexKey, float64) {}

func orNop(m drepo.Metrics) drepo.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
