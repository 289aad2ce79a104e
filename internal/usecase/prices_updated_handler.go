package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	pkgkafka "RSIndex/pkg/kafka"
	"RSIndex/pkg/logger"
)

// PricesUpdatedHandler turns price-load notices into a ranking job for the affected
// range followed by a full index replay.
type PricesUpdatedHandler struct {
	topic   string
	jobs    *Jobs
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewPricesUpdatedHandler(topic string, jobs *Jobs, metrics drepo.Metrics, log *logger.Logger) *PricesUpdatedHandler {
	return &PricesUpdatedHandler{
		topic:   topic,
		jobs:    jobs,
		metrics: orNop(metrics),
		log:     log.With(logger.String("component", "prices_updated")),
	}
}

func (h *PricesUpdatedHandler) Topic() string { return h.topic }

// Handle fails only on transient errors so the consumer retries them; malformed
// notices are logged and dropped.
func (h *PricesUpdatedHandler) Handle(ctx context.Context, b []byte) error {
	var msg models.PricesUpdated
	if err := json.Unmarshal(b, &msg); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.log.Warn("malformed prices.updated message dropped", logger.Error(err))
		return nil
	}

	accepted, err := h.jobs.Momentum(ctx, models.MomentumJobRequest{From: msg.From, To: msg.To})
	if errors.Is(err, models.ErrInvalidRequest) {
		h.metrics.RecordError("consumer_invalid")
		h.log.Warn("invalid prices.updated range dropped",
			logger.String("from", msg.From), logger.String("to", msg.To), logger.Error(err))
		return nil
	}
	if err != nil {
		h.metrics.RecordError("consumer_momentum")
		return fmt.Errorf("prices updated: %w", err)
	}
	h.log.Info("ranking scheduled",
		logger.String("from", msg.From),
		logger.String("to", msg.To),
		logger.Int("instruments", len(msg.InstrumentIDs)),
		logger.String("job_id", accepted.JobID),
	)

	if _, err := h.jobs.Indices(ctx, models.IndexJobRequest{}); err != nil {
		h.metrics.RecordError("consumer_index")
		return fmt.Errorf("prices updated: %w", err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*PricesUpdatedHandler)(nil)
