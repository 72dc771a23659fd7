// Package consumer materializes credential.issued events into the replica
// store. It is the replica store's only writer.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"credrelay/internal/credential"
	kconsumer "credrelay/internal/platform/kafka/consumer"
	"credrelay/internal/platform/metrics"
)

// Store is the replica store's write side.
type Store interface {
	Upsert(ctx context.Context, rec credential.Record) (bool, error)
}

// Handler processes delivered issuance events. Each subject is an independent
// unit: no cross-subject state, so duplicate, reordered and concurrent
// deliveries across subjects are all safe.
type Handler struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an event handler writing to the given replica store.
func New(store Store, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Handle decodes one event and upserts it. A malformed event fails the
// delivery on purpose: the channel's at-least-once mechanics redeliver it
// instead of the fact being silently dropped.
func (h *Handler) Handle(ctx context.Context, msg *kconsumer.Message) error {
	ctx, span := otel.Tracer("verification").Start(ctx, "consumer.Handle")
	defer span.End()

	rec, err := credential.DecodeIssued(msg.Value)
	if err != nil {
		h.metrics.IncEventMalformed()
		return fmt.Errorf("malformed issuance event: %w", err)
	}

	inserted, err := h.store.Upsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("replicate credential %s: %w", rec.SubjectID.String(), err)
	}
	if inserted {
		h.metrics.IncEventConsumed()
		h.logger.DebugContext(ctx, "replicated credential",
			"subject_id", rec.SubjectID.String(),
			"issued_by", rec.IssuedBy,
		)
	} else {
		h.metrics.IncEventReplayed()
		h.logger.DebugContext(ctx, "duplicate delivery ignored",
			"subject_id", rec.SubjectID.String(),
		)
	}
	return nil
}
