// Package service implements the verification coordinator: read-only lookups
// against the eventually-consistent replica store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"credrelay/internal/credential"
	"credrelay/internal/platform/metrics"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/platform/sentinel"
)

// Result is the outcome of a verification lookup. Found=false is a success:
// the subject may never have been issued, or replication may not have caught
// up yet.
type Result struct {
	Found    bool
	IssuedBy string
	IssuedAt time.Time
}

// Store is the replica store's read side.
type Store interface {
	Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error)
}

// Service answers verification queries. It never writes; the event
// consumption loop is the replica store's only writer.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs the verification coordinator.
func New(store Store, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Verify looks the subject up in the replica store.
func (s *Service) Verify(ctx context.Context, subjectID credential.SubjectID) (Result, error) {
	ctx, span := otel.Tracer("verification").Start(ctx, "verification.Verify")
	defer span.End()

	if subjectID.IsZero() {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "credential with unique userid is required")
	}

	rec, err := s.store.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.ObserveVerification(false)
			return Result{Found: false}, nil
		}
		s.logger.ErrorContext(ctx, "replica store read failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
		return Result{}, dErrors.New(dErrors.CodeUnavailable, "replica store unavailable")
	}

	s.metrics.ObserveVerification(true)
	return Result{
		Found:    true,
		IssuedBy: rec.IssuedBy,
		IssuedAt: rec.IssuedAt,
	}, nil
}
