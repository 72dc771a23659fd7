// Package service implements the issuance coordinator: the decision between
// issuing a new credential and reporting an existing one.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"credrelay/internal/credential"
	"credrelay/internal/platform/metrics"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/platform/sentinel"
)

// Status reports how an issuance request resolved.
type Status string

const (
	StatusIssued        Status = "issued"
	StatusAlreadyIssued Status = "already_issued"
)

// Result is the outcome of an issuance request. For already-issued subjects
// the attribution is the original record's, never this request's.
type Result struct {
	SubjectID credential.SubjectID
	IssuedBy  string
	IssuedAt  time.Time
	Status    Status
}

// Store is the idempotency store: at most one record per subject.
type Store interface {
	Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error)
	Insert(ctx context.Context, rec credential.Record) error
}

// Publisher is the event channel's publish side.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// defaultPublishTimeout bounds how long an issuance request waits on the
// event channel. Past it the publish counts as failed and the request moves
// on; a broker outage must never pin callers.
const defaultPublishTimeout = 10 * time.Second

// Service owns the idempotency store and attributes every first issuance to
// this process's worker identity. The store's uniqueness constraint, not this
// code, is the final arbiter under concurrent duplicates.
type Service struct {
	store          Store
	publisher      Publisher
	workerID       string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	clock          func() time.Time
	publishTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublishTimeout overrides the publish deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// New constructs the issuance coordinator. workerID must be stable for the
// life of the process.
func New(store Store, publisher Publisher, workerID string, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:          store,
		publisher:      publisher,
		workerID:       workerID,
		logger:         logger,
		metrics:        m,
		clock:          time.Now,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a credential record for the subject or reports the existing
// one. Duplicate issuance is a success, not an error. The payload is stored
// and replicated verbatim; a differing payload on a duplicate request changes
// nothing.
func (s *Service) Issue(ctx context.Context, subjectID credential.SubjectID, payload json.RawMessage) (Result, error) {
	ctx, span := otel.Tracer("issuance").Start(ctx, "issuance.Issue")
	defer span.End()

	if subjectID.IsZero() {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "credential with unique userid is required")
	}

	// The record must exist consistently whether or not the caller sticks
	// around for the answer, so the write path ignores caller cancellation.
	ctx = context.WithoutCancel(ctx)

	existing, err := s.store.Find(ctx, subjectID)
	switch {
	case err == nil:
		s.metrics.ObserveIssuance(string(StatusAlreadyIssued))
		return resultFrom(existing, StatusAlreadyIssued), nil
	case !errors.Is(err, sentinel.ErrNotFound):
		s.logger.ErrorContext(ctx, "idempotency store read failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
		return Result{}, dErrors.New(dErrors.CodeUnavailable, "idempotency store unavailable")
	}

	rec := credential.Record{
		SubjectID: subjectID,
		Payload:   payload,
		IssuedBy:  s.workerID,
		IssuedAt:  s.clock().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the race: another request inserted between our read and
			// write. The winner's record is the truth; report it.
			winner, ferr := s.store.Find(ctx, subjectID)
			if ferr != nil {
				s.logger.ErrorContext(ctx, "re-read after conflict failed",
					"subject_id", subjectID.String(),
					"error", ferr,
				)
				return Result{}, dErrors.New(dErrors.CodeUnavailable, "idempotency store unavailable")
			}
			s.metrics.ObserveIssuance(string(StatusAlreadyIssued))
			return resultFrom(winner, StatusAlreadyIssued), nil
		}
		s.logger.ErrorContext(ctx, "idempotency store write failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
		return Result{}, dErrors.New(dErrors.CodeUnavailable, "idempotency store unavailable")
	}

	s.publish(ctx, rec)
	s.metrics.ObserveIssuance(string(StatusIssued))
	return resultFrom(rec, StatusIssued), nil
}

// publish is best effort. The local write is the durable source of truth;
// replication lag from a channel outage is monitored via the publish-failure
// counter, not surfaced to the caller. The write path runs on a context
// detached from caller cancellation, so the publish carries its own deadline:
// without one a broker outage would block every issuance response.
func (s *Service) publish(ctx context.Context, rec credential.Record) {
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	value, err := credential.EncodeIssued(rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode issuance event failed",
			"subject_id", rec.SubjectID.String(),
			"error", err,
		)
		s.metrics.IncPublishFailure()
		return
	}
	if err := s.publisher.Publish(ctx, credential.Topic, []byte(rec.SubjectID.String()), value); err != nil {
		s.logger.ErrorContext(ctx, "publish issuance event failed",
			"subject_id", rec.SubjectID.String(),
			"error", err,
		)
		s.metrics.IncPublishFailure()
	}
}

func resultFrom(rec credential.Record, status Status) Result {
	return Result{
		SubjectID: rec.SubjectID,
		IssuedBy:  rec.IssuedBy,
		IssuedAt:  rec.IssuedAt,
		Status:    status,
	}
}
