package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credrelay/internal/credential"
	"credrelay/internal/issuance/store"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/platform/sentinel"
)

type published struct {
	topic string
	key   []byte
	value []byte
}

// stubPublisher records publishes and can be told to fail.
type stubPublisher struct {
	mu       sync.Mutex
	sent     []published
	failWith error
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value})
	return nil
}

// failingStore simulates an unavailable idempotency store.
type failingStore struct {
	findErr   error
	insertErr error
}

func (s failingStore) Find(context.Context, credential.SubjectID) (credential.Record, error) {
	return credential.Record{}, s.findErr
}

func (s failingStore) Insert(context.Context, credential.Record) error {
	return s.insertErr
}

type IssuanceServiceSuite struct {
	suite.Suite
	ctx       context.Context
	store     *store.Memory
	publisher *stubPublisher
	svc       *Service
	now       time.Time
}

func TestIssuanceServiceSuite(t *testing.T) {
	suite.Run(t, new(IssuanceServiceSuite))
}

func (s *IssuanceServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.publisher = &stubPublisher{}
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.svc = New(s.store, s.publisher, "w1", testLogger(), nil, WithClock(func() time.Time { return s.now }))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subjectID(s *IssuanceServiceSuite, raw string) credential.SubjectID {
	var id credential.SubjectID
	s.Require().NoError(json.Unmarshal([]byte(raw), &id))
	return id
}

func (s *IssuanceServiceSuite) TestFirstIssuance() {
	res, err := s.svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1","name":"A"}`))
	s.Require().NoError(err)

	s.Equal(StatusIssued, res.Status)
	s.Equal("w1", res.IssuedBy)
	s.True(res.IssuedAt.Equal(s.now))

	s.Require().Len(s.publisher.sent, 1)
	s.Equal(credential.Topic, s.publisher.sent[0].topic)
	s.Equal("u1", string(s.publisher.sent[0].key))

	rec, err := credential.DecodeIssued(s.publisher.sent[0].value)
	s.Require().NoError(err)
	s.Equal("u1", rec.SubjectID.String())
	s.Equal("w1", rec.IssuedBy)
	s.JSONEq(`{"userid":"u1","name":"A"}`, string(rec.Payload))
}

func (s *IssuanceServiceSuite) TestDuplicateReportsOriginalAttribution() {
	first, err := s.svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1","name":"A"}`))
	s.Require().NoError(err)

	// A different payload and a later clock must change nothing.
	s.now = s.now.Add(time.Hour)
	second, err := s.svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1","name":"B"}`))
	s.Require().NoError(err)

	s.Equal(StatusAlreadyIssued, second.Status)
	s.Equal(first.IssuedBy, second.IssuedBy)
	s.True(first.IssuedAt.Equal(second.IssuedAt))

	// Exactly one event: duplicates are never re-published.
	s.Len(s.publisher.sent, 1)
}

func (s *IssuanceServiceSuite) TestConcurrentIssuanceSingleWinner() {
	const n = 32
	results := make([]Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.svc.Issue(s.ctx, subjectID(s, `"race"`), json.RawMessage(`{"userid":"race"}`))
		}(i)
	}
	wg.Wait()

	issued := 0
	for i := 0; i < n; i++ {
		s.Require().NoError(errs[i])
		switch results[i].Status {
		case StatusIssued:
			issued++
		case StatusAlreadyIssued:
		default:
			s.Failf("unexpected status", "%v", results[i].Status)
		}
		s.Equal("w1", results[i].IssuedBy)
		s.True(results[0].IssuedAt.Equal(results[i].IssuedAt))
	}
	s.Equal(1, issued)
	s.Len(s.publisher.sent, 1)
}

func (s *IssuanceServiceSuite) TestMissingSubjectID() {
	_, err := s.svc.Issue(s.ctx, credential.SubjectID{}, json.RawMessage(`{}`))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	s.Empty(s.publisher.sent)
}

func (s *IssuanceServiceSuite) TestPublishFailureDoesNotFailIssuance() {
	s.publisher.failWith = errors.New("broker down")

	res, err := s.svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1"}`))
	s.Require().NoError(err)
	s.Equal(StatusIssued, res.Status)

	// The local record exists even though replication never left the process.
	rec, err := s.store.Find(s.ctx, subjectID(s, `"u1"`))
	s.Require().NoError(err)
	s.Equal("w1", rec.IssuedBy)
}

// blockingPublisher never acks; it returns only when its context expires,
// like a client buffering against an unreachable broker.
type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ string, _, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *IssuanceServiceSuite) TestPublishOutageDoesNotBlockIssuance() {
	svc := New(s.store, blockingPublisher{}, "w1", testLogger(), nil,
		WithClock(func() time.Time { return s.now }),
		WithPublishTimeout(50*time.Millisecond),
	)

	start := time.Now()
	res, err := svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1"}`))
	s.Require().NoError(err)
	s.Equal(StatusIssued, res.Status)
	s.Less(time.Since(start), 5*time.Second, "issuance must not wait out a channel outage")

	// The record is durable locally even though the event never left.
	rec, err := s.store.Find(s.ctx, subjectID(s, `"u1"`))
	s.Require().NoError(err)
	s.Equal("w1", rec.IssuedBy)
}

func (s *IssuanceServiceSuite) TestStoreReadFailure() {
	svc := New(failingStore{findErr: errors.New("connection refused")}, s.publisher, "w1", testLogger(), nil)
	_, err := svc.Issue(s.ctx, subjectID(s, `"u1"`), nil)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnavailable))
}

func (s *IssuanceServiceSuite) TestStoreWriteFailure() {
	svc := New(failingStore{findErr: sentinel.ErrNotFound, insertErr: errors.New("connection refused")}, s.publisher, "w1", testLogger(), nil)
	_, err := svc.Issue(s.ctx, subjectID(s, `"u1"`), nil)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnavailable))
	s.Empty(s.publisher.sent)
}

// conflictStore loses the insert race once, like a concurrent writer on
// another instance would make it.
type conflictStore struct {
	mu     sync.Mutex
	calls  int
	winner credential.Record
}

func (s *conflictStore) Find(context.Context, credential.SubjectID) (credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return credential.Record{}, sentinel.ErrNotFound
	}
	return s.winner, nil
}

func (s *conflictStore) Insert(context.Context, credential.Record) error {
	return sentinel.ErrConflict
}

func (s *IssuanceServiceSuite) TestInsertConflictBecomesAlreadyIssued() {
	winner := credential.Record{
		SubjectID: subjectID(s, `"u1"`),
		IssuedBy:  "w9",
		IssuedAt:  s.now.Add(-time.Minute),
	}
	svc := New(&conflictStore{winner: winner}, s.publisher, "w1", testLogger(), nil)

	res, err := svc.Issue(s.ctx, subjectID(s, `"u1"`), json.RawMessage(`{"userid":"u1"}`))
	s.Require().NoError(err)
	s.Equal(StatusAlreadyIssued, res.Status)
	s.Equal("w9", res.IssuedBy)
	s.True(res.IssuedAt.Equal(winner.IssuedAt))

	// Losing the race publishes nothing; the winner already did.
	s.Empty(s.publisher.sent)
}
