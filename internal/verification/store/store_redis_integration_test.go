//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credrelay/internal/credential"
	"credrelay/internal/verification/store"
	"credrelay/pkg/platform/sentinel"
	"credrelay/pkg/testutil/containers"
)

// countingFinder wraps Memory to count how often the inner store is hit.
type countingFinder struct {
	inner *store.Memory
	hits  atomic.Int64
}

func (f *countingFinder) Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error) {
	f.hits.Add(1)
	return f.inner.Find(ctx, subjectID)
}

type RedisCacheSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	inner  *countingFinder
	cache  *store.RedisCache
	memory *store.Memory
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.memory = store.NewMemory()
	s.inner = &countingFinder{inner: s.memory}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.cache = store.NewRedisCache(s.inner, s.redis.Client, logger)
}

func (s *RedisCacheSuite) record(rawID string) credential.Record {
	var id credential.SubjectID
	s.Require().NoError(json.Unmarshal([]byte(rawID), &id))
	return credential.Record{
		SubjectID: id,
		Payload:   json.RawMessage(`{"userid":` + rawID + `}`),
		IssuedBy:  "w1",
		IssuedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *RedisCacheSuite) TestPositiveHitServedFromCache() {
	ctx := context.Background()
	rec := s.record(`"u1"`)
	_, err := s.memory.Upsert(ctx, rec)
	s.Require().NoError(err)

	first, err := s.cache.Find(ctx, rec.SubjectID)
	s.Require().NoError(err)
	s.Equal("w1", first.IssuedBy)
	s.Equal(int64(1), s.inner.hits.Load())

	// Second lookup comes from Redis, not the inner store.
	second, err := s.cache.Find(ctx, rec.SubjectID)
	s.Require().NoError(err)
	s.Equal("w1", second.IssuedBy)
	s.True(second.IssuedAt.Equal(first.IssuedAt))
	s.Equal(int64(1), s.inner.hits.Load())
}

func (s *RedisCacheSuite) TestMissesAlwaysFallThrough() {
	ctx := context.Background()
	id := credential.NewSubjectID("pending")

	_, err := s.cache.Find(ctx, id)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.cache.Find(ctx, id)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// No negative caching: both misses consulted the inner store, so a
	// late-replicated subject becomes visible immediately.
	s.Equal(int64(2), s.inner.hits.Load())

	rec := s.record(`"pending"`)
	_, err = s.memory.Upsert(ctx, rec)
	s.Require().NoError(err)

	got, err := s.cache.Find(ctx, id)
	s.Require().NoError(err)
	s.Equal("w1", got.IssuedBy)
}
