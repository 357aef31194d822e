//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"protokoll/internal/status/store"
	"protokoll/pkg/platform/sentinel"
	"protokoll/pkg/testutil/containers"
)

type ledgerDoc struct {
	NC               int64  `json:"nc"`
	LC               int64  `json:"lc"`
	LastInterestDate string `json:"lastInterestDate,omitempty"`
}

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	s.Run("missing document returns not found", func() {
		var doc ledgerDoc
		err := s.store.Get(ctx, "status/timeBank", &doc)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("set then get", func() {
		in := ledgerDoc{NC: -150, LC: 30, LastInterestDate: "2026-08-30"}
		s.Require().NoError(s.store.Set(ctx, "status/timeBank", in))

		var out ledgerDoc
		s.Require().NoError(s.store.Get(ctx, "status/timeBank", &out))
		s.Equal(in, out)
	})
}

func (s *RedisStoreSuite) TestIncrementMatchesMemorySemantics() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "status/timeBank", ledgerDoc{NC: 100}))

	v, err := s.store.Increment(ctx, "status/timeBank", "nc", -250)
	s.Require().NoError(err)
	s.Equal(int64(-150), v)

	var out ledgerDoc
	s.Require().NoError(s.store.Get(ctx, "status/timeBank", &out))
	s.Equal(int64(-150), out.NC)
}

func (s *RedisStoreSuite) TestGetOrCreateFirstWriterWins() {
	ctx := context.Background()

	var first ledgerDoc
	created, err := s.store.GetOrCreate(ctx, "status/timeBank", ledgerDoc{NC: 1}, &first)
	s.Require().NoError(err)
	s.True(created)

	var second ledgerDoc
	created, err = s.store.GetOrCreate(ctx, "status/timeBank", ledgerDoc{NC: 99}, &second)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(int64(1), second.NC)
}

func (s *RedisStoreSuite) TestBatchIsAtomic() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "a", ledgerDoc{NC: 1}))

	err := s.store.Batch(ctx, func(b store.Batch) error {
		b.Set("b", ledgerDoc{LC: 7})
		b.Update("a", map[string]any{"lastInterestDate": "2026-08-31"})
		b.Increment("a", "nc", 41)
		return nil
	})
	s.Require().NoError(err)

	var a, b ledgerDoc
	s.Require().NoError(s.store.Get(ctx, "a", &a))
	s.Require().NoError(s.store.Get(ctx, "b", &b))
	s.Equal(int64(42), a.NC)
	s.Equal("2026-08-31", a.LastInterestDate)
	s.Equal(int64(7), b.LC)
}
