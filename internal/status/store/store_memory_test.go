package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protokoll/pkg/platform/sentinel"
)

type testDoc struct {
	Name    string `json:"name"`
	Minutes int64  `json:"minutes"`
	Active  bool   `json:"active"`
}

func TestGetMissingDocument(t *testing.T) {
	s := NewInMemoryStore()
	var doc testDoc
	err := s.Get(context.Background(), "status/nothing", &doc)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	in := testDoc{Name: "tzd", Minutes: 90, Active: true}
	require.NoError(t, s.Set(ctx, "status/tzd", in))

	var out testDoc
	require.NoError(t, s.Get(ctx, "status/tzd", &out))
	assert.Equal(t, in, out)
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Set(ctx, "k", testDoc{Name: "a", Minutes: 5, Active: true}))

	require.NoError(t, s.Update(ctx, "k", map[string]any{"minutes": 10}))

	var out testDoc
	require.NoError(t, s.Get(ctx, "k", &out))
	assert.Equal(t, int64(10), out.Minutes)
	assert.Equal(t, "a", out.Name)
	assert.True(t, out.Active)
}

func TestIncrementIsCumulative(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Set(ctx, "k", testDoc{Minutes: 100}))

	v, err := s.Increment(ctx, "k", "minutes", 15)
	require.NoError(t, err)
	assert.Equal(t, int64(115), v)

	v, err = s.Increment(ctx, "k", "minutes", -20)
	require.NoError(t, err)
	assert.Equal(t, int64(95), v)

	var out testDoc
	require.NoError(t, s.Get(ctx, "k", &out))
	assert.Equal(t, int64(95), out.Minutes)
}

func TestGetOrCreateFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	var first testDoc
	created, err := s.GetOrCreate(ctx, "k", testDoc{Name: "first"}, &first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "first", first.Name)

	var second testDoc
	created, err = s.GetOrCreate(ctx, "k", testDoc{Name: "second"}, &second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "first", second.Name, "later defaults must not replace the stored document")
}

func TestBatchAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Set(ctx, "a", testDoc{Minutes: 1}))

	err := s.Batch(ctx, func(b Batch) error {
		b.Set("b", testDoc{Name: "locked", Active: true})
		b.Update("a", map[string]any{"name": "annotated"})
		b.Increment("a", "minutes", 41)
		return nil
	})
	require.NoError(t, err)

	var a, b testDoc
	require.NoError(t, s.Get(ctx, "a", &a))
	require.NoError(t, s.Get(ctx, "b", &b))
	assert.Equal(t, "annotated", a.Name)
	assert.Equal(t, int64(42), a.Minutes)
	assert.True(t, b.Active)
}

func TestBatchCallbackErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Set(ctx, "a", testDoc{Minutes: 1}))

	err := s.Batch(ctx, func(b Batch) error {
		b.Update("a", map[string]any{"minutes": 99})
		return assert.AnError
	})
	require.Error(t, err)

	var a testDoc
	require.NoError(t, s.Get(ctx, "a", &a))
	assert.Equal(t, int64(1), a.Minutes)
}
