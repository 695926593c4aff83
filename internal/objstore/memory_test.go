package objstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "images/a", []byte("hello"), "image/jpeg"))
	got, err := m.Get(ctx, "images/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	url, err := m.PresignGet(ctx, "images/a")
	require.NoError(t, err)
	assert.Equal(t, "memory://images/a", url)
}

func TestMemoryGetMissing(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "k", []byte("x"), "image/jpeg"))

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	assert.Zero(t, m.Len())
}

func TestMemoryListFiltersByPrefixAndAge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.SetClock(func() time.Time { return base })
	require.NoError(t, m.Put(ctx, "images/old", []byte("x"), "image/jpeg"))
	require.NoError(t, m.Put(ctx, "other/old", []byte("x"), "image/jpeg"))
	m.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	require.NoError(t, m.Put(ctx, "images/new", []byte("x"), "image/jpeg"))

	keys, err := m.List(ctx, "images/", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"images/old"}, keys)
}

func TestMemoryCopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", data, "image/jpeg"))
	data[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
