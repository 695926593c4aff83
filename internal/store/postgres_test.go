package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/logging"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("Skipping integration test: database not reachable: %v", err)
	}
	require.NoError(t, Migrate(pool, logging.Discard()))
	return NewPostgres(pool)
}

func TestPostgresImageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	account := uuid.New()
	img := newImage(account, "pg-"+uuid.NewString()+".jpg")
	original := newVariant(img.ID, domain.TierOriginal, 1)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertImage(ctx, img))
	require.NoError(t, tx.InsertVariant(ctx, original))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.FindImageByFilename(ctx, account, img.Filename)
	require.NoError(t, err)
	assert.Equal(t, img.ID, got.ID)
	assert.Equal(t, "X100", got.Metadata["Model"])

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertImage(ctx, newImage(account, img.Filename))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	require.NoError(t, tx.Rollback(ctx))

	jobs, err := s.ImagesMissingTiers(ctx, domain.DerivedTiers, 1000)
	require.NoError(t, err)
	found := false
	for _, j := range jobs {
		if j.ImageID == img.ID {
			found = true
			assert.Equal(t, original.ObjectKey, j.OriginalObjectKey)
		}
	}
	assert.True(t, found)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	next, err := tx.NextVersion(ctx, img.ID, domain.TierOriginal)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next)
	require.NoError(t, tx.Rollback(ctx))

	refs, err := s.ReferencedKeys(ctx, []string{original.ObjectKey, "images/none"})
	require.NoError(t, err)
	assert.True(t, refs[original.ObjectKey])
	assert.False(t, refs["images/none"])

	variants, err := s.ListVariants(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, domain.TierOriginal, variants[0].Tier)
}

func TestPostgresImageNotFound(t *testing.T) {
	s := newTestPostgres(t)
	_, err := s.GetImage(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
