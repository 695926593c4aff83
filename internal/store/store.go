// Package store persists images and their variants.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
)

// Tx groups writes that must become visible together. Rollback after a
// successful Commit is a no-op.
type Tx interface {
	InsertImage(ctx context.Context, img *domain.Image) error
	InsertVariant(ctx context.Context, v *domain.Variant) error
	// NextVersion returns one past the highest stored version for the tier.
	NextVersion(ctx context.Context, imageID uuid.UUID, tier domain.Tier) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the metadata store. Lookups return domain.ErrNotFound when no
// row matches.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	FindImageByFilename(ctx context.Context, accountID uuid.UUID, filename string) (*domain.Image, error)
	ImageExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetImage(ctx context.Context, accountID, id uuid.UUID) (*domain.Image, error)
	ListImages(ctx context.Context, accountID uuid.UUID) ([]domain.Image, error)
	ListVariants(ctx context.Context, imageID uuid.UUID) ([]domain.Variant, error)

	// ImagesMissingTiers rebuilds jobs for images lacking any of tiers.
	ImagesMissingTiers(ctx context.Context, tiers []domain.Tier, limit int) ([]domain.Job, error)
	// ReferencedKeys reports which of keys belong to a variant row.
	ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error)

	Ping(ctx context.Context) error
}

// LatestVariant picks the highest version of tier from variants.
func LatestVariant(variants []domain.Variant, tier domain.Tier) (domain.Variant, bool) {
	var best domain.Variant
	found := false
	for _, v := range variants {
		if v.Tier != tier {
			continue
		}
		if !found || v.Version > best.Version {
			best = v
			found = true
		}
	}
	return best, found
}
