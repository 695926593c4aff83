package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/upload"
)

// Uploader runs the ingestion saga.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*domain.Image, error)
}

// ImageReader serves the read path.
type ImageReader interface {
	GetImage(ctx context.Context, accountID, id uuid.UUID) (*domain.Image, error)
	ListImages(ctx context.Context, accountID uuid.UUID) ([]domain.Image, error)
	ListVariants(ctx context.Context, imageID uuid.UUID) ([]domain.Variant, error)
}

// Presigner hands out time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
