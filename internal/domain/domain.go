// Package domain holds the records shared by the upload path, the worker pool
// and the metadata store.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("image already exists")
	ErrNotFound     = errors.New("not found")
)

// ObjectPrefix scopes every blob written by this service.
const ObjectPrefix = "images/"

// Tier names one rendition of an image.
type Tier string

const (
	TierOriginal Tier = "original"
	TierMedium   Tier = "medium"
	TierSmall    Tier = "small"
)

// DerivedTiers are produced by the worker pool for every upload.
var DerivedTiers = []Tier{TierMedium, TierSmall}

// ParseTier maps a query value onto a Tier. Empty means original.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "", TierOriginal:
		return TierOriginal, nil
	case TierMedium, TierSmall:
		return Tier(s), nil
	}
	return "", fmt.Errorf("%w: unknown quality %q", ErrInvalidInput, s)
}

// Account is the authenticated principal.
type Account struct {
	ID       uuid.UUID
	Username string
}

// Image is the logical photo. Its renditions live in Variant rows.
type Image struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Filename    string            `json:"filename"`
	CapturedAt  time.Time         `json:"captured_at"`
	AspectRatio float64           `json:"aspect_ratio"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Variant is one stored rendition of an Image.
type Variant struct {
	ID                 uuid.UUID `json:"id"`
	ImageID            uuid.UUID `json:"image_id"`
	ObjectKey          string    `json:"object_key"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	CompressionQuality int       `json:"compression_quality"`
	Tier               Tier      `json:"tier"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
}

// Job asks the worker pool to derive the medium and small tiers.
type Job struct {
	ImageID           uuid.UUID `json:"image_id"`
	AccountID         uuid.UUID `json:"account_id"`
	OriginalObjectKey string    `json:"original_object_key"`
}

// Validate reports whether the job carries everything a worker needs.
func (j Job) Validate() error {
	if j.ImageID == uuid.Nil {
		return fmt.Errorf("%w: job missing image_id", ErrInvalidInput)
	}
	if j.OriginalObjectKey == "" {
		return fmt.Errorf("%w: job missing original_object_key", ErrInvalidInput)
	}
	return nil
}

// NewID returns a time-ordered identifier.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewObjectKey returns a fresh opaque blob key under ObjectPrefix.
func NewObjectKey() string {
	return ObjectPrefix + NewID().String()
}

// AspectRatio is width over height, zero for degenerate input.
func AspectRatio(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	return float64(width) / float64(height)
}

// TierSpec describes how one derived tier is produced from the original.
type TierSpec struct {
	Tier    Tier
	Divisor int
	Quality int
}

// DefaultTierSpecs halves and quarters the original at the given JPEG qualities.
func DefaultTierSpecs(mediumQuality, smallQuality int) []TierSpec {
	return []TierSpec{
		{Tier: TierMedium, Divisor: 2, Quality: mediumQuality},
		{Tier: TierSmall, Divisor: 4, Quality: smallQuality},
	}
}
