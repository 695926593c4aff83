// Package img decodes uploads and renders the derived tiers.
package img

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-photos/internal/domain"
)

// Rendition is one encoded tier ready for upload.
type Rendition struct {
	Tier    domain.Tier
	Data    []byte
	Width   int
	Height  int
	Quality int
}

// Decode parses an upload, applying any EXIF orientation so stored
// dimensions match what a viewer shows.
func Decode(data []byte) (image.Image, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", domain.ErrInvalidInput, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", domain.ErrInvalidInput)
	}
	return src, nil
}

// Derive scales src down by spec.Divisor with Lanczos and encodes JPEG at
// spec.Quality. Each side is at least one pixel.
func Derive(src image.Image, spec domain.TierSpec) (Rendition, error) {
	if spec.Divisor <= 0 {
		return Rendition{}, fmt.Errorf("tier %s: divisor must be positive", spec.Tier)
	}
	b := src.Bounds()
	w := max(1, b.Dx()/spec.Divisor)
	h := max(1, b.Dy()/spec.Divisor)

	scaled := imaging.Resize(src, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
		return Rendition{}, fmt.Errorf("encode %s: %w", spec.Tier, err)
	}

	return Rendition{
		Tier:    spec.Tier,
		Data:    buf.Bytes(),
		Width:   w,
		Height:  h,
		Quality: spec.Quality,
	}, nil
}

// DeriveAll renders every tier in specs order.
func DeriveAll(src image.Image, specs []domain.TierSpec) ([]Rendition, error) {
	out := make([]Rendition, 0, len(specs))
	for _, spec := range specs {
		r, err := Derive(src, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
