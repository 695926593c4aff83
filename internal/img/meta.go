package img

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/cozy/goexif2/exif"
	"github.com/cozy/goexif2/tiff"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// Capture is what the embedded EXIF block says about a photo.
type Capture struct {
	TakenAt time.Time
	Fields  map[string]string
}

type exifWalkerFunc func(exif.FieldName, *tiff.Tag) error

func (w exifWalkerFunc) Walk(name exif.FieldName, tag *tiff.Tag) error {
	return w(name, tag)
}

// ExtractMetadata reads the EXIF block of data. Images without EXIF yield an
// empty Capture and no error.
func ExtractMetadata(data []byte) (Capture, error) {
	capture := Capture{Fields: map[string]string{}}

	ex, err := exif.Decode(bytes.NewReader(data))
	if err != nil && (ex == nil || exif.IsCriticalError(err)) {
		return capture, nil
	}

	// DateTimeOriginal only; the IFD0 DateTime is a modify time.
	if tag, err := ex.Get(exif.DateTimeOriginal); err == nil {
		if s, err := tag.StringVal(); err == nil {
			if ts, err := parseExifTime(s); err == nil {
				capture.TakenAt = ts
			}
		}
	}

	err = ex.Walk(exifWalkerFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		key := string(name)
		switch tag.Format() {
		case tiff.StringVal:
			if s, err := tag.StringVal(); err == nil {
				if v := cleanExifString(s); v != "" {
					capture.Fields[key] = v
				}
			}
		case tiff.IntVal, tiff.FloatVal, tiff.RatVal:
			capture.Fields[key] = tag.String()
		}
		return nil
	}))
	if err != nil {
		return capture, fmt.Errorf("walk exif: %w", err)
	}
	return capture, nil
}

// cleanExifString drops NUL bytes, which Postgres refuses inside jsonb.
func cleanExifString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// parseExifTime reads the camera's wall clock as UTC.
func parseExifTime(s string) (time.Time, error) {
	return time.ParseInLocation(exifTimeLayout, cleanExifString(s), time.UTC)
}
