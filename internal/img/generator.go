package img

import (
	"net/http"
	"strings"
)

// JPEGContentType is the content type of every derived tier.
const JPEGContentType = "image/jpeg"

// SupportedMimeTypes are the formats Decode understands.
func SupportedMimeTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/bmp",
		"image/tiff",
	}
}

// ContentType sniffs data and reports whether the format can be decoded.
func ContentType(data []byte) (string, bool) {
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	for _, supported := range SupportedMimeTypes() {
		if mimeType == supported {
			return mimeType, true
		}
	}
	return mimeType, false
}
