// Package imgtest builds encoded images for tests.
package imgtest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"
)

func fill(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

// JPEG encodes a solid w×h image.
func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fill(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes a solid w×h image.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, fill(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithCaptureTime encodes a w×h JPEG carrying an EXIF DateTimeOriginal
// and a camera Model.
func JPEGWithCaptureTime(t testing.TB, w, h int, taken time.Time, model string) []byte {
	t.Helper()
	return withExif(JPEG(t, w, h), exifSegment(
		[]asciiTag{{tagModel, model}},
		[]asciiTag{{tagDateTimeOriginal, exifTime(taken)}},
	))
}

// JPEGWithModifyTime encodes a w×h JPEG whose EXIF has the IFD0 DateTime and
// DateTimeDigitized but no DateTimeOriginal, as written by editing tools.
func JPEGWithModifyTime(t testing.TB, w, h int, modified time.Time, model string) []byte {
	t.Helper()
	return withExif(JPEG(t, w, h), exifSegment(
		[]asciiTag{{tagModel, model}, {tagDateTime, exifTime(modified)}},
		[]asciiTag{{tagDateTimeDigitized, exifTime(modified)}},
	))
}

const (
	tagModel             = 0x0110
	tagDateTime          = 0x0132
	tagExifIFDPointer    = 0x8769
	tagDateTimeOriginal  = 0x9003
	tagDateTimeDigitized = 0x9004
)

type asciiTag struct {
	tag   uint16
	value string
}

func exifTime(ts time.Time) string {
	return ts.UTC().Format("2006:01:02 15:04:05")
}

func withExif(plain, app1 []byte) []byte {
	out := make([]byte, 0, len(plain)+len(app1))
	out = append(out, plain[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, plain[2:]...)
	return out
}

// exifSegment builds an APP1 block with the ASCII tags of ifd0 and, when
// exifIFD is non-empty, an Exif sub-IFD linked from IFD0. Tags must be given
// in ascending order. Offsets are relative to the TIFF header.
func exifSegment(ifd0, exifIFD []asciiTag) []byte {
	le := binary.LittleEndian

	ifd0Entries := len(ifd0)
	if len(exifIFD) > 0 {
		ifd0Entries++
	}
	ifdSize := func(n int) int { return 2 + 12*n + 4 }

	const ifd0Off = 8
	exifIFDOff := ifd0Off + ifdSize(ifd0Entries)
	dataOff := exifIFDOff
	if len(exifIFD) > 0 {
		dataOff += ifdSize(len(exifIFD))
	}

	// Values of four bytes or less would be stored inline; keep every value
	// longer so it always lives in the data area.
	type placed struct{ off, count int }
	var data []byte
	place := func(tags []asciiTag) []placed {
		out := make([]placed, len(tags))
		for i, tg := range tags {
			v := tg.value
			for len(v) < 4 {
				v += " "
			}
			out[i] = placed{off: dataOff + len(data), count: len(v) + 1}
			data = append(data, v...)
			data = append(data, 0)
		}
		return out
	}
	ifd0Vals := place(ifd0)
	exifVals := place(exifIFD)

	tiff := make([]byte, dataOff+len(data))
	copy(tiff, "II")
	le.PutUint16(tiff[2:], 42)
	le.PutUint32(tiff[4:], ifd0Off)

	entry := func(at int, tag, typ uint16, count, value uint32) {
		le.PutUint16(tiff[at:], tag)
		le.PutUint16(tiff[at+2:], typ)
		le.PutUint32(tiff[at+4:], count)
		le.PutUint32(tiff[at+8:], value)
	}
	copy(tiff[dataOff:], data)

	le.PutUint16(tiff[ifd0Off:], uint16(ifd0Entries))
	at := ifd0Off + 2
	for i, tg := range ifd0 {
		entry(at, tg.tag, 2, uint32(ifd0Vals[i].count), uint32(ifd0Vals[i].off))
		at += 12
	}
	if len(exifIFD) > 0 {
		entry(at, tagExifIFDPointer, 4, 1, uint32(exifIFDOff))
		at += 12
	}
	le.PutUint32(tiff[at:], 0) // no IFD1

	if len(exifIFD) > 0 {
		le.PutUint16(tiff[exifIFDOff:], uint16(len(exifIFD)))
		at = exifIFDOff + 2
		for i, tg := range exifIFD {
			entry(at, tg.tag, 2, uint32(exifVals[i].count), uint32(exifVals[i].off))
			at += 12
		}
		le.PutUint32(tiff[at:], 0)
	}

	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}
