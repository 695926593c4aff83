package img

import (
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-photos/internal/img/imgtest"
)

func TestExtractMetadataCaptureTime(t *testing.T) {
	taken := time.Date(2021, 6, 15, 10, 30, 0, 0, time.UTC)
	data := imgtest.JPEGWithCaptureTime(t, 32, 24, taken, "TestCam 9")

	capture, err := ExtractMetadata(data)
	if err != nil {
		t.Fatalf("ExtractMetadata returned error: %v", err)
	}
	if !capture.TakenAt.Equal(taken) {
		t.Fatalf("unexpected capture time: got %s want %s", capture.TakenAt, taken)
	}
	if capture.Fields["Model"] != "TestCam 9" {
		t.Fatalf("unexpected Model field: %q", capture.Fields["Model"])
	}
	if capture.Fields["DateTimeOriginal"] != "2021:06:15 10:30:00" {
		t.Fatalf("unexpected DateTimeOriginal field: %q", capture.Fields["DateTimeOriginal"])
	}

	// The EXIF block must not stop the pixels from decoding.
	if _, err := Decode(data); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
}

func TestExtractMetadataWithoutExif(t *testing.T) {
	capture, err := ExtractMetadata(imgtest.PNG(t, 8, 8))
	if err != nil {
		t.Fatalf("ExtractMetadata returned error: %v", err)
	}
	if !capture.TakenAt.IsZero() {
		t.Fatalf("expected zero capture time, got %s", capture.TakenAt)
	}
	if len(capture.Fields) != 0 {
		t.Fatalf("expected no fields, got %v", capture.Fields)
	}
}

func TestExtractMetadataIgnoresModifyTime(t *testing.T) {
	modified := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	data := imgtest.JPEGWithModifyTime(t, 32, 24, modified, "Editor Cam")

	capture, err := ExtractMetadata(data)
	if err != nil {
		t.Fatalf("ExtractMetadata returned error: %v", err)
	}
	if !capture.TakenAt.IsZero() {
		t.Fatalf("modify time used as capture time: %s", capture.TakenAt)
	}
	if capture.Fields["DateTime"] != "2001:02:03 04:05:06" {
		t.Fatalf("unexpected DateTime field: %q", capture.Fields["DateTime"])
	}
	if capture.Fields["Model"] != "Editor Cam" {
		t.Fatalf("unexpected Model field: %q", capture.Fields["Model"])
	}
}

func TestExtractMetadataFieldsHaveNoNUL(t *testing.T) {
	data := imgtest.JPEGWithCaptureTime(t, 16, 16, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), "Cam\x00era X")

	capture, err := ExtractMetadata(data)
	if err != nil {
		t.Fatalf("ExtractMetadata returned error: %v", err)
	}
	for k, v := range capture.Fields {
		if strings.ContainsRune(v, 0) {
			t.Fatalf("field %s still holds a NUL byte: %q", k, v)
		}
	}
}

func TestCleanExifString(t *testing.T) {
	cases := map[string]string{
		"Canon\x00":         "Canon",
		"Can\x00on EOS\x00": "Canon EOS",
		" \x00 ":            "",
		"plain":             "plain",
	}
	for in, want := range cases {
		if got := cleanExifString(in); got != want {
			t.Fatalf("cleanExifString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseExifTime(t *testing.T) {
	ts, err := parseExifTime("2020:01:02 03:04:05\x00")
	if err != nil {
		t.Fatalf("parseExifTime returned error: %v", err)
	}
	if !ts.Equal(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected time %s", ts)
	}
	if _, err := parseExifTime("yesterday"); err == nil {
		t.Fatal("expected error for bad layout")
	}
}
