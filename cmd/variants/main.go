// cmd/variants runs the decode, EXIF and resize steps of the pipeline on a
// local file without any storage, database or queue.
//
// Usage:
//
//	./variants -input photo.jpg
//	./variants -input photo.jpg -outdir /tmp/out -medium-quality 85
//	./variants -input photo.jpg -probe  # Show metadata only
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/img"
)

func main() {
	input := flag.String("input", "", "Input image path (required)")
	outdir := flag.String("outdir", "", "Output directory (default: next to input)")
	mediumQuality := flag.Int("medium-quality", 80, "JPEG quality for the medium tier")
	smallQuality := flag.Int("small-quality", 80, "JPEG quality for the small tier")
	probe := flag.Bool("probe", false, "Show image metadata only (don't derive)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	if *input == "" {
		fmt.Println("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("❌ Failed to read input: %v", err)
	}

	mimeType, ok := img.ContentType(data)
	if !ok {
		log.Fatalf("❌ Unsupported file type %s\n\nSupported formats:\n%s", mimeType, formatSupportedTypes())
	}
	if *verbose {
		fmt.Printf("📄 Input: %s\n", *input)
		fmt.Printf("🔍 MIME type: %s\n", mimeType)
	}

	capture, err := img.ExtractMetadata(data)
	if err != nil {
		log.Fatalf("❌ Failed to read EXIF: %v", err)
	}

	src, err := img.Decode(data)
	if err != nil {
		log.Fatalf("❌ Failed to decode image: %v", err)
	}
	bounds := src.Bounds()

	if *probe {
		fmt.Println("\n📊 Image Metadata:")
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("MIME Type: %s\n", mimeType)
		fmt.Printf("Dimensions: %dx%d pixels\n", bounds.Dx(), bounds.Dy())
		fmt.Printf("Aspect Ratio: %.4f\n", domain.AspectRatio(bounds.Dx(), bounds.Dy()))
		fmt.Printf("File Size: %s\n", formatBytes(int64(len(data))))
		if !capture.TakenAt.IsZero() {
			fmt.Printf("Captured: %s\n", capture.TakenAt.Format(time.RFC3339))
		}
		printFields(capture.Fields)
		return
	}

	if *outdir == "" {
		*outdir = filepath.Dir(*input)
	}
	if err := os.MkdirAll(*outdir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create output directory: %v", err)
	}

	fmt.Printf("\n🎨 Deriving variants...\n")
	start := time.Now()

	renditions, err := img.DeriveAll(src, domain.DefaultTierSpecs(*mediumQuality, *smallQuality))
	if err != nil {
		log.Fatalf("❌ Derivation failed: %v", err)
	}

	base := strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
	fmt.Printf("\n✅ Derived %d variants in %v\n", len(renditions), time.Since(start).Round(time.Millisecond))
	fmt.Println(strings.Repeat("-", 40))
	for _, r := range renditions {
		out := filepath.Join(*outdir, fmt.Sprintf("%s_%s.jpg", base, r.Tier))
		if err := os.WriteFile(out, r.Data, 0o644); err != nil {
			log.Fatalf("❌ Failed to write %s: %v", out, err)
		}
		fmt.Printf("📁 %-7s %dx%d q%d %s -> %s\n", r.Tier, r.Width, r.Height, r.Quality, formatBytes(int64(len(r.Data))), out)
	}

	if *verbose {
		fmt.Printf("\n📊 Original: %dx%d (%s)\n", bounds.Dx(), bounds.Dy(), formatBytes(int64(len(data))))
	}
	fmt.Println()
}

func printFields(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nEXIF:")
	for _, name := range names {
		fmt.Printf("  %s: %s\n", name, fields[name])
	}
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatSupportedTypes() string {
	var b strings.Builder
	for _, t := range img.SupportedMimeTypes() {
		fmt.Fprintf(&b, "  • %s\n", t)
	}
	return b.String()
}
