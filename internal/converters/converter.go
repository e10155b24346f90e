// Package converters turns non-raster inputs (videos, PDFs) into a single
// PNG frame the image engine can decode. Each converter shells out to an
// external tool and reports a "not found" error when the tool is missing.
package converters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Converter renders one representative frame of an input file.
type Converter interface {
	// Name returns the converter name (e.g., "ffmpeg", "poppler")
	Name() string

	// Supports returns true if this converter can handle the given MIME type
	Supports(mimeType string) bool

	// Convert writes a PNG frame of input to output, scaled to fit within
	// width x height when both are positive.
	Convert(ctx context.Context, input, output string, width, height int) error

	// Probe returns metadata about the input file without converting it
	Probe(ctx context.Context, input string) (*FileInfo, error)
}

// FileInfo contains metadata about a media file
type FileInfo struct {
	MimeType string
	Width    int
	Height   int
	Duration float64 // seconds, videos only
	Pages    int     // PDFs only
	Size     int64
}

// GetConverter returns the converter for mimeType. Raster images have none:
// they are decoded directly.
func GetConverter(mimeType string) (Converter, error) {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return NewFFmpegConverter(), nil
	case mimeType == "application/pdf":
		return NewPopplerConverter(), nil
	default:
		return nil, fmt.Errorf("unsupported MIME type: %s", mimeType)
	}
}

// SupportedMimeTypes lists the MIME types a converter exists for.
func SupportedMimeTypes() []string {
	return []string{
		"video/mp4",
		"video/mpeg",
		"video/quicktime",
		"video/x-msvideo",
		"video/webm",
		"video/x-matroska",
		"video/x-flv",
		"application/pdf",
	}
}

// RasterizeBytes runs c over an in-memory input and returns PNG bytes.
// Scratch files live in a private temp dir removed before returning.
func RasterizeBytes(ctx context.Context, c Converter, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "imageflow-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "source")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	output := filepath.Join(dir, "frame.png")
	if err := c.Convert(ctx, input, output, 0, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}

	frame, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}

// ProbeBytes runs c.Probe over an in-memory input.
func ProbeBytes(ctx context.Context, c Converter, data []byte) (*FileInfo, error) {
	f, err := os.CreateTemp("", "imageflow-probe-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write probe input: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close probe input: %w", err)
	}
	return c.Probe(ctx, f.Name())
}
