package converters

import (
	"context"
	"strings"
	"testing"
)

func TestGetConverter(t *testing.T) {
	tests := []struct {
		mimeType    string
		want        string
		shouldError bool
	}{
		{"video/mp4", "ffmpeg", false},
		{"VIDEO/QUICKTIME", "ffmpeg", false},
		{"application/pdf", "poppler", false},
		{"image/png", "", true},
		{"application/zip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			c, err := GetConverter(tt.mimeType)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error for %s", tt.mimeType)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Name() != tt.want {
				t.Fatalf("GetConverter(%s) = %s, want %s", tt.mimeType, c.Name(), tt.want)
			}
			if !c.Supports(tt.mimeType) {
				t.Fatalf("converter %s claims not to support %s", c.Name(), tt.mimeType)
			}
		})
	}
}

func TestSupportedMimeTypesHaveConverters(t *testing.T) {
	for _, mt := range SupportedMimeTypes() {
		if _, err := GetConverter(mt); err != nil {
			t.Errorf("no converter for advertised type %s: %v", mt, err)
		}
	}
}

func TestParseFFprobe(t *testing.T) {
	info := parseFFprobe("width=1920\nheight=1080\nduration=12.5\nsize=2048\ngarbage\n")
	if info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("unexpected dimensions: %dx%d", info.Width, info.Height)
	}
	if info.Duration != 12.5 {
		t.Fatalf("unexpected duration: %v", info.Duration)
	}
	if info.Size != 2048 {
		t.Fatalf("unexpected size: %d", info.Size)
	}
}

func TestParsePdfinfo(t *testing.T) {
	out := "Title:          report\nPages:          3\nPage size:      612 x 792 pts (letter)\nFile size:      4096 bytes\n"
	info := parsePdfinfo(out)
	if info.Pages != 3 {
		t.Fatalf("unexpected pages: %d", info.Pages)
	}
	if info.Width != 816 || info.Height != 1056 {
		t.Fatalf("unexpected dimensions: %dx%d", info.Width, info.Height)
	}
	if info.Size != 4096 {
		t.Fatalf("unexpected size: %d", info.Size)
	}
}

func TestRasterizeBytesMissingTool(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := RasterizeBytes(context.Background(), NewPopplerConverter(), []byte("%PDF-1.4"))
	if err == nil {
		t.Fatal("expected error when pdftoppm is unavailable")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}
