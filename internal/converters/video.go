package converters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegConverter extracts a representative video frame with ffmpeg.
type FFmpegConverter struct {
	seekTime int
}

// NewFFmpegConverter creates a converter that skips the first five seconds
// to avoid blank intro frames.
func NewFFmpegConverter() *FFmpegConverter {
	return &FFmpegConverter{seekTime: 5}
}

func (f *FFmpegConverter) Name() string {
	return "ffmpeg"
}

func (f *FFmpegConverter) Supports(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "video/")
}

// Convert writes one PNG frame. Clips shorter than the seek time produce no
// frame on the first pass, so the extraction is retried from the start.
func (f *FFmpegConverter) Convert(ctx context.Context, input, output string, width, height int) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	filter := "thumbnail"
	if width > 0 && height > 0 {
		filter = fmt.Sprintf("thumbnail,scale=%d:%d:force_original_aspect_ratio=decrease", width, height)
	}

	seeks := []int{f.seekTime}
	if f.seekTime > 0 {
		seeks = append(seeks, 0)
	}

	var lastErr error
	for _, seek := range seeks {
		args := []string{
			"-ss", strconv.Itoa(seek),
			"-i", input,
			"-vf", filter,
			"-frames:v", "1",
			"-f", "image2",
			"-c:v", "png",
			"-y",
			output,
		}
		out, err := exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
		if err != nil {
			lastErr = fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(out))
			continue
		}
		if info, err := os.Stat(output); err == nil && info.Size() > 0 {
			return nil
		}
		lastErr = fmt.Errorf("ffmpeg produced no frame at %ds", seek)
	}
	return lastErr
}

func (f *FFmpegConverter) Probe(ctx context.Context, input string) (*FileInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,duration",
		"-show_entries", "format=size",
		"-of", "default=noprint_wrappers=1",
		input,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, string(output))
	}
	return parseFFprobe(string(output)), nil
}

func parseFFprobe(output string) *FileInfo {
	info := &FileInfo{MimeType: "video/unknown"}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			if w, err := strconv.Atoi(value); err == nil {
				info.Width = w
			}
		case "height":
			if h, err := strconv.Atoi(value); err == nil {
				info.Height = h
			}
		case "duration":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				info.Duration = d
			}
		case "size":
			if s, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.Size = s
			}
		}
	}
	return info
}
