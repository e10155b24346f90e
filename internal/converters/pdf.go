package converters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PopplerConverter renders the first PDF page with pdftoppm.
type PopplerConverter struct {
	dpi int
}

func NewPopplerConverter() *PopplerConverter {
	return &PopplerConverter{dpi: 150}
}

func (p *PopplerConverter) Name() string {
	return "poppler"
}

func (p *PopplerConverter) Supports(mimeType string) bool {
	return strings.ToLower(mimeType) == "application/pdf"
}

func (p *PopplerConverter) Convert(ctx context.Context, input, output string, width, height int) error {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return fmt.Errorf("pdftoppm not found in PATH: %w", err)
	}

	// pdftoppm appends the extension itself.
	base := strings.TrimSuffix(output, filepath.Ext(output))
	args := []string{
		"-png",
		"-singlefile",
		"-f", "1",
		"-l", "1",
		"-r", strconv.Itoa(p.dpi),
	}
	if maxDim := max(width, height); maxDim > 0 {
		args = append(args, "-scale-to", strconv.Itoa(maxDim))
	}
	args = append(args, input, base)

	out, err := exec.CommandContext(ctx, "pdftoppm", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w\nOutput: %s", err, string(out))
	}

	if produced := base + ".png"; produced != output {
		if err := os.Rename(produced, output); err != nil {
			return fmt.Errorf("rename page: %w", err)
		}
	}
	return nil
}

func (p *PopplerConverter) Probe(ctx context.Context, input string) (*FileInfo, error) {
	output, err := exec.CommandContext(ctx, "pdfinfo", input).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdfinfo failed: %w\nOutput: %s", err, string(output))
	}
	return parsePdfinfo(string(output)), nil
}

func parsePdfinfo(output string) *FileInfo {
	info := &FileInfo{MimeType: "application/pdf"}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		fields := strings.Fields(value)

		switch key {
		case "Pages":
			if pages, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				info.Pages = pages
			}
		case "Page size":
			// "595 x 842 pts (A4)"; points are converted at 96 DPI
			if len(fields) >= 3 {
				if w, err := strconv.ParseFloat(fields[0], 64); err == nil {
					info.Width = int(w * 96 / 72)
				}
				if h, err := strconv.ParseFloat(fields[2], 64); err == nil {
					info.Height = int(h * 96 / 72)
				}
			}
		case "File size":
			if len(fields) >= 1 {
				if size, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					info.Size = size
				}
			}
		}
	}
	return info
}
