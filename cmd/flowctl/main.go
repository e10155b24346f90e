// cmd/flowctl runs a single image job end to end, either against an
// in-process registry or against a worker over NATS.
//
// Usage:
//
//	./flowctl -input photo.jpg -output thumb.jpg -size 512
//	./flowctl -input document.pdf -output page.png -steps '[{"decode":{"io_id":0}},"grayscale",{"encode":{"io_id":1}}]'
//	./flowctl -input video.mp4 -info
//	./flowctl -nats nats://127.0.0.1:4222 -input photo.jpg -output thumb.png
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-imageflow/internal/bus"
	"github.com/tendant/simple-imageflow/internal/img"
	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/internal/rpc"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

const (
	inputIoID  int32 = 0
	outputIoID int32 = 1
)

type options struct {
	input   string
	output  string
	steps   string
	size    int
	quality int
	info    bool
	verbose bool
}

func main() {
	input := flag.String("input", "", "Input file path (required unless -version)")
	output := flag.String("output", "", "Output file path (default: input_out.jpg)")
	steps := flag.String("steps", "", "Framewise steps as JSON (default: decode, constrain within -size, encode)")
	size := flag.Int("size", 512, "Bounding box for the default steps (width/height in pixels)")
	quality := flag.Int("quality", 0, "JPEG quality for the default steps (0: engine default)")
	info := flag.Bool("info", false, "Show image info only (don't convert)")
	version := flag.Bool("version", false, "Show engine version and exit")
	natsURL := flag.String("nats", "", "Run against a worker at this NATS URL instead of in-process")
	prefix := flag.String("prefix", "imageflow", "Worker subject prefix (with -nats)")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout (with -nats)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var r runner
	if *natsURL != "" {
		nc, err := bus.Connect(*natsURL, logger)
		if err != nil {
			log.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		r = remoteRunner{c: rpc.NewClient(nc, *prefix, *timeout)}
	} else {
		reg := job.NewRegistry(img.NewEngine(img.Options{Logger: logger}), job.WithLogger(logger))
		defer reg.Close()
		r = localRunner{reg: reg}
	}

	if *version {
		v, err := r.Version()
		if err != nil {
			log.Fatalf("❌ Failed to read version: %v", err)
		}
		fmt.Println(v)
		return
	}

	if *input == "" {
		fmt.Println("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*input); os.IsNotExist(err) {
		log.Fatalf("❌ Input file not found: %s", *input)
	}

	opts := options{
		input:   *input,
		output:  *output,
		steps:   *steps,
		size:    *size,
		quality: *quality,
		info:    *info,
		verbose: *verbose,
	}
	if opts.output == "" && !opts.info {
		ext := filepath.Ext(opts.input)
		opts.output = strings.TrimSuffix(opts.input, ext) + "_out.jpg"
	}

	if opts.info {
		info, err := probe(r, opts.input)
		if err != nil {
			log.Fatalf("❌ Failed to read image info: %v", err)
		}
		fmt.Println("\n📊 Image Info:")
		fmt.Println(strings.Repeat("-", 40))
		printImageInfo(info)
		return
	}

	fmt.Printf("\n🎨 Running job...\n")
	start := time.Now()
	result, err := convert(r, opts)
	if err != nil {
		log.Fatalf("❌ Job failed: %v\n\nSupported formats:\n%s", err, formatSupportedTypes())
	}
	duration := time.Since(start)

	outputInfo, err := os.Stat(opts.output)
	if err != nil {
		log.Fatalf("❌ Failed to read output file: %v", err)
	}

	fmt.Printf("\n✅ Job successful!\n")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("📁 Output: %s\n", opts.output)
	for _, enc := range result.JobResult.Encodes {
		fmt.Printf("📏 Dimensions: %dx%d (%s)\n", enc.W, enc.H, enc.PreferredMimeType)
	}
	fmt.Printf("📦 Size: %s\n", formatBytes(outputInfo.Size()))
	fmt.Printf("⏱️  Time: %v\n", duration.Round(time.Millisecond))

	if opts.verbose {
		inputInfo, _ := os.Stat(opts.input)
		fmt.Printf("\n📊 Input file: %s (%s)\n", opts.input, formatBytes(inputInfo.Size()))
		fmt.Printf("📊 Ratio: %.1f%%\n", float64(outputInfo.Size())/float64(inputInfo.Size())*100)
	}
	fmt.Println()
}

// convert runs create, attach, build, save and destroy for one input.
func convert(r runner, opts options) (schema.BuildResult, error) {
	payload, err := buildPayload(opts)
	if err != nil {
		return schema.BuildResult{}, err
	}

	h, err := r.Create()
	if err != nil {
		return schema.BuildResult{}, err
	}
	defer func() {
		if derr := r.Destroy(h); derr != nil {
			fmt.Fprintf(os.Stderr, "⚠️  destroy job %d: %v\n", h, derr)
		}
	}()

	if err := r.AddInput(h, inputIoID, opts.input); err != nil {
		return schema.BuildResult{}, err
	}
	if err := r.AddOutput(h, outputIoID); err != nil {
		return schema.BuildResult{}, err
	}

	resp, err := r.Message(h, schema.MethodBuild, payload)
	if err != nil {
		return schema.BuildResult{}, err
	}
	var result schema.BuildResult
	if err := decodeResponse(resp, &result); err != nil {
		return schema.BuildResult{}, err
	}

	if err := r.SaveOutput(h, outputIoID, opts.output); err != nil {
		return schema.BuildResult{}, err
	}
	return result, nil
}

func probe(r runner, input string) (schema.ImageInfo, error) {
	h, err := r.Create()
	if err != nil {
		return schema.ImageInfo{}, err
	}
	defer r.Destroy(h)

	if err := r.AddInput(h, inputIoID, input); err != nil {
		return schema.ImageInfo{}, err
	}
	payload, err := json.Marshal(schema.ImageInfoRequest{IoID: inputIoID})
	if err != nil {
		return schema.ImageInfo{}, err
	}
	resp, err := r.Message(h, schema.MethodGetImageInfo, payload)
	if err != nil {
		return schema.ImageInfo{}, err
	}
	var info schema.ImageInfo
	if err := decodeResponse(resp, &info); err != nil {
		return schema.ImageInfo{}, err
	}
	return info, nil
}

// buildPayload returns the build request for -steps, or the default
// decode, constrain and encode pipeline sized by -size.
func buildPayload(opts options) ([]byte, error) {
	var req schema.BuildRequest
	if opts.steps != "" {
		if err := json.Unmarshal([]byte(opts.steps), &req.Framewise.Steps); err != nil {
			return nil, fmt.Errorf("parse -steps: %w", err)
		}
	} else {
		if opts.size <= 0 {
			return nil, fmt.Errorf("-size must be greater than zero (got %d)", opts.size)
		}
		req.Framewise.Steps = []schema.Step{
			{Decode: &schema.DecodeStep{IoID: inputIoID}},
			{Constrain: &schema.ConstrainStep{W: opts.size, H: opts.size, Mode: schema.ConstrainWithin}},
			{Encode: &schema.EncodeStep{IoID: outputIoID, Format: outputFormat(opts.output), Quality: opts.quality}},
		}
	}
	return json.Marshal(req)
}

// outputFormat derives the encode format from the output extension.
func outputFormat(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func decodeResponse(resp []byte, v any) error {
	var env schema.Response
	if err := json.Unmarshal(resp, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("engine error %d: %s", env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func printImageInfo(info schema.ImageInfo) {
	fmt.Printf("MIME Type: %s\n", info.PreferredMimeType)
	fmt.Printf("Dimensions: %dx%d pixels\n", info.ImageWidth, info.ImageHeight)
	if info.DurationSeconds > 0 {
		fmt.Printf("Duration: %.2f seconds\n", info.DurationSeconds)
	}
	if info.Pages > 0 {
		fmt.Printf("Pages: %d\n", info.Pages)
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

// formatSupportedTypes returns a formatted list of supported MIME types
func formatSupportedTypes() string {
	var b strings.Builder
	for _, t := range img.SupportedMimeTypes() {
		fmt.Fprintf(&b, "  • %s\n", t)
	}
	return b.String()
}
