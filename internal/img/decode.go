package img

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-imageflow/internal/converters"
)

// decoded is a source image plus the format it was read from.
type decoded struct {
	img    image.Image
	format string
}

// decode reads a raster image, or rasterizes a video/PDF first when a
// converter handles the sniffed type.
func (e *Engine) decode(data []byte) (decoded, error) {
	d, rasterErr := e.decodeRaster(data)
	if rasterErr == nil {
		return d, nil
	}

	mimeType := DetectMime(data)
	conv, err := converters.GetConverter(mimeType)
	if err != nil {
		return decoded{}, fmt.Errorf("decode: %w", rasterErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ConvertTimeout)
	defer cancel()

	frame, err := converters.RasterizeBytes(ctx, conv, data)
	if err != nil {
		return decoded{}, fmt.Errorf("rasterize %s: %w", mimeType, err)
	}
	d, err = e.decodeRaster(frame)
	if err != nil {
		return decoded{}, fmt.Errorf("decode %s frame: %w", conv.Name(), err)
	}
	// Frames are PNG; the source format stays unknown so encodes default to PNG.
	d.format = ""
	return d, nil
}

func (e *Engine) decodeRaster(data []byte) (decoded, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return decoded{}, err
	}
	if err := e.checkPixels(float64(cfg.Width), float64(cfg.Height)); err != nil {
		return decoded{}, err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(e.opts.AutoOrient))
	if err != nil {
		return decoded{}, err
	}
	return decoded{img: src, format: format}, nil
}

func (e *Engine) checkPixels(w, h float64) error {
	if w*h > float64(e.opts.MaxPixels) {
		return fmt.Errorf("image %.0fx%.0f exceeds the %d pixel limit", w, h, e.opts.MaxPixels)
	}
	return nil
}

// probe reports dimensions without a full decode where possible.
func (e *Engine) probe(data []byte) (imageInfo, error) {
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		mimeType, ext := describeFormat(format)
		return imageInfo{width: cfg.Width, height: cfg.Height, mimeType: mimeType, extension: ext}, nil
	}

	mimeType := DetectMime(data)
	conv, err := converters.GetConverter(mimeType)
	if err != nil {
		return imageInfo{}, fmt.Errorf("unrecognized image data (%s)", mimeType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ConvertTimeout)
	defer cancel()

	fi, err := converters.ProbeBytes(ctx, conv, data)
	if err != nil {
		return imageInfo{}, fmt.Errorf("probe %s: %w", mimeType, err)
	}
	return imageInfo{
		width:     fi.Width,
		height:    fi.Height,
		mimeType:  mimeType,
		extension: "",
		pages:     fi.Pages,
		duration:  fi.Duration,
	}, nil
}

type imageInfo struct {
	width, height int
	mimeType      string
	extension     string
	pages         int
	duration      float64
}
