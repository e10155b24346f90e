package img

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-imageflow/internal/engine"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

// maxSigma bounds blur and sharpen. The kernel grows linearly with sigma.
const maxSigma = 50

var errNoImage = errors.New("no image decoded yet")

// pipeline runs framewise steps in order over a single current image.
type pipeline struct {
	e       *Engine
	io      engine.IO
	current image.Image
	format  string
	encodes []schema.EncodeResult
}

func (p *pipeline) run(steps []schema.Step) error {
	for i, step := range steps {
		name, err := stepName(step)
		if err != nil {
			return badRequest(fmt.Errorf("step %d: %w", i, err))
		}
		if err := p.apply(name, step); err != nil {
			return wrapStatus(err, "step %d (%s)", i, name)
		}
	}
	return nil
}

func (p *pipeline) apply(name string, step schema.Step) error {
	if name == "decode" {
		data, err := p.io.ReadInput(step.Decode.IoID)
		if err != nil {
			return badRequest(err)
		}
		d, err := p.e.decode(data)
		if err != nil {
			return unprocessable(err)
		}
		p.current, p.format = d.img, d.format
		return nil
	}

	if p.current == nil {
		return badRequest(errNoImage)
	}

	switch name {
	case "constrain":
		img, err := p.e.constrain(p.current, step.Constrain)
		if err != nil {
			return badRequest(err)
		}
		p.current = img
	case "crop":
		c := step.Crop
		rect := image.Rect(c.X1, c.Y1, c.X2, c.Y2)
		if rect.Empty() || !rect.In(p.current.Bounds()) {
			return badRequest(fmt.Errorf("crop %v outside image bounds %v", rect, p.current.Bounds()))
		}
		p.current = imaging.Crop(p.current, rect)
	case "rotate_90":
		p.current = imaging.Rotate90(p.current)
	case "rotate_180":
		p.current = imaging.Rotate180(p.current)
	case "rotate_270":
		p.current = imaging.Rotate270(p.current)
	case "flip_h":
		p.current = imaging.FlipH(p.current)
	case "flip_v":
		p.current = imaging.FlipV(p.current)
	case "grayscale":
		p.current = imaging.Grayscale(p.current)
	case "blur":
		if err := checkSigma(step.Blur.Sigma); err != nil {
			return badRequest(err)
		}
		p.current = imaging.Blur(p.current, step.Blur.Sigma)
	case "sharpen":
		if err := checkSigma(step.Sharpen.Sigma); err != nil {
			return badRequest(err)
		}
		p.current = imaging.Sharpen(p.current, step.Sharpen.Sigma)
	case "brightness":
		p.current = imaging.AdjustBrightness(p.current, step.Brightness.Percent)
	case "contrast":
		p.current = imaging.AdjustContrast(p.current, step.Contrast.Percent)
	case "encode":
		return p.encode(step.Encode)
	}
	return nil
}

func (p *pipeline) encode(step *schema.EncodeStep) error {
	c, err := lookupCodec(step.Format, p.format)
	if err != nil {
		return badRequest(err)
	}

	var opts []imaging.EncodeOption
	if c.format == imaging.JPEG {
		quality := step.Quality
		if quality <= 0 || quality > 100 {
			quality = p.e.opts.JPEGQuality
		}
		opts = append(opts, imaging.JPEGQuality(quality))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, p.current, c.format, opts...); err != nil {
		return fmt.Errorf("encode %s: %w", c.extension, err)
	}
	if err := p.io.WriteOutput(step.IoID, buf.Bytes()); err != nil {
		return err
	}

	b := p.current.Bounds()
	p.encodes = append(p.encodes, schema.EncodeResult{
		IoID:               step.IoID,
		W:                  b.Dx(),
		H:                  b.Dy(),
		PreferredMimeType:  c.mimeType,
		PreferredExtension: c.extension,
		Bytes:              buf.Len(),
	})
	return nil
}

// constrain resizes src into the w x h box. "within" never upscales, "fit"
// scales up or down keeping aspect ratio, "fill" crops to cover the box and
// "stretch" ignores aspect ratio. A zero dimension keeps aspect ratio.
// Targets that would exceed MaxPixels are rejected before any allocation.
func (e *Engine) constrain(src image.Image, c *schema.ConstrainStep) (image.Image, error) {
	if c.W < 0 || c.H < 0 || (c.W == 0 && c.H == 0) {
		return nil, fmt.Errorf("invalid constraint %dx%d", c.W, c.H)
	}

	mode := c.Mode
	if mode == "" {
		mode = schema.ConstrainWithin
	}

	b := src.Bounds()
	switch mode {
	case schema.ConstrainWithin:
		if c.W == 0 || c.H == 0 {
			if (c.W == 0 || b.Dx() <= c.W) && (c.H == 0 || b.Dy() <= c.H) {
				return imaging.Clone(src), nil
			}
			return imaging.Resize(src, c.W, c.H, imaging.Lanczos), nil
		}
		return imaging.Fit(src, c.W, c.H, imaging.Lanczos), nil
	case schema.ConstrainFit:
		w, h := fitSize(b.Dx(), b.Dy(), c.W, c.H)
		if err := e.checkPixels(w, h); err != nil {
			return nil, err
		}
		return imaging.Resize(src, max(int(math.Round(w)), 1), max(int(math.Round(h)), 1), imaging.Lanczos), nil
	case schema.ConstrainFill:
		if c.W == 0 || c.H == 0 {
			return nil, fmt.Errorf("fill needs both dimensions, got %dx%d", c.W, c.H)
		}
		if err := e.checkPixels(float64(c.W), float64(c.H)); err != nil {
			return nil, err
		}
		return imaging.Fill(src, c.W, c.H, imaging.Center, imaging.Lanczos), nil
	case schema.ConstrainStretch:
		if c.W == 0 || c.H == 0 {
			return nil, fmt.Errorf("stretch needs both dimensions, got %dx%d", c.W, c.H)
		}
		if err := e.checkPixels(float64(c.W), float64(c.H)); err != nil {
			return nil, err
		}
		return imaging.Resize(src, c.W, c.H, imaging.Lanczos), nil
	default:
		return nil, fmt.Errorf("unknown constrain mode %q", mode)
	}
}

// fitSize scales srcW x srcH to the box keeping aspect ratio. A zero box
// dimension follows from the other one.
func fitSize(srcW, srcH, boxW, boxH int) (float64, float64) {
	sw, sh := float64(srcW), float64(srcH)
	var ratio float64
	switch {
	case boxH == 0:
		ratio = float64(boxW) / sw
	case boxW == 0:
		ratio = float64(boxH) / sh
	default:
		ratio = math.Min(float64(boxW)/sw, float64(boxH)/sh)
	}
	return sw * ratio, sh * ratio
}

func checkSigma(sigma float64) error {
	if sigma > maxSigma {
		return fmt.Errorf("sigma %g exceeds the maximum of %d", sigma, maxSigma)
	}
	return nil
}

func stepName(s schema.Step) (string, error) {
	var names []string
	set := func(ok bool, name string) {
		if ok {
			names = append(names, name)
		}
	}
	set(s.Decode != nil, "decode")
	set(s.Constrain != nil, "constrain")
	set(s.Crop != nil, "crop")
	set(s.Rotate90 != nil, "rotate_90")
	set(s.Rotate180 != nil, "rotate_180")
	set(s.Rotate270 != nil, "rotate_270")
	set(s.FlipH != nil, "flip_h")
	set(s.FlipV != nil, "flip_v")
	set(s.Grayscale != nil, "grayscale")
	set(s.Blur != nil, "blur")
	set(s.Sharpen != nil, "sharpen")
	set(s.Brightness != nil, "brightness")
	set(s.Contrast != nil, "contrast")
	set(s.Encode != nil, "encode")

	switch len(names) {
	case 0:
		return "", errors.New("empty step")
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("step sets several operations: %v", names)
	}
}
