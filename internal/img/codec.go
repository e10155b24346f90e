package img

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/tendant/simple-imageflow/internal/converters"
)

type codec struct {
	format    imaging.Format
	mimeType  string
	extension string
}

var codecs = map[string]codec{
	"jpeg": {imaging.JPEG, "image/jpeg", "jpg"},
	"jpg":  {imaging.JPEG, "image/jpeg", "jpg"},
	"png":  {imaging.PNG, "image/png", "png"},
	"gif":  {imaging.GIF, "image/gif", "gif"},
	"tiff": {imaging.TIFF, "image/tiff", "tiff"},
	"tif":  {imaging.TIFF, "image/tiff", "tiff"},
	"bmp":  {imaging.BMP, "image/bmp", "bmp"},
}

// lookupCodec resolves an encode format name. Empty falls back to the
// decoded source format, and sources we cannot encode (webp) fall back to PNG.
func lookupCodec(name, sourceFormat string) (codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		if c, ok := codecs[sourceFormat]; ok {
			return c, nil
		}
		return codecs["png"], nil
	}
	c, ok := codecs[name]
	if !ok {
		return codec{}, fmt.Errorf("unsupported encode format: %s (supported: jpeg, png, gif, tiff, bmp)", name)
	}
	return c, nil
}

// describeFormat maps an image.DecodeConfig format name to MIME type and
// extension.
func describeFormat(format string) (string, string) {
	if c, ok := codecs[format]; ok {
		return c.mimeType, c.extension
	}
	if format == "webp" {
		return "image/webp", "webp"
	}
	return "application/octet-stream", format
}

// DetectMime sniffs the content type of data.
func DetectMime(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.HasPrefix(head, []byte("%PDF")) {
		return "application/pdf"
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		mimeType, _ := describeFormat(format)
		return mimeType
	}
	return http.DetectContentType(head)
}

// SupportedMimeTypes returns every input MIME type the engine can decode,
// either natively or through a converter.
func SupportedMimeTypes() []string {
	types := []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff"}
	return append(types, converters.SupportedMimeTypes()...)
}
