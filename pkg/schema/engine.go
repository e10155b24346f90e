// pkg/schema/engine.go
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Engine method names understood by the reference engine.
const (
	MethodCopy           = "copy"
	MethodExecute        = "v1/execute"
	MethodBuild          = "v1/build"
	MethodGetImageInfo   = "v1/get_image_info"
	MethodGetVersionInfo = "v1/get_version_info"
)

// Response is the envelope every engine message answers with.
type Response struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type CopyRequest struct {
	From int32 `json:"from"`
	To   int32 `json:"to"`
}

type CopyResult struct {
	From  int32 `json:"from"`
	To    int32 `json:"to"`
	Bytes int   `json:"bytes"`
}

type ImageInfoRequest struct {
	IoID int32 `json:"io_id"`
}

type ImageInfo struct {
	ImageWidth         int     `json:"image_width"`
	ImageHeight        int     `json:"image_height"`
	PreferredMimeType  string  `json:"preferred_mime_type"`
	PreferredExtension string  `json:"preferred_extension"`
	Pages              int     `json:"pages,omitempty"`
	DurationSeconds    float64 `json:"duration_seconds,omitempty"`
}

type VersionInfo struct {
	LongVersionString string `json:"long_version_string"`
	Engine            string `json:"engine"`
	GoVersion         string `json:"go_version,omitempty"`
}

// BuildRequest is the payload of v1/execute and v1/build.
type BuildRequest struct {
	Framewise Framewise `json:"framewise"`
}

type Framewise struct {
	Steps []Step `json:"steps"`
}

type Empty struct{}

// Step is one pipeline operation. Exactly one field is set. Parameterless
// steps may also be written as bare strings, e.g. "flip_h".
type Step struct {
	Decode     *DecodeStep    `json:"decode,omitempty"`
	Constrain  *ConstrainStep `json:"constrain,omitempty"`
	Crop       *CropStep      `json:"crop,omitempty"`
	Rotate90   *Empty         `json:"rotate_90,omitempty"`
	Rotate180  *Empty         `json:"rotate_180,omitempty"`
	Rotate270  *Empty         `json:"rotate_270,omitempty"`
	FlipH      *Empty         `json:"flip_h,omitempty"`
	FlipV      *Empty         `json:"flip_v,omitempty"`
	Grayscale  *Empty         `json:"grayscale,omitempty"`
	Blur       *SigmaStep     `json:"blur,omitempty"`
	Sharpen    *SigmaStep     `json:"sharpen,omitempty"`
	Brightness *PercentStep   `json:"brightness,omitempty"`
	Contrast   *PercentStep   `json:"contrast,omitempty"`
	Encode     *EncodeStep    `json:"encode,omitempty"`
}

func (s *Step) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		flag := &Empty{}
		switch name {
		case "rotate_90":
			s.Rotate90 = flag
		case "rotate_180":
			s.Rotate180 = flag
		case "rotate_270":
			s.Rotate270 = flag
		case "flip_h":
			s.FlipH = flag
		case "flip_v":
			s.FlipV = flag
		case "grayscale":
			s.Grayscale = flag
		default:
			return fmt.Errorf("unknown step %q", name)
		}
		return nil
	}
	type plain Step
	return json.Unmarshal(data, (*plain)(s))
}

type DecodeStep struct {
	IoID int32 `json:"io_id"`
}

// Constrain modes.
const (
	ConstrainFit     = "fit"
	ConstrainWithin  = "within"
	ConstrainFill    = "fill"
	ConstrainStretch = "stretch"
)

type ConstrainStep struct {
	W    int    `json:"w"`
	H    int    `json:"h"`
	Mode string `json:"mode,omitempty"`
}

type CropStep struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type SigmaStep struct {
	Sigma float64 `json:"sigma"`
}

type PercentStep struct {
	Percent float64 `json:"percent"`
}

type EncodeStep struct {
	IoID    int32  `json:"io_id"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

type EncodeResult struct {
	IoID               int32  `json:"io_id"`
	W                  int    `json:"w"`
	H                  int    `json:"h"`
	PreferredMimeType  string `json:"preferred_mime_type"`
	PreferredExtension string `json:"preferred_extension"`
	Bytes              int    `json:"bytes"`
}

type JobResult struct {
	Encodes []EncodeResult `json:"encodes"`
}

type BuildResult struct {
	JobResult JobResult `json:"job_result"`
}
