// Package img is the in-process image engine behind the job registry. It
// decodes attached inputs with the imaging library, runs framewise steps and
// encodes results into attached outputs. Messages and responses use the
// envelope in pkg/schema.
package img

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendant/simple-imageflow/internal/engine"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

// Version is the engine release.
const Version = "0.4.0"

var (
	ErrEngineClosed = errors.New("engine closed")
	ErrTooManyJobs  = errors.New("job limit reached")
)

type Options struct {
	JPEGQuality    int
	MaxPixels      int
	MaxJobs        int
	AutoOrient     bool
	ConvertTimeout time.Duration
	Logger         *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		JPEGQuality:    90,
		MaxPixels:      100_000_000,
		AutoOrient:     true,
		ConvertTimeout: 30 * time.Second,
	}
}

// Engine implements engine.Engine.
type Engine struct {
	opts   Options
	logger *slog.Logger
	live   atomic.Int64
	mu     sync.RWMutex
	closed bool
}

// NewEngine creates an engine. Zero-valued options take their defaults.
func NewEngine(opts Options) *Engine {
	def := DefaultOptions()
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = def.MaxPixels
	}
	if opts.ConvertTimeout <= 0 {
		opts.ConvertTimeout = def.ConvertTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger.With("component", "img")}
}

func (e *Engine) Version() string {
	return fmt.Sprintf("simple-imageflow %s (imaging, %s)", Version, runtime.Version())
}

// Live returns the number of unreleased jobs.
func (e *Engine) Live() int64 { return e.live.Load() }

// Close refuses further jobs. Existing jobs stay valid until released.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Engine) NewJob() (engine.Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if n := e.live.Add(1); e.opts.MaxJobs > 0 && n > int64(e.opts.MaxJobs) {
		e.live.Add(-1)
		return nil, fmt.Errorf("%w (%d)", ErrTooManyJobs, e.opts.MaxJobs)
	}
	return &Job{engine: e, attached: make(map[int32]engine.Direction)}, nil
}

// Job is one engine job. Not safe for concurrent use.
type Job struct {
	engine   *Engine
	attached map[int32]engine.Direction
	released bool
}

func (j *Job) Attach(ioID int32, dir engine.Direction) error {
	if j.released {
		return errors.New("job released")
	}
	if ioID < 0 {
		return fmt.Errorf("io_id must be non-negative, got %d", ioID)
	}
	if prev, ok := j.attached[ioID]; ok {
		return fmt.Errorf("io_id %d already attached as %s", ioID, prev)
	}
	j.attached[ioID] = dir
	return nil
}

func (j *Job) Release() error {
	if j.released {
		return errors.New("job already released")
	}
	j.released = true
	j.attached = nil
	j.engine.live.Add(-1)
	return nil
}

func (j *Job) Message(method string, payload []byte, io engine.IO) ([]byte, error) {
	if j.released {
		return failure(errors.New("job released"))
	}

	var (
		data any
		err  error
	)
	switch method {
	case schema.MethodCopy:
		data, err = j.copy(payload, io)
	case schema.MethodExecute, schema.MethodBuild:
		data, err = j.execute(payload, io)
	case schema.MethodGetImageInfo:
		data, err = j.imageInfo(payload, io)
	case schema.MethodGetVersionInfo:
		data = schema.VersionInfo{
			LongVersionString: j.engine.Version(),
			Engine:            "imaging",
			GoVersion:         runtime.Version(),
		}
	default:
		err = &statusError{code: 404, err: fmt.Errorf("unknown method %q", method)}
	}
	if err != nil {
		j.engine.logger.Debug("message failed", "method", method, "err", err)
		return failure(err)
	}
	return success(data)
}

func (j *Job) requireAttached(ioID int32, dir engine.Direction) error {
	got, ok := j.attached[ioID]
	if !ok {
		return badRequest(fmt.Errorf("io_id %d is not attached", ioID))
	}
	if got != dir {
		return badRequest(fmt.Errorf("io_id %d is attached as %s, not %s", ioID, got, dir))
	}
	return nil
}

func (j *Job) copy(payload []byte, io engine.IO) (any, error) {
	var req schema.CopyRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := j.requireAttached(req.From, engine.DirectionInput); err != nil {
		return nil, err
	}
	if err := j.requireAttached(req.To, engine.DirectionOutput); err != nil {
		return nil, err
	}
	data, err := io.ReadInput(req.From)
	if err != nil {
		return nil, badRequest(err)
	}
	if err := io.WriteOutput(req.To, data); err != nil {
		return nil, err
	}
	return schema.CopyResult{From: req.From, To: req.To, Bytes: len(data)}, nil
}

func (j *Job) execute(payload []byte, io engine.IO) (any, error) {
	var req schema.BuildRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if len(req.Framewise.Steps) == 0 {
		return nil, badRequest(errors.New("framewise.steps is empty"))
	}
	for i, step := range req.Framewise.Steps {
		if step.Decode != nil {
			if err := j.requireAttached(step.Decode.IoID, engine.DirectionInput); err != nil {
				return nil, wrapStatus(err, "step %d (decode)", i)
			}
		}
		if step.Encode != nil {
			if err := j.requireAttached(step.Encode.IoID, engine.DirectionOutput); err != nil {
				return nil, wrapStatus(err, "step %d (encode)", i)
			}
		}
	}

	p := &pipeline{e: j.engine, io: io}
	if err := p.run(req.Framewise.Steps); err != nil {
		return nil, err
	}
	return schema.BuildResult{JobResult: schema.JobResult{Encodes: p.encodes}}, nil
}

func (j *Job) imageInfo(payload []byte, io engine.IO) (any, error) {
	var req schema.ImageInfoRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := j.requireAttached(req.IoID, engine.DirectionInput); err != nil {
		return nil, err
	}
	data, err := io.ReadInput(req.IoID)
	if err != nil {
		return nil, badRequest(err)
	}
	info, err := j.engine.probe(data)
	if err != nil {
		return nil, unprocessable(err)
	}
	return schema.ImageInfo{
		ImageWidth:         info.width,
		ImageHeight:        info.height,
		PreferredMimeType:  info.mimeType,
		PreferredExtension: info.extension,
		Pages:              info.pages,
		DurationSeconds:    info.duration,
	}, nil
}

func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return badRequest(errors.New("empty payload"))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return badRequest(fmt.Errorf("invalid payload: %w", err))
	}
	return nil
}

// statusError carries the HTTP-style code reported in the response envelope.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(err error) error    { return &statusError{code: 400, err: err} }
func unprocessable(err error) error { return &statusError{code: 422, err: err} }

// wrapStatus prefixes err with context while keeping its status code.
func wrapStatus(err error, format string, args ...any) error {
	wrapped := fmt.Errorf(format+": %w", append(args, err)...)
	var se *statusError
	if errors.As(err, &se) {
		return &statusError{code: se.code, err: wrapped}
	}
	return wrapped
}

func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 500
}

func success(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return failure(fmt.Errorf("marshal response: %w", err))
	}
	return json.Marshal(schema.Response{Code: 200, Success: true, Message: "OK", Data: raw})
}

// failure returns the diagnostic envelope together with err.
func failure(err error) ([]byte, error) {
	body, merr := json.Marshal(schema.Response{Code: statusCode(err), Success: false, Message: err.Error()})
	if merr != nil {
		return nil, errors.Join(err, merr)
	}
	return body, err
}
