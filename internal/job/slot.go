package job

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-imageflow/internal/engine"
)

type input struct {
	data []byte
	path string
}

type output struct {
	path  string
	data  []byte
	ready bool
}

// Slot owns one engine job and its attachments. Every method expects s.mu
// to be held by the caller.
type Slot struct {
	mu      sync.Mutex
	handle  Handle
	id      uuid.UUID
	job     engine.Job
	inputs  map[int32]*input
	outputs map[int32]*output
	state   State
	created time.Time
	logger  *slog.Logger
}

func newSlot(j engine.Job, logger *slog.Logger) *Slot {
	id := uuid.New()
	return &Slot{
		id:      id,
		job:     j,
		inputs:  make(map[int32]*input),
		outputs: make(map[int32]*output),
		state:   StateCreated,
		created: time.Now(),
		logger:  logger.With("job_id", id.String()),
	}
}

// ID is the slot's correlation id used in logs and lifecycle events.
func (s *Slot) ID() uuid.UUID { return s.id }

func (s *Slot) registered(ioID int32) bool {
	if _, ok := s.inputs[ioID]; ok {
		return true
	}
	_, ok := s.outputs[ioID]
	return ok
}

func (s *Slot) attach(op string, ioID int32, dir engine.Direction) (err error) {
	if s.registered(ioID) {
		return ioError(op, s.handle, ioID, ErrDuplicateIoID, nil)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine panicked",
				"op", op,
				"io_id", ioID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = ioError(op, s.handle, ioID, ErrAttach, fmt.Errorf("engine panic: %v", r))
		}
	}()
	if err := s.job.Attach(ioID, dir); err != nil {
		return ioError(op, s.handle, ioID, ErrAttach, err)
	}
	return nil
}

func (s *Slot) addInputBuffer(ioID int32, data []byte) error {
	const op = "add_input_buffer"
	if err := s.attach(op, ioID, engine.DirectionInput); err != nil {
		return err
	}
	s.inputs[ioID] = &input{data: bytes.Clone(data)}
	markConfiguring(s)
	return nil
}

func (s *Slot) addInputFile(ioID int32, path string) error {
	const op = "add_input_file"
	if s.registered(ioID) {
		return ioError(op, s.handle, ioID, ErrDuplicateIoID, nil)
	}
	if path == "" {
		return ioError(op, s.handle, ioID, ErrInvalidPath, errors.New("empty path"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return ioError(op, s.handle, ioID, ErrInvalidPath, err)
	}
	if !info.Mode().IsRegular() {
		return ioError(op, s.handle, ioID, ErrInvalidPath, fmt.Errorf("%s is not a regular file", path))
	}
	if err := s.attach(op, ioID, engine.DirectionInput); err != nil {
		return err
	}
	s.inputs[ioID] = &input{path: path}
	markConfiguring(s)
	return nil
}

func (s *Slot) addOutputBuffer(ioID int32) error {
	if err := s.attach("add_output_buffer", ioID, engine.DirectionOutput); err != nil {
		return err
	}
	s.outputs[ioID] = &output{}
	markConfiguring(s)
	return nil
}

func (s *Slot) addOutputFile(ioID int32, path string) error {
	const op = "add_output_file"
	if s.registered(ioID) {
		return ioError(op, s.handle, ioID, ErrDuplicateIoID, nil)
	}
	if path == "" {
		return ioError(op, s.handle, ioID, ErrInvalidPath, errors.New("empty path"))
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return ioError(op, s.handle, ioID, ErrInvalidPath, fmt.Errorf("%s is a directory", path))
	}
	if err := s.attach(op, ioID, engine.DirectionOutput); err != nil {
		return err
	}
	s.outputs[ioID] = &output{path: path}
	markConfiguring(s)
	return nil
}

func (s *Slot) outputBuffer(op string, ioID int32) ([]byte, error) {
	out, ok := s.outputs[ioID]
	if !ok {
		return nil, ioError(op, s.handle, ioID, ErrOutputNotFound, nil)
	}
	if !out.ready {
		return nil, ioError(op, s.handle, ioID, ErrOutputNotReady, nil)
	}
	return out.data, nil
}

func (s *Slot) getOutputBuffer(ioID int32) ([]byte, error) {
	data, err := s.outputBuffer("get_output_buffer", ioID)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

func (s *Slot) saveOutputToFile(ioID int32, path string) error {
	const op = "save_output_to_file"
	data, err := s.outputBuffer(op, ioID)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return ioError(op, s.handle, ioID, ErrIoWrite, err)
	}
	return nil
}

func (s *Slot) message(method string, payload []byte) (resp []byte, err error) {
	const op = "message"
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine panicked",
				"method", method,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = nil
			err = &Error{Op: op, Handle: s.handle, Kind: ErrMessage, Err: fmt.Errorf("engine panic: %v", r)}
		}
	}()

	resp, err = s.job.Message(method, payload, s)
	if err != nil {
		return nil, &Error{Op: op, Handle: s.handle, Kind: ErrMessage, Diagnostic: resp, Err: err}
	}
	markConfiguring(s)
	return resp, nil
}

// ReadInput implements engine.IO.
func (s *Slot) ReadInput(ioID int32) ([]byte, error) {
	in, ok := s.inputs[ioID]
	if !ok {
		return nil, fmt.Errorf("io_id %d is not a registered input", ioID)
	}
	if in.path == "" {
		return bytes.Clone(in.data), nil
	}
	data, err := os.ReadFile(in.path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return data, nil
}

// WriteOutput implements engine.IO.
func (s *Slot) WriteOutput(ioID int32, data []byte) error {
	out, ok := s.outputs[ioID]
	if !ok {
		return fmt.Errorf("io_id %d is not a registered output", ioID)
	}
	if out.path != "" {
		if err := writeFile(out.path, data); err != nil {
			return ioError("write_output", s.handle, ioID, ErrIoWrite, err)
		}
	}
	out.data = bytes.Clone(data)
	out.ready = true
	return nil
}

// release drops every attachment and frees the engine job.
func (s *Slot) release() error {
	markDestroyed(s)
	s.inputs = nil
	s.outputs = nil
	j := s.job
	s.job = nil
	if j == nil {
		return nil
	}
	return j.Release()
}

func writeFile(path string, data []byte) error {
	if path == "" {
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrInvalid}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
