// Package job implements the handle registry that callers use to drive
// engine jobs. A caller only ever holds a Handle; every operation resolves
// it through the Registry, which serializes table membership, while each
// Slot serializes the operations on its own engine job.
package job

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-imageflow/internal/engine"
)

// Handle is an opaque job identifier. Zero is never issued and handles are
// never reused within a process.
type Handle uint64

// Registry maps handles to slots. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	slots     map[Handle]*Slot
	next      Handle
	engine    engine.Engine
	logger    *slog.Logger
	observers []Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// NewRegistry creates an empty registry backed by eng.
func NewRegistry(eng engine.Engine, opts ...Option) *Registry {
	r := &Registry{
		slots:  make(map[Handle]*Slot),
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Version returns the engine version string.
func (r *Registry) Version() string {
	return r.engine.Version()
}

// Create allocates an engine job and returns its handle. Nothing is
// inserted when the engine cannot allocate.
func (r *Registry) Create() (Handle, error) {
	const op = "create"
	j, err := r.engine.NewJob()
	if err == nil && j == nil {
		err = errors.New("engine returned no job")
	}
	if err != nil {
		e := opError(op, 0, ErrCreation, err)
		r.logger.Warn("create job failed", "err", err)
		r.notify(Event{Type: EventFailed, Op: op, Err: e})
		return 0, e
	}

	s := newSlot(j, r.logger)

	r.mu.Lock()
	r.next++
	h := r.next
	s.handle = h
	s.logger = s.logger.With("handle", uint64(h))
	r.slots[h] = s
	r.mu.Unlock()

	s.logger.Debug("job created")
	r.notify(Event{Type: EventCreated, Handle: h, JobID: s.id, Op: op})
	return h, nil
}

// Destroy removes the handle, waits for in-flight operations on it, then
// releases the engine job. The handle is invalid afterwards even when the
// release itself fails.
func (r *Registry) Destroy(h Handle) error {
	const op = "destroy"
	r.mu.Lock()
	s, ok := r.slots[h]
	if ok {
		delete(r.slots, h)
	}
	r.mu.Unlock()

	if !ok {
		e := opError(op, h, ErrHandleNotFound, nil)
		r.notify(Event{Type: EventFailed, Handle: h, Op: op, Err: e})
		return e
	}

	start := time.Now()
	err := r.releaseSlot(s)
	r.notify(Event{Type: EventDestroyed, Handle: h, JobID: s.id, Op: op, Duration: time.Since(start)})
	if err != nil {
		e := opError(op, h, ErrDestroy, err)
		r.notify(Event{Type: EventFailed, Handle: h, JobID: s.id, Op: op, Err: e})
		return e
	}
	return nil
}

// Close destroys every live job. The registry stays usable.
func (r *Registry) Close() error {
	r.mu.Lock()
	slots := make([]*Slot, 0, len(r.slots))
	for h, s := range r.slots {
		slots = append(slots, s)
		delete(r.slots, h)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if err := r.releaseSlot(s); err != nil {
			errs = append(errs, opError("close", s.handle, ErrDestroy, err))
		}
		r.notify(Event{Type: EventDestroyed, Handle: s.handle, JobID: s.id, Op: "close"})
	}
	return errors.Join(errs...)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Handles returns the live handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.slots))
	for h := range r.slots {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	slices.Sort(handles)
	return handles
}

// AddInputBuffer copies data into the job as input ioID.
func (r *Registry) AddInputBuffer(h Handle, ioID int32, data []byte) error {
	return r.run("add_input_buffer", h, "", func(s *Slot) error {
		return s.addInputBuffer(ioID, data)
	})
}

// AddInputFile registers a readable file as input ioID.
func (r *Registry) AddInputFile(h Handle, ioID int32, path string) error {
	return r.run("add_input_file", h, "", func(s *Slot) error {
		return s.addInputFile(ioID, path)
	})
}

// AddOutputBuffer registers ioID as an in-memory output.
func (r *Registry) AddOutputBuffer(h Handle, ioID int32) error {
	return r.run("add_output_buffer", h, "", func(s *Slot) error {
		return s.addOutputBuffer(ioID)
	})
}

// AddOutputFile registers ioID as an output that is also written to path
// whenever the engine produces it.
func (r *Registry) AddOutputFile(h Handle, ioID int32, path string) error {
	return r.run("add_output_file", h, "", func(s *Slot) error {
		return s.addOutputFile(ioID, path)
	})
}

// GetOutputBuffer returns a copy of the bytes produced for output ioID.
func (r *Registry) GetOutputBuffer(h Handle, ioID int32) ([]byte, error) {
	var data []byte
	err := r.run("get_output_buffer", h, "", func(s *Slot) error {
		var err error
		data, err = s.getOutputBuffer(ioID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SaveOutputToFile writes the bytes produced for output ioID to path,
// creating or truncating it.
func (r *Registry) SaveOutputToFile(h Handle, ioID int32, path string) error {
	return r.run("save_output_to_file", h, "", func(s *Slot) error {
		return s.saveOutputToFile(ioID, path)
	})
}

// Message forwards method and payload to the engine job and relays its
// response. A failed message leaves the job usable.
func (r *Registry) Message(h Handle, method string, payload []byte) ([]byte, error) {
	var resp []byte
	err := r.run("message", h, method, func(s *Slot) error {
		var err error
		resp, err = s.message(method, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Registry) lookup(op string, h Handle) (*Slot, error) {
	r.mu.RLock()
	s, ok := r.slots[h]
	r.mu.RUnlock()
	if !ok {
		return nil, opError(op, h, ErrHandleNotFound, nil)
	}
	return s, nil
}

// run resolves h and executes fn under the slot lock. A slot destroyed
// between lookup and lock acquisition is reported as not found.
func (r *Registry) run(op string, h Handle, method string, fn func(*Slot) error) error {
	start := time.Now()
	var jobID uuid.UUID

	err := func() error {
		s, err := r.lookup(op, h)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		jobID = s.id
		if s.state.Terminal() {
			return opError(op, h, ErrHandleNotFound, nil)
		}
		return fn(s)
	}()

	elapsed := time.Since(start)
	if method != "" {
		r.notify(Event{Type: EventMessage, Handle: h, JobID: jobID, Op: op, Method: method, Err: err, Duration: elapsed})
	}
	if err != nil {
		r.logger.Debug("job operation failed", "op", op, "handle", uint64(h), "code", Code(err), "err", err)
		r.notify(Event{Type: EventFailed, Handle: h, JobID: jobID, Op: op, Method: method, Err: err, Duration: elapsed})
	}
	return err
}

func (r *Registry) releaseSlot(s *Slot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panic during release: %v", rec)
		}
		if err != nil {
			s.logger.Warn("release job failed", "err", err)
			return
		}
		s.logger.Debug("job destroyed", "age", time.Since(s.created))
	}()
	return s.release()
}

func (r *Registry) notify(e Event) {
	e.At = time.Now()
	for _, o := range r.observers {
		o.OnJobEvent(e)
	}
}
