package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/internal/rpc"
)

// runner is the job surface flowctl needs from either transport.
type runner interface {
	Version() (string, error)
	Create() (uint64, error)
	Destroy(h uint64) error
	AddInput(h uint64, ioID int32, path string) error
	AddOutput(h uint64, ioID int32) error
	Message(h uint64, method string, payload []byte) ([]byte, error)
	SaveOutput(h uint64, ioID int32, path string) error
}

// localRunner reads and writes files from inside the registry.
type localRunner struct{ reg *job.Registry }

func (l localRunner) Version() (string, error) { return l.reg.Version(), nil }

func (l localRunner) Create() (uint64, error) {
	h, err := l.reg.Create()
	return uint64(h), err
}

func (l localRunner) Destroy(h uint64) error { return l.reg.Destroy(job.Handle(h)) }

func (l localRunner) AddInput(h uint64, ioID int32, path string) error {
	return l.reg.AddInputFile(job.Handle(h), ioID, path)
}

func (l localRunner) AddOutput(h uint64, ioID int32) error {
	return l.reg.AddOutputBuffer(job.Handle(h), ioID)
}

func (l localRunner) Message(h uint64, method string, payload []byte) ([]byte, error) {
	return l.reg.Message(job.Handle(h), method, payload)
}

func (l localRunner) SaveOutput(h uint64, ioID int32, path string) error {
	return l.reg.SaveOutputToFile(job.Handle(h), ioID, path)
}

// remoteRunner ships file contents as buffers since the worker may not
// share a filesystem with the caller.
type remoteRunner struct{ c *rpc.Client }

func (r remoteRunner) Version() (string, error) { return r.c.Version() }

func (r remoteRunner) Create() (uint64, error) { return r.c.Create() }

func (r remoteRunner) Destroy(h uint64) error { return r.c.Destroy(h) }

func (r remoteRunner) AddInput(h uint64, ioID int32, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return r.c.AddInputBuffer(h, ioID, data)
}

func (r remoteRunner) AddOutput(h uint64, ioID int32) error { return r.c.AddOutputBuffer(h, ioID) }

func (r remoteRunner) Message(h uint64, method string, payload []byte) ([]byte, error) {
	return r.c.Message(h, method, payload)
}

func (r remoteRunner) SaveOutput(h uint64, ioID int32, path string) error {
	data, err := r.c.GetOutputBuffer(h, ioID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
