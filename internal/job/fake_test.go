package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tendant/simple-imageflow/internal/engine"
)

// fakeEngine records allocations and detects use after release.
type fakeEngine struct {
	failCreate  error
	failRelease error
	created     atomic.Int64
	released    atomic.Int64
	misuse      atomic.Int64
}

func (e *fakeEngine) NewJob() (engine.Job, error) {
	if e.failCreate != nil {
		return nil, e.failCreate
	}
	e.created.Add(1)
	return &fakeJob{engine: e, attached: map[int32]engine.Direction{}}, nil
}

func (e *fakeEngine) Version() string { return "fake 1.0" }

func (e *fakeEngine) live() int64 { return e.created.Load() - e.released.Load() }

// panicIoID makes fakeJob.Attach panic.
const panicIoID int32 = 666

type fakeJob struct {
	engine   *fakeEngine
	mu       sync.Mutex
	busy     bool
	attached map[int32]engine.Direction
	released bool
}

// enter flags concurrent or post-release calls, which the registry must
// never allow.
func (j *fakeJob) enter() func() {
	j.mu.Lock()
	if j.busy || j.released {
		j.engine.misuse.Add(1)
	}
	j.busy = true
	j.mu.Unlock()
	return func() {
		j.mu.Lock()
		j.busy = false
		j.mu.Unlock()
	}
}

func (j *fakeJob) Attach(ioID int32, dir engine.Direction) error {
	defer j.enter()()
	if ioID == panicIoID {
		panic("attach exploded")
	}
	if ioID < 0 {
		return fmt.Errorf("negative io id %d", ioID)
	}
	j.attached[ioID] = dir
	return nil
}

func (j *fakeJob) Message(method string, payload []byte, io engine.IO) ([]byte, error) {
	defer j.enter()()
	switch method {
	case "copy":
		var req struct{ From, To int32 }
		if err := json.Unmarshal(payload, &req); err != nil {
			return []byte(`{"success":false,"message":"bad payload"}`), err
		}
		data, err := io.ReadInput(req.From)
		if err != nil {
			return []byte(`{"success":false}`), err
		}
		if err := io.WriteOutput(req.To, data); err != nil {
			return []byte(`{"success":false}`), err
		}
		return []byte(`{"success":true}`), nil
	case "scribble":
		var req struct{ From int32 }
		if err := json.Unmarshal(payload, &req); err != nil {
			return []byte(`{"success":false,"message":"bad payload"}`), err
		}
		data, err := io.ReadInput(req.From)
		if err != nil {
			return []byte(`{"success":false}`), err
		}
		for i := range data {
			data[i] = 'X'
		}
		return []byte(`{"success":true}`), nil
	case "noop":
		return []byte(`{}`), nil
	case "fail":
		return []byte(`{"success":false,"message":"engine says no"}`), errors.New("engine says no")
	case "panic":
		panic("engine exploded")
	default:
		return []byte(`{"success":false}`), fmt.Errorf("unknown method %s", method)
	}
}

func (j *fakeJob) Release() error {
	defer j.enter()()
	j.mu.Lock()
	j.released = true
	j.mu.Unlock()
	j.engine.released.Add(1)
	return j.engine.failRelease
}
