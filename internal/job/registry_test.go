package job

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-imageflow/internal/img"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	r := NewRegistry(eng)
	t.Cleanup(func() { _ = r.Close() })
	return r, eng
}

func TestCopyScenario(t *testing.T) {
	r := NewRegistry(img.NewEngine(img.Options{}))

	h, err := r.Create()
	require.NoError(t, err)
	require.NoError(t, r.AddInputBuffer(h, 0, []byte("abc")))
	require.NoError(t, r.AddOutputBuffer(h, 1))

	_, err = r.Message(h, "copy", []byte(`{"from":0,"to":1}`))
	require.NoError(t, err)

	out, err := r.GetOutputBuffer(h, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)

	require.NoError(t, r.Destroy(h))

	_, err = r.GetOutputBuffer(h, 1)
	require.ErrorIs(t, err, ErrHandleNotFound)
}

func TestHandlesTrackCreateAndDestroy(t *testing.T) {
	r, _ := newTestRegistry(t)

	var handles []Handle
	for i := 0; i < 5; i++ {
		h, err := r.Create()
		require.NoError(t, err)
		require.NotZero(t, h)
		handles = append(handles, h)
	}
	require.NoError(t, r.Destroy(handles[1]))
	require.NoError(t, r.Destroy(handles[3]))

	assert.Equal(t, []Handle{handles[0], handles[2], handles[4]}, r.Handles())
	assert.Equal(t, 3, r.Len())

	next, err := r.Create()
	require.NoError(t, err)
	for _, h := range handles {
		assert.NotEqual(t, h, next, "destroyed handle identity was reused")
	}

	for _, h := range []Handle{handles[1], handles[3]} {
		require.ErrorIs(t, r.AddInputBuffer(h, 0, []byte("x")), ErrHandleNotFound)
		require.ErrorIs(t, r.AddOutputBuffer(h, 1), ErrHandleNotFound)
		_, err := r.Message(h, "noop", nil)
		require.ErrorIs(t, err, ErrHandleNotFound)
		require.ErrorIs(t, r.Destroy(h), ErrHandleNotFound)
	}
}

func TestUnknownHandle(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, h := range []Handle{0, 42} {
		_, err := r.GetOutputBuffer(h, 0)
		require.ErrorIs(t, err, ErrHandleNotFound)
		require.ErrorIs(t, r.SaveOutputToFile(h, 0, filepath.Join(t.TempDir(), "x")), ErrHandleNotFound)
		require.ErrorIs(t, r.Destroy(h), ErrHandleNotFound)
	}
}

func TestDuplicateIoID(t *testing.T) {
	r, _ := newTestRegistry(t)
	file := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	tests := []struct {
		name   string
		first  func(Handle) error
		second func(Handle) error
	}{
		{"input then input", func(h Handle) error { return r.AddInputBuffer(h, 7, nil) }, func(h Handle) error { return r.AddInputBuffer(h, 7, nil) }},
		{"input then output", func(h Handle) error { return r.AddInputBuffer(h, 7, nil) }, func(h Handle) error { return r.AddOutputBuffer(h, 7) }},
		{"output then output", func(h Handle) error { return r.AddOutputBuffer(h, 7) }, func(h Handle) error { return r.AddOutputBuffer(h, 7) }},
		{"output then input file", func(h Handle) error { return r.AddOutputBuffer(h, 7) }, func(h Handle) error { return r.AddInputFile(h, 7, file) }},
		{"input file then output file", func(h Handle) error { return r.AddInputFile(h, 7, file) }, func(h Handle) error {
			return r.AddOutputFile(h, 7, filepath.Join(t.TempDir(), "out"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := r.Create()
			require.NoError(t, err)
			require.NoError(t, tt.first(h))
			require.ErrorIs(t, tt.second(h), ErrDuplicateIoID)
		})
	}
}

func TestIoIDsAreScopedPerSlot(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.Create()
	require.NoError(t, err)
	b, err := r.Create()
	require.NoError(t, err)

	require.NoError(t, r.AddInputBuffer(a, 0, []byte("a")))
	require.NoError(t, r.AddInputBuffer(b, 0, []byte("b")))
	require.NoError(t, r.AddOutputBuffer(a, 1))
	require.NoError(t, r.AddOutputBuffer(b, 1))

	_, err = r.Message(a, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)
	_, err = r.Message(b, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)

	outA, err := r.GetOutputBuffer(a, 1)
	require.NoError(t, err)
	outB, err := r.GetOutputBuffer(b, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", string(outA))
	assert.Equal(t, "b", string(outB))
}

func TestGetOutputBufferErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	require.NoError(t, r.AddInputBuffer(h, 0, []byte("abc")))
	require.NoError(t, r.AddOutputBuffer(h, 1))

	_, err = r.GetOutputBuffer(h, 0)
	require.ErrorIs(t, err, ErrOutputNotFound, "an input id is not an output")

	_, err = r.GetOutputBuffer(h, 9)
	require.ErrorIs(t, err, ErrOutputNotFound)

	_, err = r.GetOutputBuffer(h, 1)
	require.ErrorIs(t, err, ErrOutputNotReady)

	require.ErrorIs(t, r.SaveOutputToFile(h, 1, filepath.Join(t.TempDir(), "out")), ErrOutputNotReady)
	require.ErrorIs(t, r.SaveOutputToFile(h, 0, filepath.Join(t.TempDir(), "out")), ErrOutputNotFound)
}

func TestBuffersAreCopied(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	src := []byte("abc")
	require.NoError(t, r.AddInputBuffer(h, 0, src))
	src[0] = 'X'

	require.NoError(t, r.AddOutputBuffer(h, 1))
	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)

	out, err := r.GetOutputBuffer(h, 1)
	require.NoError(t, err)
	require.Equal(t, "abc", string(out))

	out[0] = 'Y'
	again, err := r.GetOutputBuffer(h, 1)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestInputReadsAreCopied(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)
	require.NoError(t, r.AddInputBuffer(h, 0, []byte("abc")))
	require.NoError(t, r.AddOutputBuffer(h, 1))

	_, err = r.Message(h, "scribble", []byte(`{"From":0}`))
	require.NoError(t, err)

	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)
	out, err := r.GetOutputBuffer(h, 1)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out), "engine writes must not reach the stored input")
}

func TestCreateFailureInsertsNothing(t *testing.T) {
	eng := &fakeEngine{failCreate: errors.New("out of memory")}
	r := NewRegistry(eng)

	h, err := r.Create()
	require.ErrorIs(t, err, ErrCreation)
	assert.Zero(t, h)
	assert.Zero(t, r.Len())
	assert.Equal(t, "creation_error", Code(err))
}

func TestDestroyFailureStillInvalidatesHandle(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRegistry(eng)

	h, err := r.Create()
	require.NoError(t, err)
	keep, err := r.Create()
	require.NoError(t, err)

	eng.failRelease = errors.New("teardown failed")
	err = r.Destroy(h)
	require.ErrorIs(t, err, ErrDestroy)
	assert.Equal(t, "destroy_error", Code(err))

	require.ErrorIs(t, r.Destroy(h), ErrHandleNotFound)
	require.ErrorIs(t, r.AddOutputBuffer(h, 0), ErrHandleNotFound)

	eng.failRelease = nil
	require.NoError(t, r.AddOutputBuffer(keep, 0), "registry stays usable for other handles")
	require.NoError(t, r.Destroy(keep))
	assert.Zero(t, eng.live())
}

func TestFailedMessageKeepsSlotUsable(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)
	require.NoError(t, r.AddInputBuffer(h, 0, []byte("abc")))
	require.NoError(t, r.AddOutputBuffer(h, 1))

	resp, err := r.Message(h, "fail", []byte(`{}`))
	require.ErrorIs(t, err, ErrMessage)
	assert.Nil(t, resp)
	diag, ok := Diagnostic(err)
	require.True(t, ok)
	assert.JSONEq(t, `{"success":false,"message":"engine says no"}`, string(diag))

	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)
}

func TestEnginePanicIsRecovered(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	_, err = r.Message(h, "panic", nil)
	require.ErrorIs(t, err, ErrMessage)
	assert.Contains(t, err.Error(), "engine exploded")

	_, err = r.Message(h, "noop", nil)
	require.NoError(t, err)
}

func TestAttachPanicIsRecovered(t *testing.T) {
	r, eng := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	err = r.AddInputBuffer(h, panicIoID, []byte("x"))
	require.ErrorIs(t, err, ErrAttach)
	assert.Contains(t, err.Error(), "attach exploded")
	require.ErrorIs(t, r.AddOutputBuffer(h, panicIoID), ErrAttach)

	_, err = r.GetOutputBuffer(h, panicIoID)
	require.ErrorIs(t, err, ErrOutputNotFound, "panicked attachment must not be recorded")

	require.NoError(t, r.AddOutputBuffer(h, 1))
	require.NoError(t, r.Destroy(h))
	assert.Zero(t, eng.misuse.Load())
	assert.Zero(t, eng.live())
}

func TestAttachRejection(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	require.ErrorIs(t, r.AddInputBuffer(h, -1, []byte("x")), ErrAttach)
	require.ErrorIs(t, r.AddOutputBuffer(h, -1), ErrAttach)

	_, err = r.GetOutputBuffer(h, -1)
	require.ErrorIs(t, err, ErrOutputNotFound, "rejected attachment must not be recorded")
}

func TestAddInputFile(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	dir := t.TempDir()
	require.ErrorIs(t, r.AddInputFile(h, 0, ""), ErrInvalidPath)
	require.ErrorIs(t, r.AddInputFile(h, 0, filepath.Join(dir, "missing.png")), ErrInvalidPath)
	require.ErrorIs(t, r.AddInputFile(h, 0, dir), ErrInvalidPath)

	file := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(file, []byte("from disk"), 0o644))
	require.NoError(t, r.AddInputFile(h, 0, file))
	require.NoError(t, r.AddOutputBuffer(h, 1))

	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)
	out, err := r.GetOutputBuffer(h, 1)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(out))
}

func TestOutputFiles(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	dir := t.TempDir()
	require.ErrorIs(t, r.AddOutputFile(h, 1, ""), ErrInvalidPath)
	require.ErrorIs(t, r.AddOutputFile(h, 1, dir), ErrInvalidPath)

	target := filepath.Join(dir, "nested", "out.bin")
	require.NoError(t, r.AddInputBuffer(h, 0, []byte("payload")))
	require.NoError(t, r.AddOutputFile(h, 1, target))

	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.NoError(t, err)

	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))

	saved := filepath.Join(dir, "copy", "saved.bin")
	require.NoError(t, r.SaveOutputToFile(h, 1, saved))
	written, err = os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))

	err = r.SaveOutputToFile(h, 1, dir)
	require.ErrorIs(t, err, ErrIoWrite)
	assert.Equal(t, "io_write_error", Code(err))
}

func TestOutputFileWriteFailureFailsMessage(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, err := r.Create()
	require.NoError(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	require.NoError(t, r.AddInputBuffer(h, 0, []byte("payload")))
	require.NoError(t, r.AddOutputFile(h, 1, filepath.Join(blocker, "out.bin")))

	_, err = r.Message(h, "copy", []byte(`{"From":0,"To":1}`))
	require.ErrorIs(t, err, ErrMessage)
	require.ErrorIs(t, err, ErrIoWrite)
	assert.Equal(t, "message_error", Code(err))

	_, err = r.GetOutputBuffer(h, 1)
	require.ErrorIs(t, err, ErrOutputNotReady)
}

func TestCloseReleasesEverything(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRegistry(eng)

	var handles []Handle
	for i := 0; i < 4; i++ {
		h, err := r.Create()
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, r.Close())
	assert.Zero(t, r.Len())
	assert.Zero(t, eng.live())
	for _, h := range handles {
		require.ErrorIs(t, r.Destroy(h), ErrHandleNotFound)
	}

	h, err := r.Create()
	require.NoError(t, err)
	assert.Greater(t, h, handles[len(handles)-1])
}

func TestObserverEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	r := NewRegistry(&fakeEngine{}, WithObserver(ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})))

	h, err := r.Create()
	require.NoError(t, err)
	_, err = r.Message(h, "noop", nil)
	require.NoError(t, err)
	_, err = r.GetOutputBuffer(h, 3)
	require.Error(t, err)
	require.NoError(t, r.Destroy(h))

	mu.Lock()
	defer mu.Unlock()
	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
		assert.Equal(t, h, e.Handle)
	}
	assert.Equal(t, []EventType{EventCreated, EventMessage, EventFailed, EventDestroyed}, types)
	assert.Equal(t, "noop", events[1].Method)
	assert.Equal(t, "get_output_buffer", events[2].Op)
}

func TestVersion(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Equal(t, "fake 1.0", r.Version())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "internal", Code(errors.New("boom")))
	assert.Equal(t, "handle_not_found", Code(opError("destroy", 1, ErrHandleNotFound, nil)))
	assert.Equal(t, "duplicate_io_id", Code(ioError("add_input_buffer", 1, 2, ErrDuplicateIoID, nil)))

	err := ioError("get_output_buffer", 3, 4, ErrOutputNotReady, nil)
	assert.Equal(t, "get_output_buffer handle=3 io_id=4: output not ready", err.Error())
}
