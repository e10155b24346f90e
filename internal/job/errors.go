package job

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrHandleNotFound = errors.New("handle not found")
	ErrCreation       = errors.New("job creation failed")
	ErrDestroy        = errors.New("job destroy failed")
	ErrDuplicateIoID  = errors.New("io id already registered")
	ErrAttach         = errors.New("engine rejected attachment")
	ErrInvalidPath    = errors.New("invalid path")
	ErrIoWrite        = errors.New("output write failed")
	ErrOutputNotFound = errors.New("output not found")
	ErrOutputNotReady = errors.New("output not ready")
	ErrMessage        = errors.New("message failed")
)

var codes = []struct {
	kind error
	code string
}{
	{ErrHandleNotFound, "handle_not_found"},
	{ErrCreation, "creation_error"},
	{ErrDestroy, "destroy_error"},
	{ErrDuplicateIoID, "duplicate_io_id"},
	{ErrAttach, "attach_error"},
	{ErrInvalidPath, "invalid_path"},
	{ErrOutputNotFound, "output_not_found"},
	{ErrOutputNotReady, "output_not_ready"},
	{ErrMessage, "message_error"},
	{ErrIoWrite, "io_write_error"},
}

// Error describes a failed registry operation.
type Error struct {
	Op     string
	Handle Handle
	IoID   int32
	HasIo  bool
	Kind   error
	// Diagnostic is the engine's payload for failed messages.
	Diagnostic []byte
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle=%d", e.Handle)
	}
	if e.HasIo {
		fmt.Fprintf(&b, " io_id=%d", e.IoID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code maps an error to its stable wire code. Message failures win over
// the write failures they may wrap. Unknown errors map to "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		for _, c := range codes {
			if e.Kind == c.kind {
				return c.code
			}
		}
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal"
}

// KindForCode returns the sentinel behind a wire code, or nil when the code
// is not one of ours.
func KindForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.kind
		}
	}
	return nil
}

// Diagnostic returns the engine payload attached to a failed message.
func Diagnostic(err error) ([]byte, bool) {
	var e *Error
	if errors.As(err, &e) && e.Diagnostic != nil {
		return e.Diagnostic, true
	}
	return nil, false
}

func opError(op string, h Handle, kind, cause error) *Error {
	return &Error{Op: op, Handle: h, Kind: kind, Err: cause}
}

func ioError(op string, h Handle, ioID int32, kind, cause error) *Error {
	return &Error{Op: op, Handle: h, IoID: ioID, HasIo: true, Kind: kind, Err: cause}
}
