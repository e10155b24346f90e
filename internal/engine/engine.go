// Package engine defines the contract between the job registry and the
// image-processing engine it drives. The registry never interprets engine
// messages; it only attaches I/O, relays method/payload pairs and releases
// jobs.
package engine

// Direction tells the engine which way an attached io id flows.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Engine allocates jobs.
type Engine interface {
	// NewJob allocates a fresh job. It fails when the engine is out of
	// resources or has been shut down.
	NewJob() (Job, error)

	// Version returns a one-line version string.
	Version() string
}

// Job is a single stateful engine job. Implementations are not required to
// be safe for concurrent use; the registry serializes every call per job.
type Job interface {
	// Attach registers an io id with the engine before any data flows.
	Attach(ioID int32, dir Direction) error

	// Message runs one instruction against the job. On failure the returned
	// bytes are the engine's diagnostic payload and err is non-nil.
	Message(method string, payload []byte, io IO) ([]byte, error)

	// Release frees everything the job holds. Called exactly once.
	Release() error
}

// IO gives a running message access to the job's attachments.
type IO interface {
	// ReadInput returns the bytes attached to an input io id.
	ReadInput(ioID int32) ([]byte, error)

	// WriteOutput stores the bytes produced for an output io id.
	WriteOutput(ioID int32, data []byte) error
}
