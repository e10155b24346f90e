// pkg/schema/wire.go
package schema

import "encoding/json"

// Request is the body of every request on the job subjects. Only the
// fields an operation needs are read.
type Request struct {
	Handle  uint64          `json:"handle,omitempty"`
	IoID    int32           `json:"io_id"`
	Data    []byte          `json:"data,omitempty"`
	Path    string          `json:"path,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Reply struct {
	OK       bool            `json:"ok"`
	Handle   uint64          `json:"handle,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Version  string          `json:"version,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Diagnostic json.RawMessage `json:"diagnostic,omitempty"`
}

type JobEventType string

const (
	JobCreated   JobEventType = "created"
	JobDestroyed JobEventType = "destroyed"
	JobFailed    JobEventType = "failed"
)

// JobEvent is published on the events subject as jobs come and go.
type JobEvent struct {
	Type       JobEventType `json:"type"`
	Handle     uint64       `json:"handle,omitempty"`
	JobID      string       `json:"job_id,omitempty"`
	Op         string       `json:"op"`
	Method     string       `json:"method,omitempty"`
	Code       string       `json:"code,omitempty"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms,omitempty"`
	HappenedAt int64        `json:"happened_at"`
}
