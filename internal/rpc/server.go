// Package rpc exposes a job registry over NATS request/reply. Each registry
// operation has its own subject under a common prefix and every request and
// reply is a JSON document from pkg/schema.
package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

// Operation names, also the last token of each subject.
const (
	OpCreate           = "create"
	OpDestroy          = "destroy"
	OpAddInputBuffer   = "add_input_buffer"
	OpAddInputFile     = "add_input_file"
	OpAddOutputBuffer  = "add_output_buffer"
	OpAddOutputFile    = "add_output_file"
	OpGetOutputBuffer  = "get_output_buffer"
	OpSaveOutputToFile = "save_output_to_file"
	OpMessage          = "message"
	OpVersion          = "version"
)

// Ops lists every operation served.
var Ops = []string{
	OpCreate, OpDestroy,
	OpAddInputBuffer, OpAddInputFile, OpAddOutputBuffer, OpAddOutputFile,
	OpGetOutputBuffer, OpSaveOutputToFile,
	OpMessage, OpVersion,
}

const (
	codeBadRequest = "bad_request"
	codeUnknownOp  = "unknown_operation"
	codeInternal   = "internal"

	eventsToken = "events"
)

// Responder is the part of the bus the server needs.
type Responder interface {
	Respond(subject, queue string, handler func(data []byte) []byte) (*nats.Subscription, error)
}

type Server struct {
	reg    *job.Registry
	prefix string
	logger *slog.Logger
}

func NewServer(reg *job.Registry, prefix string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, prefix: prefix, logger: logger.With("component", "rpc")}
}

// Subject returns the subject op is served on.
func Subject(prefix, op string) string { return prefix + "." + op }

// EventsSubject returns the subject lifecycle events are published on.
func EventsSubject(prefix string) string { return Subject(prefix, eventsToken) }

// Subscribe serves every operation on b within queue group queue.
func (s *Server) Subscribe(b Responder, queue string) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(Ops))
	for _, op := range Ops {
		sub, err := b.Respond(Subject(s.prefix, op), queue, func(data []byte) []byte {
			return s.Dispatch(op, data)
		})
		if err != nil {
			for _, prev := range subs {
				_ = prev.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", op, err)
		}
		subs = append(subs, sub)
	}
	s.logger.Info("serving job operations", "prefix", s.prefix, "queue", queue, "ops", len(subs))
	return subs, nil
}

// Dispatch decodes a request for op, runs it against the registry and
// returns the encoded reply. It never fails; errors travel in the reply.
func (s *Server) Dispatch(op string, data []byte) []byte {
	var req schema.Request
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return s.encode(op, errorReply(codeBadRequest, fmt.Sprintf("decode request: %v", err), nil))
		}
	}

	h := job.Handle(req.Handle)
	var (
		rep schema.Reply
		err error
	)
	switch op {
	case OpCreate:
		h, err = s.reg.Create()
		rep.Handle = uint64(h)
	case OpDestroy:
		err = s.reg.Destroy(h)
	case OpAddInputBuffer:
		err = s.reg.AddInputBuffer(h, req.IoID, req.Data)
	case OpAddInputFile:
		err = s.reg.AddInputFile(h, req.IoID, req.Path)
	case OpAddOutputBuffer:
		err = s.reg.AddOutputBuffer(h, req.IoID)
	case OpAddOutputFile:
		err = s.reg.AddOutputFile(h, req.IoID, req.Path)
	case OpGetOutputBuffer:
		rep.Data, err = s.reg.GetOutputBuffer(h, req.IoID)
	case OpSaveOutputToFile:
		err = s.reg.SaveOutputToFile(h, req.IoID, req.Path)
	case OpMessage:
		var resp []byte
		resp, err = s.reg.Message(h, req.Method, req.Payload)
		rep.Response = rawJSON(resp)
	case OpVersion:
		rep.Version = s.reg.Version()
	default:
		return s.encode(op, errorReply(codeUnknownOp, fmt.Sprintf("unknown operation %q", op), nil))
	}

	if err != nil {
		diag, _ := job.Diagnostic(err)
		return s.encode(op, errorReply(job.Code(err), err.Error(), diag))
	}
	rep.OK = true
	return s.encode(op, rep)
}

func (s *Server) encode(op string, rep schema.Reply) []byte {
	b, err := json.Marshal(rep)
	if err != nil {
		s.logger.Error("encode reply", "op", op, "err", err)
		b, _ = json.Marshal(errorReply(codeInternal, "encode reply failed", nil))
	}
	return b
}

func errorReply(code, msg string, diag []byte) schema.Reply {
	return schema.Reply{Error: &schema.ErrorBody{Code: code, Message: msg, Diagnostic: rawJSON(diag)}}
}

// rawJSON passes valid JSON through and quotes anything else as a string.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	q, _ := json.Marshal(string(b))
	return q
}
