package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

// Requester is the part of the bus the client needs.
type Requester interface {
	RequestJSON(subject string, v, out any, timeout time.Duration) error
}

// RemoteError is a failure reported by a worker. It matches the job
// package sentinels with errors.Is.
type RemoteError struct {
	Op         string
	Code       string
	Message    string
	Diagnostic json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *RemoteError) Is(target error) bool {
	kind := job.KindForCode(e.Code)
	return kind != nil && kind == target
}

// Client drives a remote registry through a Server.
type Client struct {
	r       Requester
	prefix  string
	timeout time.Duration
}

func NewClient(r Requester, prefix string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{r: r, prefix: prefix, timeout: timeout}
}

func (c *Client) call(op string, req schema.Request) (schema.Reply, error) {
	var rep schema.Reply
	if err := c.r.RequestJSON(Subject(c.prefix, op), req, &rep, c.timeout); err != nil {
		return schema.Reply{}, fmt.Errorf("%s: %w", op, err)
	}
	if !rep.OK {
		if rep.Error == nil {
			return rep, &RemoteError{Op: op, Code: codeInternal, Message: "reply without result"}
		}
		return rep, &RemoteError{Op: op, Code: rep.Error.Code, Message: rep.Error.Message, Diagnostic: rep.Error.Diagnostic}
	}
	return rep, nil
}

func (c *Client) Create() (uint64, error) {
	rep, err := c.call(OpCreate, schema.Request{})
	return rep.Handle, err
}

func (c *Client) Destroy(h uint64) error {
	_, err := c.call(OpDestroy, schema.Request{Handle: h})
	return err
}

func (c *Client) AddInputBuffer(h uint64, ioID int32, data []byte) error {
	_, err := c.call(OpAddInputBuffer, schema.Request{Handle: h, IoID: ioID, Data: data})
	return err
}

func (c *Client) AddInputFile(h uint64, ioID int32, path string) error {
	_, err := c.call(OpAddInputFile, schema.Request{Handle: h, IoID: ioID, Path: path})
	return err
}

func (c *Client) AddOutputBuffer(h uint64, ioID int32) error {
	_, err := c.call(OpAddOutputBuffer, schema.Request{Handle: h, IoID: ioID})
	return err
}

func (c *Client) AddOutputFile(h uint64, ioID int32, path string) error {
	_, err := c.call(OpAddOutputFile, schema.Request{Handle: h, IoID: ioID, Path: path})
	return err
}

func (c *Client) GetOutputBuffer(h uint64, ioID int32) ([]byte, error) {
	rep, err := c.call(OpGetOutputBuffer, schema.Request{Handle: h, IoID: ioID})
	if err != nil {
		return nil, err
	}
	return rep.Data, nil
}

func (c *Client) SaveOutputToFile(h uint64, ioID int32, path string) error {
	_, err := c.call(OpSaveOutputToFile, schema.Request{Handle: h, IoID: ioID, Path: path})
	return err
}

// Message returns the engine response. On failure the engine's diagnostic
// is available from the *RemoteError.
func (c *Client) Message(h uint64, method string, payload []byte) ([]byte, error) {
	rep, err := c.call(OpMessage, schema.Request{Handle: h, Method: method, Payload: payload})
	if err != nil {
		return nil, err
	}
	return rep.Response, nil
}

func (c *Client) Version() (string, error) {
	rep, err := c.call(OpVersion, schema.Request{})
	return rep.Version, err
}
