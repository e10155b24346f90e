// internal/bus/nats.go
package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func Connect(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("imageflow-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, logger: logger}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Respond queue-subscribes handler on subject and publishes its return value
// to the request's reply inbox. Messages without a reply subject are
// handled and the result dropped.
func (c *Client) Respond(subject, queue string, handler func(data []byte) []byte) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("respond failed", "subject", subject, "err", err)
		}
	})
}

// RequestJSON sends v on subject and decodes the reply into out.
func (c *Client) RequestJSON(subject string, v, out any, timeout time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := c.nc.Request(subject, b, timeout)
	if err != nil {
		return err
	}
	return json.Unmarshal(msg.Data, out)
}
