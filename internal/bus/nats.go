// Package bus wraps the NATS connection shared by the job queue, the event
// publisher and the backfill tool.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct{ nc *nats.Conn }

func Connect(url, name string, log *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{nc: nc}, nil
}

// Close drains pending publishes and subscriptions before disconnecting.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// QueueSubscribe delivers each message on subject to one member of group.
// Messages land on ch; the caller owns draining it.
func (c *Client) QueueSubscribe(subject, group string, ch chan *nats.Msg) (*nats.Subscription, error) {
	sub, err := c.nc.ChanQueueSubscribe(subject, group, ch)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s/%s: %w", subject, group, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush(timeout time.Duration) error {
	return c.nc.FlushTimeout(timeout)
}
