package service

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

func (c *NATSConfig) setDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// NATSTransport binds a unit on a NATS connection.
// All workers of a unit share the queue group named after the unit, so the
// broker delivers each request on the topic to exactly one of them.
// The per-host subject reaches every worker on that host.
type NATSTransport struct {
	config NATSConfig
	logger logging.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{}
}

func NewNATSTransport(config NATSConfig, logger logging.Logger) *NATSTransport {
	config.setDefaults()
	return &NATSTransport{
		config: config,
		logger: logger,
	}
}

func (t *NATSTransport) Bind(ctx context.Context, unit Unit, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return errors.NewValidationError("transport already bound", nil).WithContext("unit", unit.String())
	}

	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(unit.String()),
		nats.MaxReconnects(t.config.MaxReconnects),
		nats.ReconnectWait(t.config.ReconnectWait),
		nats.Timeout(t.config.Timeout),
		nats.PingInterval(t.config.PingInterval),
		nats.MaxPingsOutstanding(3),
		nats.DrainTimeout(t.config.DrainTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.logger.Infof("Reconnected to NATS, url: %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				t.logger.Warnf("Disconnected from NATS, error: %v", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			close(closed)
		}),
	}

	conn, err := nats.Connect(t.config.URL, opts...)
	if err != nil {
		return errors.NewIOError("failed to connect to NATS", err).WithContext("url", t.config.URL)
	}

	// Requests in flight must survive cancellation of the serving context,
	// Close drains them.
	reqCtx := context.WithoutCancel(ctx)
	cb := func(msg *nats.Msg) {
		resp, err := handler.Handle(reqCtx, Request{Subject: msg.Subject, Data: msg.Data})
		if err != nil {
			t.logger.Warnf("Request failed, subject: %s, error: %v", msg.Subject, err)
			resp = encodeError(err)
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(resp); err != nil {
			t.logger.Warnf("Failed to respond, subject: %s, error: %v", msg.Subject, err)
		}
	}

	queueSub, err := conn.QueueSubscribe(unit.Topic, unit.Name, cb)
	if err != nil {
		conn.Close()
		return errors.NewIOError("failed to subscribe to topic", err).WithContext("topic", unit.Topic)
	}
	hostSub, err := conn.Subscribe(unit.HostAddress(), cb)
	if err != nil {
		conn.Close()
		return errors.NewIOError("failed to subscribe to host address", err).WithContext("subject", unit.HostAddress())
	}
	if err := conn.FlushTimeout(t.config.Timeout); err != nil {
		conn.Close()
		return errors.NewIOError("failed to flush subscriptions", err)
	}

	t.conn = conn
	t.subs = []*nats.Subscription{queueSub, hostSub}
	t.closed = closed

	t.logger.Infof("Listening on NATS, url: %s, topic: %s, queue: %s, host subject: %s",
		conn.ConnectedUrl(), unit.Topic, unit.Name, unit.HostAddress())
	return nil
}

// Close drains the connection: subscriptions stop receiving, pending
// messages are handled and responses flushed before the connection closes.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.conn, t.subs, t.closed = nil, nil, nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.NewIOError("failed to drain NATS connection", err)
	}

	select {
	case <-closed:
		return nil
	case <-time.After(t.config.DrainTimeout + time.Second):
		conn.Close()
		return errors.NewTimeoutError("NATS drain did not complete", nil)
	}
}
