package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphdb/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Connection states
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

var statusNames = map[ConnectionStatus]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
}

// String returns the status name
func (s ConnectionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Client errors
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrClientClosed = stderrors.New("NATS client closed")
)

// Each subscription handler gets a context bounded by this timeout.
const handlerTimeout = 30 * time.Second

// Client manages one NATS connection and the JetStream resources built on it.
type Client struct {
	url string
	cfg settings

	status atomic.Int32
	closed atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	consumersMu sync.Mutex
	consumers   map[string]jetstream.ConsumeContext

	closeMu sync.Mutex
}

// NewClient creates a client for url, which may list several servers
// separated by commas. It does not dial; call Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("url is required"), "Client", "NewClient", "validate url")
	}
	c := &Client{
		url:       url,
		cfg:       defaultSettings(),
		consumers: make(map[string]jetstream.ConsumeContext),
	}
	for _, opt := range opts {
		if err := opt(&c.cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the server URL the client connects to
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(int32(status))
	c.cfg.metrics.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy reports whether the connection is established
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// GetConnection returns the underlying NATS connection
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) connectionOptions() []nats.Option {
	return append(c.cfg.natsOptions(),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(c.onAsyncError),
	)
}

// Connect dials with exponential backoff up to the configured number of
// attempts. Authorization failures are not retried.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.setStatus(StatusConnecting)
	c.cfg.logger.Info("Connecting to NATS", "url", c.url)

	opts := c.connectionOptions()
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		conn, err := c.dial(ctx, opts)
		if err != nil && (stderrors.Is(err, nats.ErrAuthorization) || stderrors.Is(err, nats.ErrAuthExpired)) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.cfg.logger.Warn("NATS connect failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn, c.js = conn, js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.cfg.logger.Info("Connected to NATS", "url", conn.ConnectedUrlRedacted())
	return nil
}

// dial runs nats.Connect in a goroutine so ctx can abandon it. A connection
// that completes after ctx ended is closed.
func (c *Client) dial(ctx context.Context, opts []nats.Option) (*nats.Conn, error) {
	type dialed struct {
		conn *nats.Conn
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		ch <- dialed{conn, err}
	}()

	select {
	case d := <-ch:
		return d.conn, d.err
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.conn != nil {
				d.conn.Close()
			}
		}()
		return nil, backoff.Permanent(ctx.Err())
	}
}

// WaitForConnection blocks until the client is connected or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops consumers and subscriptions, then drains the connection within
// the drain timeout or the context deadline, whichever comes first. Stored
// credentials are cleared. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}

	c.stopConsumers()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drain(ctx, c.conn); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn, c.js = nil, nil
	}

	c.cfg.creds = credentials{}
	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	timeout := c.cfg.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain")
	}
}

func (c *Client) connected() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Publish publishes a message to a NATS subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Request sends data on subject and waits for one reply until ctx ends. No
// responders is transient since a responder may be restarting.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	msg, err := conn.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	default:
		return nil, errors.Wrap(err, "Client", "Request", "request "+subject)
	}
}

// Subscribe subscribes handler to subject. A non-empty queue joins a queue
// group so that replicas share the traffic. Each call of handler receives a
// context derived from ctx.
func (c *Client) Subscribe(ctx context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	cb := func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		handler(msgCtx, msg)
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return errors.Wrap(err, "Client", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.cfg.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.cfg.metrics.RecordNATSReconnect()
	c.cfg.logger.Info("NATS reconnected", "url", conn.ConnectedUrlRedacted())
}

func (c *Client) onClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.cfg.logger.Debug("NATS connection closed")
}

func (c *Client) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.cfg.logger.Error("NATS async error", "subject", subject, "error", err)
}
