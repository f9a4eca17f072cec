package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/graphdb/metric"
)

// ClientOption configures a Client.
type ClientOption func(*settings) error

type credentials struct {
	username string
	password string
	token    string
}

// settings holds everything NewClient's options configure.
type settings struct {
	name            string
	maxReconnects   int
	reconnectWait   time.Duration
	timeout         time.Duration
	drainTimeout    time.Duration
	connectAttempts uint

	creds                     credentials
	tlsCert, tlsKey, tlsRoots string

	logger  *slog.Logger
	metrics *metric.Metrics
}

func defaultSettings() settings {
	return settings{
		maxReconnects:   -1,
		reconnectWait:   2 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    30 * time.Second,
		connectAttempts: 1,
		logger:          slog.Default(),
	}
}

// natsOptions translates the settings into nats.Connect options. Handlers
// are added by the Client.
func (s *settings) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(s.reconnectWait),
		nats.Timeout(s.timeout),
		nats.DrainTimeout(s.drainTimeout),
	}
	if s.name != "" {
		opts = append(opts, nats.Name(s.name))
	}
	if s.creds.username != "" && s.creds.password != "" {
		opts = append(opts, nats.UserInfo(s.creds.username, s.creds.password))
	}
	if s.creds.token != "" {
		opts = append(opts, nats.Token(s.creds.token))
	}
	if s.tlsCert != "" {
		opts = append(opts, nats.ClientCert(s.tlsCert, s.tlsKey))
	}
	if s.tlsRoots != "" {
		opts = append(opts, nats.RootCAs(s.tlsRoots))
	}
	return opts
}

// WithName identifies the connection on the server.
func WithName(name string) ClientOption {
	return func(s *settings) error {
		s.name = name
		return nil
	}
}

// WithMaxReconnects bounds reconnects after the first connection; -1 retries
// forever.
func WithMaxReconnects(n int) ClientOption {
	return func(s *settings) error {
		s.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout of a single connect attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.timeout = d
		return nil
	}
}

// WithConnectAttempts bounds how many times Connect dials before giving up.
func WithConnectAttempts(n uint) ClientOption {
	return func(s *settings) error {
		if n == 0 {
			return fmt.Errorf("connect attempts must be positive")
		}
		s.connectAttempts = n
		return nil
	}
}

// WithLogger sets the logger; nil keeps slog.Default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection status and reconnects.
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(s *settings) error {
		s.metrics = metrics
		return nil
	}
}

// WithCredentials authenticates with a username and password.
func WithCredentials(username, password string) ClientOption {
	return func(s *settings) error {
		s.creds.username = username
		s.creds.password = password
		return nil
	}
}

// WithToken authenticates with a token, such as the bearer token obtained
// for the graph service.
func WithToken(token string) ClientOption {
	return func(s *settings) error {
		s.creds.token = token
		return nil
	}
}

// WithTLS presents a client certificate and trusts the roots in caFile.
// Either part may be empty, but cert and key go together.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(s *settings) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("tls cert and key must be set together")
		}
		s.tlsCert, s.tlsKey, s.tlsRoots = certFile, keyFile, caFile
		return nil
	}
}
