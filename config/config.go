package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAPHDB_"

// Store backends
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendNeo4j  = "neo4j"
)

// Auth modes
const (
	AuthNone              = "none"
	AuthStatic            = "static"
	AuthClientCredentials = "client_credentials"
)

// Duration is a time.Duration written as "30s" in JSON and environment values.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete service configuration.
type Config struct {
	Log     LogConfig     `json:"log" envPrefix:"LOG_"`
	Store   StoreConfig   `json:"store" envPrefix:"STORE_"`
	NATS    NATSConfig    `json:"nats" envPrefix:"NATS_"`
	Auth    AuthConfig    `json:"auth" envPrefix:"AUTH_"`
	Index   IndexConfig   `json:"index" envPrefix:"INDEX_"`
	Ingest  IngestConfig  `json:"ingest" envPrefix:"INGEST_"`
	ACL     ACLConfig     `json:"acl" envPrefix:"ACL_"`
	Query   QueryConfig   `json:"query" envPrefix:"QUERY_"`
	Metrics MetricsConfig `json:"metrics" envPrefix:"METRICS_"`

	ShutdownTimeout Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" env:"LEVEL"`
	Format string `json:"format" env:"FORMAT"`
}

// StoreConfig selects and configures the graph backend
type StoreConfig struct {
	Backend  string      `json:"backend" env:"BACKEND"`
	Bucket   string      `json:"bucket" env:"BUCKET"`
	Replicas int         `json:"replicas" env:"REPLICAS"`
	Neo4j    Neo4jConfig `json:"neo4j" envPrefix:"NEO4J_"`
}

// Neo4jConfig holds Neo4j connection settings
type Neo4jConfig struct {
	URI      string `json:"uri" env:"URI"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password,omitempty" env:"PASSWORD"`
	Database string `json:"database" env:"DATABASE"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URLs            []string `json:"urls" env:"URLS"`
	Username        string   `json:"username,omitempty" env:"USERNAME"`
	Password        string   `json:"password,omitempty" env:"PASSWORD"`
	Token           string   `json:"token,omitempty" env:"TOKEN"`
	Name            string   `json:"name" env:"NAME"`
	MaxReconnects   int      `json:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait   Duration `json:"reconnect_wait" env:"RECONNECT_WAIT"`
	ConnectAttempts uint     `json:"connect_attempts" env:"CONNECT_ATTEMPTS"`
	TLS             TLSFiles `json:"tls" envPrefix:"TLS_"`
}

// TLSFiles names client certificate material
type TLSFiles struct {
	CertFile string `json:"cert_file,omitempty" env:"CERT_FILE"`
	KeyFile  string `json:"key_file,omitempty" env:"KEY_FILE"`
	CAFile   string `json:"ca_file,omitempty" env:"CA_FILE"`
}

// AuthConfig selects how the bearer token for backends is obtained
type AuthConfig struct {
	Mode         string   `json:"mode" env:"MODE"`
	Token        string   `json:"token,omitempty" env:"TOKEN"`
	TokenURL     string   `json:"token_url,omitempty" env:"TOKEN_URL"`
	ClientID     string   `json:"client_id,omitempty" env:"CLIENT_ID"`
	ClientSecret string   `json:"client_secret,omitempty" env:"CLIENT_SECRET"`
	Scopes       []string `json:"scopes,omitempty" env:"SCOPES"`
}

// IndexConfig locates the index schema
type IndexConfig struct {
	Path string `json:"path" env:"PATH"`
}

// IngestConfig configures the ingest consumer
type IngestConfig struct {
	Enabled     bool     `json:"enabled" env:"ENABLED"`
	Workers     int      `json:"workers" env:"WORKERS"`
	QueueSize   int      `json:"queue_size" env:"QUEUE_SIZE"`
	Concurrency int      `json:"concurrency" env:"CONCURRENCY"`
	MaxAttempts uint     `json:"max_attempts" env:"MAX_ATTEMPTS"`
	Stream      string   `json:"stream" env:"STREAM"`
	Subjects    []string `json:"subjects" env:"SUBJECTS"`
	Durable     string   `json:"durable" env:"DURABLE"`
	AckWait     Duration `json:"ack_wait" env:"ACK_WAIT"`
	MaxDeliver  int      `json:"max_deliver" env:"MAX_DELIVER"`
}

// ACLConfig configures the ACL model
type ACLConfig struct {
	ResourceLabels []string `json:"resource_labels" env:"RESOURCE_LABELS"`
}

// QueryConfig configures the query responder
type QueryConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	MaxHops int    `json:"max_hops" env:"MAX_HOPS"`
	Subject string `json:"subject" env:"SUBJECT"`
	Queue   string `json:"queue" env:"QUEUE"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `json:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `json:"rate_burst" env:"RATE_BURST"`
}

// MetricsConfig configures the metrics and health server
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Port    int    `json:"port" env:"PORT"`
	Path    string `json:"path" env:"PATH"`
}

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Backend:  BackendMemory,
			Bucket:   "GRAPH",
			Replicas: 1,
			Neo4j:    Neo4jConfig{URI: "neo4j://localhost:7687", Username: "neo4j"},
		},
		NATS: NATSConfig{
			URLs:            []string{"nats://localhost:4222"},
			Name:            "graphdb",
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			ConnectAttempts: 5,
		},
		Auth: AuthConfig{Mode: AuthNone},
		Ingest: IngestConfig{
			Enabled:     true,
			Workers:     4,
			QueueSize:   256,
			Concurrency: 8,
			MaxAttempts: 5,
			Stream:      "GRAPH_INGEST",
			Subjects:    []string{"graph.ingest.>"},
			Durable:     "graphdb-ingest",
			AckWait:     Duration(time.Minute),
			MaxDeliver:  5,
		},
		ACL: ACLConfig{ResourceLabels: []string{"Grid"}},
		Query: QueryConfig{
			Enabled: true,
			MaxHops: 10,
			Subject:   "graph.query",
			Queue:     "graphdb-query",
			RateLimit: 100,
			RateBurst: 10,
		},
		Metrics:         MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		ShutdownTimeout: Duration(30 * time.Second),
	}
}

// Load reads path over the defaults, then applies GRAPHDB_* environment
// overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the GRAPHDB_* variables that are set.
func ApplyEnv(cfg *Config) error {
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if err := checkEnvVar(key, value); err != nil {
			return err
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendNATS:
		if len(c.NATS.URLs) == 0 {
			errs = append(errs, errors.New("nats.urls is required for the nats backend"))
		}
		if !isValidNATSSubjectPart(c.Store.Bucket) || strings.Contains(c.Store.Bucket, ".") {
			errs = append(errs, fmt.Errorf("store.bucket %q is not a valid bucket name", c.Store.Bucket))
		}
	case BackendNeo4j:
		if c.Store.Neo4j.URI == "" {
			errs = append(errs, errors.New("store.neo4j.uri is required for the neo4j backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be memory, nats or neo4j, got %q", c.Store.Backend))
	}

	switch c.Auth.Mode {
	case AuthNone, "":
	case AuthStatic:
		if c.Auth.Token == "" {
			errs = append(errs, errors.New("auth.token is required for static auth"))
		}
	case AuthClientCredentials:
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			errs = append(errs, errors.New("auth.token_url and auth.client_id are required for client_credentials"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode must be none, static or client_credentials, got %q", c.Auth.Mode))
	}

	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be positive"))
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, errors.New("ingest.queue_size must be positive"))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, errors.New("ingest.concurrency must be positive"))
	}
	if c.Ingest.MaxAttempts < 1 {
		errs = append(errs, errors.New("ingest.max_attempts must be positive"))
	}
	if !isValidNATSSubjectPart(c.Ingest.Stream) || strings.Contains(c.Ingest.Stream, ".") {
		errs = append(errs, fmt.Errorf("ingest.stream %q is not a valid stream name", c.Ingest.Stream))
	}
	if len(c.Ingest.Subjects) == 0 {
		errs = append(errs, errors.New("ingest.subjects must not be empty"))
	}
	for _, s := range c.Ingest.Subjects {
		if !isValidSubject(s) {
			errs = append(errs, fmt.Errorf("ingest subject %q is invalid", s))
		}
	}

	if c.Query.MaxHops < 1 {
		errs = append(errs, errors.New("query.max_hops must be positive"))
	}
	if c.Query.RateLimit < 0 {
		errs = append(errs, errors.New("query.rate_limit must not be negative"))
	}
	if c.Query.RateLimit > 0 && c.Query.RateBurst < 1 {
		errs = append(errs, errors.New("query.rate_burst must be positive when rate_limit is set"))
	}
	if !isValidSubject(c.Query.Subject) {
		errs = append(errs, fmt.Errorf("query.subject %q is invalid", c.Query.Subject))
	}
	if len(c.ACL.ResourceLabels) == 0 {
		errs = append(errs, errors.New("acl.resource_labels must not be empty"))
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port))
	}

	return errors.Join(errs...)
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// isValidSubject accepts dotted tokens where a token may be * or a final >.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	tokens := strings.Split(s, ".")
	for i, tok := range tokens {
		switch {
		case tok == "*":
		case tok == ">":
			if i != len(tokens)-1 {
				return false
			}
		case !isValidNATSSubjectPart(tok):
			return false
		}
	}
	return true
}

// Redacted returns a copy with secrets masked, for logging.
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	cp.NATS.Password = mask(c.NATS.Password)
	cp.NATS.Token = mask(c.NATS.Token)
	cp.Store.Neo4j.Password = mask(c.Store.Neo4j.Password)
	cp.Auth.Token = mask(c.Auth.Token)
	cp.Auth.ClientSecret = mask(c.Auth.ClientSecret)
	return &cp
}

// String returns a JSON representation with secrets masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
