package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/graphdb/auth"
	"github.com/c360/graphdb/config"
	"github.com/c360/graphdb/engine"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/memstore"
	"github.com/c360/graphdb/graph/natskv"
	"github.com/c360/graphdb/graph/neo4jstore"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/natsclient"
	"github.com/c360/graphdb/schema"
)

// app holds what every command builds from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	token    auth.Provider
	engine   *engine.Engine
}

// newApp builds the token provider, the store and the engine. Backends are
// opened lazily on first use.
func newApp(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*app, error) {
	token, err := newTokenProvider(cfg.Auth)
	if err != nil {
		return nil, err
	}

	store, err := newStore(cfg, token, logger, registry.CoreMetrics())
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Dependencies{
		Store:   store,
		Token:   token,
		Logger:  logger.With("component", "engine"),
		Metrics: registry,
		Config: engine.Config{
			Concurrency:    cfg.Ingest.Concurrency,
			ResourceLabels: cfg.ACL.ResourceLabels,
			MaxHops:        cfg.Query.MaxHops,
		},
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: registry, token: token, engine: eng}, nil
}

func newTokenProvider(cfg config.AuthConfig) (auth.Provider, error) {
	switch cfg.Mode {
	case config.AuthStatic:
		return auth.NewCached(auth.Static(cfg.Token)), nil
	case config.AuthClientCredentials:
		cc, err := auth.NewClientCredentials(auth.ClientCredentialsConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
		})
		if err != nil {
			return nil, err
		}
		return auth.NewCached(cc), nil
	default:
		return nil, nil
	}
}

// fetchToken returns "" when no provider is configured.
func fetchToken(ctx context.Context, provider auth.Provider) (string, error) {
	if provider == nil {
		return "", nil
	}
	return provider.Token(ctx)
}

func newStore(cfg *config.Config, token auth.Provider, logger *slog.Logger, metrics *metric.Metrics) (graph.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(), nil

	case config.BackendNATS:
		return graph.NewLazyStore(func(ctx context.Context) (graph.Store, error) {
			bearer, err := fetchToken(ctx, token)
			if err != nil {
				return nil, err
			}
			client, err := connectNATS(ctx, cfg, bearer, logger.With("component", "natskv"), metrics)
			if err != nil {
				return nil, err
			}
			store, err := natskv.Open(ctx, client, natskv.BucketConfig(cfg.Store.Bucket, cfg.Store.Replicas),
				natskv.WithLogger(logger.With("component", "natskv")))
			if err != nil {
				_ = client.Close(ctx)
				return nil, err
			}
			return store, nil
		}), nil

	case config.BackendNeo4j:
		return graph.NewLazyStore(func(ctx context.Context) (graph.Store, error) {
			bearer, err := fetchToken(ctx, token)
			if err != nil {
				return nil, err
			}
			store, err := neo4jstore.Open(ctx, neo4jstore.Config{
				URI:      cfg.Store.Neo4j.URI,
				Username: cfg.Store.Neo4j.Username,
				Password: cfg.Store.Neo4j.Password,
				Token:    bearer,
				Database: cfg.Store.Neo4j.Database,
			}, neo4jstore.WithLogger(logger.With("component", "neo4jstore")))
			if err != nil {
				return nil, err
			}
			return store, nil
		}), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// connectNATS creates a client from the nats section and connects it. A
// token configured in the nats section wins over the bearer token.
func connectNATS(ctx context.Context, cfg *config.Config, bearer string, logger *slog.Logger, metrics *metric.Metrics) (*natsclient.Client, error) {
	nc := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
		natsclient.WithName(nc.Name),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait.Std()),
	}
	if nc.ConnectAttempts > 0 {
		opts = append(opts, natsclient.WithConnectAttempts(nc.ConnectAttempts))
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	case bearer != "":
		opts = append(opts, natsclient.WithToken(bearer))
	}
	if nc.TLS.CertFile != "" || nc.TLS.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(nc.TLS.CertFile, nc.TLS.KeyFile, nc.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// loadIndex loads path, falling back to index.path from configuration.
func (a *app) loadIndex(path string) (*schema.Index, error) {
	if path == "" {
		path = a.cfg.Index.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no index schema: pass --index or set index.path")
	}
	return schema.Load(path)
}

func (a *app) close(ctx context.Context) {
	if err := a.engine.Close(ctx); err != nil {
		a.logger.Warn("Failed to close store", "error", err)
	}
}
