package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/graphdb/health"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/natsclient"
	"github.com/c360/graphdb/service"
)

func newServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest consumer, query responder and metrics server",
		Long: `serve connects to NATS, consumes documents and ACLs from the ingest stream,
answers query requests and exposes /metrics and /health until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *cliOptions) error {
	cfg, logger := opts.cfg, opts.logger
	registry := metric.NewMetricsRegistry()

	a, err := newApp(cfg, logger, registry)
	if err != nil {
		return err
	}

	logger.Info("Starting graphdb",
		"version", Version,
		"build_time", BuildTime,
		"backend", cfg.Store.Backend,
		"nats", cfg.NATS.URLs)

	bearer, err := fetchToken(ctx, a.token)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	client, err := connectNATS(ctx, cfg, bearer, logger.With("component", "natsclient"), registry.CoreMetrics())
	if err != nil {
		return err
	}

	natsHealth := func() error {
		if !client.IsHealthy() {
			return natsclient.ErrNotConnected
		}
		return nil
	}
	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(natsHealth),
	}

	var consumer *service.IngestConsumer
	if cfg.Ingest.Enabled {
		idx, err := a.loadIndex("")
		if err != nil {
			_ = client.Close(context.Background())
			return err
		}
		consumer, err = service.NewIngestConsumer(client, a.engine, idx, service.IngestConfig{
			Stream:      cfg.Ingest.Stream,
			Subjects:    cfg.Ingest.Subjects,
			Durable:     cfg.Ingest.Durable,
			AckWait:     cfg.Ingest.AckWait.Std(),
			MaxDeliver:  cfg.Ingest.MaxDeliver,
			Workers:     cfg.Ingest.Workers,
			QueueSize:   cfg.Ingest.QueueSize,
			MaxAttempts: cfg.Ingest.MaxAttempts,
		}, svcOpts...)
		if err != nil {
			_ = client.Close(context.Background())
			return err
		}
	}

	var responder *service.QueryResponder
	if cfg.Query.Enabled {
		responder, err = service.NewQueryResponder(client, a.engine, cfg.Query.Subject, cfg.Query.Queue, svcOpts...)
		if err != nil {
			_ = client.Close(context.Background())
			return err
		}
		responder.SetRateLimit(cfg.Query.RateLimit, cfg.Query.RateBurst)
	}

	healthy := func() health.Status {
		statuses := []health.Status{health.FromError("nats", natsHealth())}
		if consumer != nil {
			statuses = append(statuses, consumer.Health())
		}
		if responder != nil {
			statuses = append(statuses, responder.Health())
		}
		return health.Aggregate(appName, statuses)
	}

	g, gctx := errgroup.WithContext(ctx)

	if consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			_ = client.Close(context.Background())
			return fmt.Errorf("start ingest consumer: %w", err)
		}
	}
	if responder != nil {
		if err := responder.Start(gctx); err != nil {
			_ = client.Close(context.Background())
			return fmt.Errorf("start query responder: %w", err)
		}
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, healthy)
		g.Go(server.Start)
		logger.Info("Metrics server listening", "address", server.Address())
	}

	logger.Info("graphdb started")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown(a, client, consumer, responder, server)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("graphdb shutdown complete")
	return nil
}

// shutdown stops intake first, then closes transports and the store.
func shutdown(a *app, client *natsclient.Client, consumer *service.IngestConsumer,
	responder *service.QueryResponder, server *metric.Server) error {
	timeout := a.cfg.ShutdownTimeout.Std()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if responder != nil {
		responder.Stop()
	}
	if consumer != nil {
		if err := consumer.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop ingest consumer: %w", err))
		}
	}
	if server != nil {
		if err := server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if err := client.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close NATS: %w", err))
	}
	a.close(ctx)
	return errors.Join(errs...)
}
