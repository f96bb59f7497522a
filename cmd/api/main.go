package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	_ "github.com/lib/pq" // postgres driver
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/api"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/config"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/destination"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/dispatch"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/email"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/metrics"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/store"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/templatedata"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text elsewhere.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port, "provider", cfg.Provider)

	// Root context cancelled by OS signal. Worker and servers all respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, queries, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	st := store.New(pool, queries)

	// Runs still sending well past the dispatch timeout belong to a process
	// that stopped mid-dispatch.
	stale, err := st.FailStaleRuns(ctx, 2*cfg.DispatchTimeout)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	for _, r := range stale {
		logger.Warn("dispatch run interrupted, marked failed",
			"run_id", r.ID,
			"template_id", r.TemplateID,
			"started_at", r.StartedAt.Time,
		)
	}

	// ── Mail provider ─────────────────────────────────────────────────────────
	sender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("mail provider: %w", err)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	templates := catalog.New(queries, cfg.TemplateCacheTTL)
	dispatcher := dispatch.New(sender, dispatch.Config{Pause: cfg.ChunkPause}, metrics.DispatchObserver{}, logger)
	svc := bulkmail.NewService(
		templates,
		destination.NewSelector(queries, logger),
		templatedata.NewBuilder(queries),
		dispatcher,
		st,
		logger,
	)

	// ── Worker ────────────────────────────────────────────────────────────────
	job := worker.NewJob(st.Q(), svc, logger)
	runner := worker.NewRunner(job, st.Q(), worker.RunnerConfig{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.DispatchTimeout,
	}, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		queries,
		svc,
		templates,
		runner, // *Runner satisfies worker.Enqueuer
		api.Config{Env: cfg.Env},
		logger,
	)
	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// A synchronous bulk send answers only after its last chunk.
		WriteTimeout: cfg.DispatchTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// ── gRPC health ───────────────────────────────────────────────────────────
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// ── Listener: gRPC and HTTP share one port ────────────────────────────────
	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := cmux.New(lis)
	grpcL := mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := mux.Match(cmux.Any())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Serve(grpcL); err != nil && !closed(err) && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(httpL); err != nil && !closed(err) && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", lis.Addr().String())
		if err := mux.Serve(); err != nil && !closed(err) {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		healthSrv.Shutdown()

		// Give in-flight HTTP requests up to 20 seconds to finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		grpcSrv.GracefulStop()
		_ = lis.Close()
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newSender builds the configured BulkSender.
func newSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.BulkSender, error) {
	format := email.FormatObject
	if cfg.IsLocal() {
		format = email.FormatNameValueList
	}

	if cfg.Provider == config.ProviderLog {
		logger.Info("email: using log sender, nothing will be delivered")
		return email.NewLogSender(format, logger), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger.Info("email: using SES", "region", cfg.AWSRegion, "endpoint", cfg.SESEndpoint)
	return email.NewSESSender(email.NewSESClient(awsCfg, cfg.SESEndpoint), email.SESConfig{
		FromAddr: cfg.MailFromAddr,
		FromName: cfg.MailFromName,
		BccAddr:  cfg.MailBccAddr,
		Format:   format,
	}, logger), nil
}

// closed reports whether err comes from a listener closed during shutdown.
func closed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed)
}

// openDB opens the connection pool and verifies it is reachable.
func openDB(ctx context.Context, dsn string) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return pool, db.New(pool), nil
}
