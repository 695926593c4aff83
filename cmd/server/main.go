// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-photos/internal/bus"
	"github.com/tendant/simple-photos/internal/cleanup"
	"github.com/tendant/simple-photos/internal/config"
	"github.com/tendant/simple-photos/internal/events"
	"github.com/tendant/simple-photos/internal/httpapi"
	"github.com/tendant/simple-photos/internal/logging"
	"github.com/tendant/simple-photos/internal/metrics"
	"github.com/tendant/simple-photos/internal/objstore"
	"github.com/tendant/simple-photos/internal/queue"
	"github.com/tendant/simple-photos/internal/store"
	"github.com/tendant/simple-photos/internal/upload"
	"github.com/tendant/simple-photos/internal/worker"
)

// objectStore is what the server needs from a blob backend beyond the
// pipeline's own interface.
type objectStore interface {
	objstore.Store
	Ping(ctx context.Context) error
}

type depthQueue interface {
	queue.Queue
	Len() int
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("server starting",
		"http_addr", cfg.HTTPAddr,
		"metadata_backend", cfg.MetadataBackend,
		"storage_backend", cfg.StorageBackend,
		"queue_backend", cfg.QueueBackend,
		"workers", cfg.WorkerCount,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, closeStore := buildStore(ctx, cfg, logger)
	defer closeStore()

	objects := buildObjects(ctx, cfg, logger)

	var nc *bus.Client
	if cfg.UsesNATS() {
		nc, err = bus.Connect(cfg.NATSURL, "simple-photos", logger)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		defer nc.Close()
	}

	q := buildQueue(cfg, nc, logger)
	m.RegisterQueueDepth(func() float64 { return float64(q.Len()) })

	var pub events.Publisher = events.Nop{}
	if cfg.ResultSubject != "" {
		pub = events.NewNATS(nc, cfg.ResultSubject, logger)
		logger.Info("publishing lifecycle events", "subject", cfg.ResultSubject)
	}

	cleaner := cleanup.New(objects, m, logger)
	coordinator := upload.NewCoordinator(st, objects, q, cleaner, pub, m, logger)

	pool := worker.NewPool(worker.Config{
		Workers:            cfg.WorkerCount,
		RestartDelay:       cfg.WorkerRestartDelay,
		Tiers:              cfg.Tiers,
		VisibilityAttempts: cfg.VisibilityAttempts,
		VisibilityInterval: cfg.VisibilityInterval,
	}, worker.Deps{
		Queue:   q,
		Store:   st,
		Objects: objects,
		Cleaner: cleaner,
		Events:  pub,
		Metrics: m,
	}, logger)

	// The pool outlives the signal so it can drain the queue after Close.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(poolCtx)
	}()

	if cfg.SweepInterval > 0 {
		sweeper := cleanup.NewSweeper(objects, st, cleaner, cfg.SweepGrace, cfg.SweepInterval, m, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
		logger.Info("orphan sweeper enabled", "interval", cfg.SweepInterval, "grace", cfg.SweepGrace)
	}

	handler := httpapi.NewImageHandler(coordinator, st, objects, cfg.MaxUploadSize, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, readiness{st, objects}, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "http server", err, "addr", cfg.HTTPAddr)
		}
	}()
	logger.Info("listening", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if err := q.Close(); err != nil {
		logger.Error("close queue", "err", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not drain in time")
		cancelPool()
		<-done
	}
	logger.Info("server stopped")
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func()) {
	if cfg.MetadataBackend != config.BackendPostgres {
		logger.Warn("using in-memory metadata store; data is lost on restart")
		return store.NewMemory(), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "connect to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		fatal(logger, "ping postgres", err)
	}
	if err := store.Migrate(pool, logger); err != nil {
		fatal(logger, "migrate", err)
	}
	logger.Info("connected to postgres")
	return store.NewPostgres(pool), pool.Close
}

func buildObjects(ctx context.Context, cfg config.Config, logger *slog.Logger) objectStore {
	if cfg.StorageBackend != config.BackendS3 {
		logger.Warn("using in-memory object store; data is lost on restart")
		return objstore.NewMemory()
	}

	s3, err := objstore.NewS3(ctx, objstore.S3Options{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Endpoint:        cfg.S3.Endpoint,
		UsePathStyle:    cfg.S3.UsePathStyle,
		PresignTTL:      cfg.PresignTTL,
	}, logger)
	if err != nil {
		fatal(logger, "create s3 client", err)
	}
	if cfg.S3.CreateBucket {
		if err := s3.EnsureBucket(ctx); err != nil {
			fatal(logger, "ensure bucket", err, "bucket", cfg.S3.Bucket)
		}
	}
	logger.Info("s3 object store ready", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
	return s3
}

func buildQueue(cfg config.Config, nc *bus.Client, logger *slog.Logger) depthQueue {
	if cfg.QueueBackend != config.BackendNATS {
		return queue.NewMemory()
	}
	q, err := queue.NewNATS(nc, cfg.JobSubject, cfg.WorkerQueue, 0)
	if err != nil {
		fatal(logger, "subscribe job queue", err, "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	return q
}

type readiness struct {
	db      store.Store
	objects objectStore
}

func (r readiness) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return err
	}
	return r.objects.Ping(ctx)
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
