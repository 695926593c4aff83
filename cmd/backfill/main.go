// cmd/backfill/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-photos/internal/bus"
	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/logging"
	"github.com/tendant/simple-photos/internal/store"
)

type config struct {
	DatabaseURL string
	NATSURL     string
	JobSubject  string
	Tiers       string
	Limit       int
	DryRun      bool
	AccountID   string
	Pause       time.Duration
}

func main() {
	_ = godotenv.Load()

	logger := logging.New(os.Stdout, getenv("LOG_FORMAT", "text"), getenv("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	cfg := loadConfig()
	logger.Info("backfill starting",
		"nats_url", cfg.NATSURL,
		"job_subject", cfg.JobSubject,
		"tiers", cfg.Tiers,
		"limit", cfg.Limit,
		"dry_run", cfg.DryRun,
		"account_id", cfg.AccountID,
	)

	if cfg.DatabaseURL == "" {
		fatal(logger, "load config", fmt.Errorf("DATABASE_URL is required"))
	}
	tiers, err := parseTiers(cfg.Tiers)
	if err != nil {
		fatal(logger, "parse tiers", err, "tiers", cfg.Tiers)
	}
	var account uuid.UUID
	if cfg.AccountID != "" {
		if account, err = uuid.Parse(cfg.AccountID); err != nil {
			fatal(logger, "parse account id", err, "account_id", cfg.AccountID)
		}
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "connect to database", err)
	}
	defer pool.Close()
	st := store.NewPostgres(pool)
	logger.Info("connected to database")

	// Connect to NATS (skip if dry-run)
	var nc *bus.Client
	if !cfg.DryRun {
		nc, err = bus.Connect(cfg.NATSURL, "simple-photos-backfill", logger)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	}

	logger.Info("scanning for images missing variants...")
	jobs, err := st.ImagesMissingTiers(ctx, tiers, cfg.Limit)
	if err != nil {
		fatal(logger, "scan failed", err)
	}

	var published, skippedAccount, failed int
	for _, job := range jobs {
		if account != uuid.Nil && job.AccountID != account {
			skippedAccount++
			continue
		}
		if cfg.DryRun {
			logger.Info("would publish job", "image_id", job.ImageID, "account_id", job.AccountID)
			continue
		}
		if err := nc.PublishJSON(cfg.JobSubject, job); err != nil {
			failed++
			logger.Error("publish job", "image_id", job.ImageID, "err", err)
			continue
		}
		published++
		logger.Info("published job", "image_id", job.ImageID, "jobs_published", published)

		// Small delay to avoid overwhelming the workers
		time.Sleep(cfg.Pause)
	}

	if nc != nil {
		if err := nc.Flush(5 * time.Second); err != nil {
			logger.Error("flush NATS", "err", err)
		}
	}

	logger.Info("backfill complete",
		"total_found", len(jobs),
		"jobs_published", published,
		"skipped_account", skippedAccount,
		"failed", failed,
		"dry_run", cfg.DryRun,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenv("DATABASE_URL", ""),
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:  getenv("JOB_SUBJECT", "photos.jobs"),
		AccountID:   getenv("BACKFILL_ACCOUNT_ID", ""),
	}

	flag.StringVar(&cfg.Tiers, "tiers", "medium,small", "Comma-separated tiers an image must have")
	flag.IntVar(&cfg.Limit, "limit", 1000, "Maximum number of images to enqueue")
	flag.BoolVar(&cfg.DryRun, "dry-run", true, "Show what would be processed without publishing jobs")
	flag.StringVar(&cfg.AccountID, "account-id", cfg.AccountID, "Filter by account ID (empty = all accounts)")
	flag.DurationVar(&cfg.Pause, "pause", 10*time.Millisecond, "Delay between published jobs")

	var execute bool
	flag.BoolVar(&execute, "execute", false, "Actually publish jobs (disables dry-run)")
	flag.Parse()

	if execute {
		cfg.DryRun = false
	}
	return cfg
}

func parseTiers(value string) ([]domain.Tier, error) {
	var tiers []domain.Tier
	for _, part := range strings.Split(value, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		tier, err := domain.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if tier == domain.TierOriginal {
			return nil, fmt.Errorf("tier %q is never derived", name)
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no tiers given")
	}
	return tiers, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
