// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-photos/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendNATS     = "nats"
)

type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	CreateBucket    bool
}

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	MetadataBackend string
	DatabaseURL     string

	StorageBackend string
	S3             S3Config
	PresignTTL     time.Duration

	QueueBackend  string
	NATSURL       string
	JobSubject    string
	WorkerQueue   string
	ResultSubject string

	WorkerCount        int
	WorkerRestartDelay time.Duration
	VisibilityAttempts int
	VisibilityInterval time.Duration
	Tiers              []domain.TierSpec

	MaxUploadSize int64
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

// Load reads the environment. Callers run godotenv first when a .env file
// should be honoured.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
		MetadataBackend: getenv("METADATA_BACKEND", BackendMemory),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		StorageBackend:  getenv("STORAGE_BACKEND", BackendMemory),
		S3: S3Config{
			Bucket:          getenv("AWS_S3_BUCKET", "photos"),
			Region:          getenv("AWS_S3_REGION", "us-east-1"),
			AccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getenv("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getenvBool("AWS_S3_USE_PATH_STYLE", true),
			CreateBucket:    getenvBool("AWS_S3_CREATE_BUCKET", false),
		},
		QueueBackend:  getenv("QUEUE_BACKEND", BackendMemory),
		NATSURL:       getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:    getenv("JOB_SUBJECT", "photos.jobs"),
		WorkerQueue:   getenv("WORKER_QUEUE", "photo-workers"),
		ResultSubject: getenv("RESULT_SUBJECT", ""),
	}

	var err error
	if cfg.PresignTTL, err = parsePositiveDuration(getenv("PRESIGN_TTL", "10m"), "PRESIGN_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = parsePositiveInt(getenv("WORKER_COUNT", "4"), "WORKER_COUNT"); err != nil {
		return Config{}, err
	}
	if cfg.WorkerRestartDelay, err = parsePositiveDuration(getenv("WORKER_RESTART_DELAY", "5s"), "WORKER_RESTART_DELAY"); err != nil {
		return Config{}, err
	}
	if cfg.VisibilityAttempts, err = parsePositiveInt(getenv("VISIBILITY_ATTEMPTS", "20"), "VISIBILITY_ATTEMPTS"); err != nil {
		return Config{}, err
	}
	if cfg.VisibilityInterval, err = parsePositiveDuration(getenv("VISIBILITY_INTERVAL", "250ms"), "VISIBILITY_INTERVAL"); err != nil {
		return Config{}, err
	}
	size, err := parsePositiveInt(getenv("MAX_UPLOAD_SIZE", "52428800"), "MAX_UPLOAD_SIZE")
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadSize = int64(size)
	if cfg.SweepInterval, err = parseDuration(getenv("SWEEP_INTERVAL", "0"), "SWEEP_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.SweepGrace, err = parsePositiveDuration(getenv("SWEEP_GRACE", "1h"), "SWEEP_GRACE"); err != nil {
		return Config{}, err
	}

	medium, err := parseQuality(getenv("MEDIUM_QUALITY", "80"), "MEDIUM_QUALITY")
	if err != nil {
		return Config{}, err
	}
	small, err := parseQuality(getenv("SMALL_QUALITY", "80"), "SMALL_QUALITY")
	if err != nil {
		return Config{}, err
	}
	cfg.Tiers = domain.DefaultTierSpecs(medium, small)

	// VARIANT_TIERS overrides both qualities and divisors, e.g. "medium:2:80,small:4:75".
	if tiersEnv := getenv("VARIANT_TIERS", ""); tiersEnv != "" {
		tiers, err := parseTierSpecs(tiersEnv)
		if err != nil {
			return Config{}, fmt.Errorf("parse VARIANT_TIERS: %w", err)
		}
		cfg.Tiers = tiers
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.MetadataBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when METADATA_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unsupported METADATA_BACKEND %q", c.MetadataBackend)
	}

	switch c.StorageBackend {
	case BackendMemory:
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("AWS_S3_BUCKET is required when STORAGE_BACKEND=%s", BackendS3)
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.QueueBackend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}
	return nil
}

// UsesNATS reports whether any component needs a NATS connection.
func (c Config) UsesNATS() bool {
	return c.QueueBackend == BackendNATS || c.ResultSubject != ""
}

func parseTierSpecs(value string) ([]domain.TierSpec, error) {
	var specs []domain.TierSpec
	seen := make(map[domain.Tier]bool)

	for _, entry := range strings.Split(value, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid tier format '%s', expected 'name:divisor:quality'", entry)
		}

		tier := domain.Tier(strings.TrimSpace(parts[0]))
		if tier != domain.TierMedium && tier != domain.TierSmall {
			return nil, fmt.Errorf("unknown tier '%s'", tier)
		}
		if seen[tier] {
			return nil, fmt.Errorf("tier '%s' listed twice", tier)
		}
		seen[tier] = true

		divisor, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || divisor <= 0 {
			return nil, fmt.Errorf("invalid divisor in '%s'", entry)
		}
		quality, err := parseQuality(strings.TrimSpace(parts[2]), string(tier))
		if err != nil {
			return nil, err
		}

		specs = append(specs, domain.TierSpec{Tier: tier, Divisor: divisor, Quality: quality})
	}

	for _, tier := range domain.DerivedTiers {
		if !seen[tier] {
			return nil, fmt.Errorf("tier '%s' missing", tier)
		}
	}
	return specs, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseQuality(value string, name string) (int, error) {
	v, err := parsePositiveInt(value, name)
	if err != nil {
		return 0, err
	}
	if v > 100 {
		return 0, fmt.Errorf("%s must be at most 100 (got %d)", name, v)
	}
	return v, nil
}

func parseDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %s)", name, d)
	}
	return d, nil
}

func parsePositiveDuration(value string, name string) (time.Duration, error) {
	d, err := parseDuration(value, name)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}
	return d, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}
