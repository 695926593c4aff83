// Package upload accepts new photos: it stores the original blob, records the
// image and its original variant, and hands a job to the worker pool.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/cleanup"
	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/events"
	"github.com/tendant/simple-photos/internal/img"
	"github.com/tendant/simple-photos/internal/metrics"
	"github.com/tendant/simple-photos/internal/objstore"
	"github.com/tendant/simple-photos/internal/queue"
	"github.com/tendant/simple-photos/internal/store"
	"github.com/tendant/simple-photos/pkg/schema"
)

// OriginalQuality is recorded for the untouched original.
const OriginalQuality = 100

// Request is one multipart upload after transport decoding.
type Request struct {
	Account      domain.Account
	Filename     string
	LastModified string
	Data         []byte
}

func (r Request) validate() error {
	switch {
	case r.Account.ID == uuid.Nil:
		return fmt.Errorf("%w: missing account", domain.ErrInvalidInput)
	case strings.TrimSpace(r.Filename) == "":
		return fmt.Errorf("%w: missing filename", domain.ErrInvalidInput)
	case strings.TrimSpace(r.LastModified) == "":
		return fmt.Errorf("%w: missing last_modified", domain.ErrInvalidInput)
	case len(r.Data) == 0:
		return fmt.Errorf("%w: missing image data", domain.ErrInvalidInput)
	}
	return nil
}

type Coordinator struct {
	store   store.Store
	objects objstore.Store
	queue   queue.Queue
	cleaner *cleanup.Cleaner
	events  events.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
	log     *slog.Logger
}

func NewCoordinator(st store.Store, objects objstore.Store, q queue.Queue, cleaner *cleanup.Cleaner, pub events.Publisher, m *metrics.Metrics, log *slog.Logger) *Coordinator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Coordinator{
		store:   st,
		objects: objects,
		queue:   q,
		cleaner: cleaner,
		events:  pub,
		metrics: m,
		now:     time.Now,
		log:     log,
	}
}

// Upload runs the whole ingestion saga. The blob is written before any row
// references it, and the rows commit only after the job is enqueued; every
// failure after the blob write deletes the blob again.
func (c *Coordinator) Upload(ctx context.Context, req Request) (*domain.Image, error) {
	image, err := c.upload(ctx, req)
	switch {
	case err == nil:
		c.metrics.Upload("accepted")
	case errors.Is(err, domain.ErrDuplicate):
		c.metrics.Upload("duplicate")
	case errors.Is(err, domain.ErrInvalidInput):
		c.metrics.Upload("rejected")
	default:
		c.metrics.Upload("failed")
	}
	return image, err
}

func (c *Coordinator) upload(ctx context.Context, req Request) (*domain.Image, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	log := c.log.With("account_id", req.Account.ID, "filename", req.Filename)

	// Step 1: decode and read capture metadata
	contentType, ok := img.ContentType(req.Data)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, contentType)
	}
	src, err := img.Decode(req.Data)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	capture, err := img.ExtractMetadata(req.Data)
	if err != nil {
		log.Warn("exif unreadable, continuing without it", "err", err)
	}
	capturedAt := c.captureTime(capture.TakenAt, req.LastModified, log)

	// Step 2: duplicate guard
	if _, err := c.store.FindImageByFilename(ctx, req.Account.ID, req.Filename); err == nil {
		return nil, fmt.Errorf("%s: %w", req.Filename, domain.ErrDuplicate)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	// Step 3: original blob
	key := domain.NewObjectKey()
	if err := c.objects.Put(ctx, key, req.Data, contentType); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	log = log.With("object_key", key)

	// Step 4: rows, job, commit
	image := &domain.Image{
		ID:          domain.NewID(),
		AccountID:   req.Account.ID,
		Filename:    req.Filename,
		CapturedAt:  capturedAt,
		AspectRatio: domain.AspectRatio(bounds.Dx(), bounds.Dy()),
		Metadata:    capture.Fields,
	}
	if err := c.persist(ctx, image, key, bounds.Dx(), bounds.Dy()); err != nil {
		c.compensate(ctx, log, key)
		return nil, err
	}

	log.Info("upload accepted", "image_id", image.ID, "width", bounds.Dx(), "height", bounds.Dy(), "captured_at", capturedAt)
	c.events.ImageAccepted(schema.ImageAccepted{
		ImageID:    image.ID.String(),
		AccountID:  image.AccountID.String(),
		Filename:   image.Filename,
		ObjectKey:  key,
		CapturedAt: image.CapturedAt.Unix(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		HappenedAt: c.now().Unix(),
	})
	return image, nil
}

func (c *Coordinator) persist(ctx context.Context, image *domain.Image, key string, width, height int) (err error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				c.log.Warn("rollback failed", "image_id", image.ID, "err", rbErr)
			}
		}
	}()

	if err := tx.InsertImage(ctx, image); err != nil {
		return err
	}
	original := &domain.Variant{
		ID:                 domain.NewID(),
		ImageID:            image.ID,
		ObjectKey:          key,
		Width:              width,
		Height:             height,
		CompressionQuality: OriginalQuality,
		Tier:               domain.TierOriginal,
		Version:            1,
	}
	if err := tx.InsertVariant(ctx, original); err != nil {
		return err
	}

	job := domain.Job{ImageID: image.ID, AccountID: image.AccountID, OriginalObjectKey: key}
	if err := c.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, log *slog.Logger, key string) {
	if err := c.cleaner.DeleteOne(context.WithoutCancel(ctx), key); err != nil {
		log.Error("original blob left behind, orphan sweeper will retry", "err", err)
	}
}

// captureTime prefers the EXIF time, then the client's last-modified epoch
// milliseconds, then the server clock.
func (c *Coordinator) captureTime(taken time.Time, lastModified string, log *slog.Logger) time.Time {
	if !taken.IsZero() {
		return taken.UTC()
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(lastModified), 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	log.Warn("unusable last_modified, using server time", "last_modified", lastModified)
	return c.now().UTC()
}
