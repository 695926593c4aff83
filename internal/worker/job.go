package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/img"
	"github.com/tendant/simple-photos/internal/process"
	"github.com/tendant/simple-photos/pkg/schema"
)

type upload struct {
	rendition img.Rendition
	key       string
	err       error
}

// Process derives and stores every configured tier for one job. On any
// failure after the first upload it deletes the blobs it wrote, so either
// all derived variants are committed or none are.
func (p *Pool) Process(ctx context.Context, job domain.Job) error {
	run := process.NewJob(domain.NewID().String(), job.ImageID)
	log := p.log.With("job_id", run.ID, "image_id", job.ImageID, "account_id", job.AccountID)
	log.Info("received job", "original_key", job.OriginalObjectKey)
	p.events.Lifecycle(run.Lifecycle[0])

	results, err := p.process(ctx, run, job, log)
	if err != nil {
		seen := len(run.Lifecycle)
		run.Fail(err)
		for _, e := range run.Lifecycle[seen:] {
			p.events.Lifecycle(e)
		}
		log.Error("job failed", "stage", run.Stage, "failure_type", run.FailureType, "err", err)
	} else {
		log.Info("completed job", "variants", len(results), "processing_time_ms", run.Duration().Milliseconds())
	}

	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	p.metrics.Job(outcome, run.Duration().Seconds())
	p.publish(run, job, results)
	return err
}

func (p *Pool) advance(run *process.Job, stage schema.ProcessingStage) error {
	if err := run.Advance(stage); err != nil {
		return err
	}
	p.events.Lifecycle(run.Lifecycle[len(run.Lifecycle)-1])
	return nil
}

func (p *Pool) process(ctx context.Context, run *process.Job, job domain.Job, log *slog.Logger) (results []schema.VariantResult, err error) {
	// Blobs in written are deleted unless their rows committed, including
	// when a step panics; the panic then continues to the supervisor.
	var written []string
	committed := false
	defer func() {
		r := recover()
		if (err != nil || r != nil) && !committed {
			p.compensate(ctx, log, written)
		}
		if r != nil {
			panic(r)
		}
	}()

	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := p.waitForImage(ctx, job.ImageID); err != nil {
		return nil, err
	}

	// Step 1: download and decode the original
	if err := p.advance(run, schema.StageDownloading); err != nil {
		return nil, err
	}
	data, err := p.objects.Get(ctx, job.OriginalObjectKey)
	if err != nil {
		return nil, fmt.Errorf("download original: %w", err)
	}
	src, err := img.Decode(data)
	if err != nil {
		return nil, err
	}
	renditions, err := img.DeriveAll(src, p.cfg.Tiers)
	if err != nil {
		return nil, fmt.Errorf("derive variants: %w", err)
	}
	bounds := src.Bounds()
	log.Info("variants derived", "source_width", bounds.Dx(), "source_height", bounds.Dy(), "count", len(renditions))

	// Step 2: upload every rendition under a fresh key, concurrently
	if err := p.advance(run, schema.StageUploading); err != nil {
		return nil, err
	}
	uploads := p.uploadAll(ctx, renditions)
	var uploadErr error
	for _, u := range uploads {
		if u.err != nil {
			uploadErr = multierr.Append(uploadErr, fmt.Errorf("upload %s: %w", u.rendition.Tier, u.err))
			continue
		}
		written = append(written, u.key)
	}
	if uploadErr != nil {
		return nil, uploadErr
	}
	if err := p.advance(run, schema.StageUploaded); err != nil {
		return nil, err
	}

	// Step 3: insert every variant row in one transaction
	if err := p.advance(run, schema.StageDBTransaction); err != nil {
		return nil, err
	}
	results, err = p.commitVariants(ctx, job, bounds.Dx(), bounds.Dy(), uploads)
	if err != nil {
		return nil, err
	}
	committed = true
	return results, p.advance(run, schema.StageCommitted)
}

// waitForImage polls until the image row is visible.
func (p *Pool) waitForImage(ctx context.Context, id uuid.UUID) error {
	for attempt := 1; ; attempt++ {
		exists, err := p.store.ImageExists(ctx, id)
		if err != nil {
			return fmt.Errorf("check image: %w", err)
		}
		if exists {
			return nil
		}
		if attempt >= p.cfg.VisibilityAttempts {
			return fmt.Errorf("image %s after %d checks: %w", id, attempt, errImageNotVisible)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.VisibilityInterval):
		}
	}
}

func (p *Pool) uploadAll(ctx context.Context, renditions []img.Rendition) []upload {
	uploads := make([]upload, len(renditions))
	var wg sync.WaitGroup
	for i, r := range renditions {
		uploads[i] = upload{rendition: r, key: domain.NewObjectKey()}
		wg.Add(1)
		go func(u *upload) {
			defer wg.Done()
			u.err = p.objects.Put(ctx, u.key, u.rendition.Data, img.JPEGContentType)
		}(&uploads[i])
	}
	wg.Wait()
	return uploads
}

func (p *Pool) commitVariants(ctx context.Context, job domain.Job, srcW, srcH int, uploads []upload) (results []schema.VariantResult, err error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	for _, u := range uploads {
		version, err := tx.NextVersion(ctx, job.ImageID, u.rendition.Tier)
		if err != nil {
			return nil, err
		}
		v := &domain.Variant{
			ID:                 domain.NewID(),
			ImageID:            job.ImageID,
			ObjectKey:          u.key,
			Width:              u.rendition.Width,
			Height:             u.rendition.Height,
			CompressionQuality: u.rendition.Quality,
			Tier:               u.rendition.Tier,
			Version:            version,
		}
		if err := tx.InsertVariant(ctx, v); err != nil {
			return nil, err
		}
		results = append(results, schema.VariantResult{
			Tier:      string(v.Tier),
			VariantID: v.ID.String(),
			ObjectKey: v.ObjectKey,
			Version:   v.Version,
			Width:     v.Width,
			Height:    v.Height,
			DerivationParams: &schema.DerivationParams{
				SourceWidth:  srcW,
				SourceHeight: srcH,
				TargetWidth:  v.Width,
				TargetHeight: v.Height,
				Algorithm:    "lanczos",
				Quality:      v.CompressionQuality,
			},
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	done = true
	return results, nil
}

// compensate deletes blobs written by this job. It runs even when ctx is
// already cancelled.
func (p *Pool) compensate(ctx context.Context, log *slog.Logger, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := p.cleaner.DeleteMany(context.WithoutCancel(ctx), keys...); err != nil {
		log.Error("cleanup incomplete, orphan sweeper will retry", "keys", keys, "err", err)
	}
}

func (p *Pool) publish(run *process.Job, job domain.Job, results []schema.VariantResult) {
	done := schema.VariantsDone{
		JobID:            run.ID,
		ImageID:          job.ImageID.String(),
		AccountID:        job.AccountID.String(),
		Stage:            run.Stage,
		ProcessingTimeMs: run.Duration().Milliseconds(),
		Results:          results,
		Lifecycle:        run.Lifecycle,
		Error:            run.Error,
		FailureType:      run.FailureType,
		HappenedAt:       time.Now().Unix(),
	}
	p.events.VariantsDone(done)
}

var errImageNotVisible = fmt.Errorf("%w: image not visible", domain.ErrNotFound)
