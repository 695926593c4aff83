package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/cleanup"
	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/events"
	"github.com/tendant/simple-photos/internal/img/imgtest"
	"github.com/tendant/simple-photos/internal/logging"
	"github.com/tendant/simple-photos/internal/objstore"
	"github.com/tendant/simple-photos/internal/queue"
	"github.com/tendant/simple-photos/internal/store"
)

var errInjected = errors.New("injected failure")

// faultyObjects fails Put for blobs whose encoded width matches failWidth.
type faultyObjects struct {
	*objstore.Memory
	mu        sync.Mutex
	failWidth int
}

func (f *faultyObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	failWidth := f.failWidth
	f.mu.Unlock()
	if failWidth > 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width == failWidth {
			return errInjected
		}
	}
	return f.Memory.Put(ctx, key, data, contentType)
}

// faultyStore injects failures into transactions it hands out.
type faultyStore struct {
	*store.Memory
	failInsertTier domain.Tier
	panicImage     uuid.UUID
	failCommit     bool
}

func (f *faultyStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := f.Memory.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, parent: f}, nil
}

type faultyTx struct {
	store.Tx
	parent *faultyStore
}

func (t *faultyTx) InsertVariant(ctx context.Context, v *domain.Variant) error {
	if t.parent.failInsertTier != "" && v.Tier == t.parent.failInsertTier {
		return errInjected
	}
	if v.ImageID == t.parent.panicImage && v.Tier == domain.TierSmall {
		panic("insert small variant")
	}
	return t.Tx.InsertVariant(ctx, v)
}

func (t *faultyTx) Commit(ctx context.Context) error {
	if t.parent.failCommit {
		_ = t.Tx.Rollback(ctx)
		return errInjected
	}
	return t.Tx.Commit(ctx)
}

type harness struct {
	objects  *faultyObjects
	store    *faultyStore
	queue    *queue.Memory
	recorder *events.Recorder
	pool     *Pool
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	h := &harness{
		objects:  &faultyObjects{Memory: objstore.NewMemory()},
		store:    &faultyStore{Memory: store.NewMemory()},
		queue:    queue.NewMemory(),
		recorder: &events.Recorder{},
	}
	log := logging.Discard()
	h.pool = NewPool(Config{
		Workers:            workers,
		RestartDelay:       10 * time.Millisecond,
		Tiers:              domain.DefaultTierSpecs(80, 80),
		VisibilityAttempts: 3,
		VisibilityInterval: time.Millisecond,
	}, Deps{
		Queue:   h.queue,
		Store:   h.store,
		Objects: h.objects,
		Cleaner: cleanup.New(h.objects, nil, log),
		Events:  h.recorder,
	}, log)
	return h
}

// seed stores an original the way the upload path does and returns its job.
func (h *harness) seed(t *testing.T, w, ht int) domain.Job {
	t.Helper()
	ctx := context.Background()
	account := uuid.New()
	imgRow := &domain.Image{
		ID:          domain.NewID(),
		AccountID:   account,
		Filename:    uuid.NewString() + ".jpg",
		CapturedAt:  time.Now().UTC(),
		AspectRatio: domain.AspectRatio(w, ht),
	}
	original := &domain.Variant{
		ID:                 domain.NewID(),
		ImageID:            imgRow.ID,
		ObjectKey:          domain.NewObjectKey(),
		Width:              w,
		Height:             ht,
		CompressionQuality: 100,
		Tier:               domain.TierOriginal,
		Version:            1,
	}
	if err := h.objects.Memory.Put(ctx, original.ObjectKey, imgtest.JPEG(t, w, ht), "image/jpeg"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	tx, err := h.store.Memory.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.InsertImage(ctx, imgRow); err != nil {
		t.Fatalf("seed image: %v", err)
	}
	if err := tx.InsertVariant(ctx, original); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	return domain.Job{ImageID: imgRow.ID, AccountID: account, OriginalObjectKey: original.ObjectKey}
}
