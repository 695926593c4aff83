package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
)

var errTxDone = errors.New("transaction already finished")

// Memory is an in-process Store. Writes buffered in a transaction become
// visible atomically on Commit. The (account, filename) uniqueness and the
// variant-to-image reference are enforced like the Postgres schema does.
type Memory struct {
	mu       sync.RWMutex
	images   map[uuid.UUID]domain.Image
	variants map[uuid.UUID]domain.Variant
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		images:   make(map[uuid.UUID]domain.Image),
		variants: make(map[uuid.UUID]domain.Variant),
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{m: m}, nil
}

func (m *Memory) FindImageByFilename(_ context.Context, accountID uuid.UUID, filename string) (*domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, img := range m.images {
		if img.AccountID == accountID && img.Filename == filename {
			img := img
			return &img, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) ImageExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[id]
	return ok, nil
}

func (m *Memory) GetImage(_ context.Context, accountID, id uuid.UUID) (*domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok || img.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	return &img, nil
}

func (m *Memory) ListImages(_ context.Context, accountID uuid.UUID) ([]domain.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var images []domain.Image
	for _, img := range m.images {
		if img.AccountID == accountID {
			images = append(images, img)
		}
	}
	sort.Slice(images, func(i, j int) bool {
		if !images[i].CapturedAt.Equal(images[j].CapturedAt) {
			return images[i].CapturedAt.After(images[j].CapturedAt)
		}
		return images[i].ID.String() < images[j].ID.String()
	})
	return images, nil
}

func (m *Memory) ListVariants(_ context.Context, imageID uuid.UUID) ([]domain.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var variants []domain.Variant
	for _, v := range m.variants {
		if v.ImageID == imageID {
			variants = append(variants, v)
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		if variants[i].Tier != variants[j].Tier {
			return variants[i].Tier < variants[j].Tier
		}
		return variants[i].Version < variants[j].Version
	})
	return variants, nil
}

func (m *Memory) ImagesMissingTiers(_ context.Context, tiers []domain.Tier, limit int) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	have := make(map[uuid.UUID]map[domain.Tier]bool)
	originals := make(map[uuid.UUID]string)
	for _, v := range m.variants {
		if v.Tier == domain.TierOriginal {
			originals[v.ImageID] = v.ObjectKey
			continue
		}
		if have[v.ImageID] == nil {
			have[v.ImageID] = make(map[domain.Tier]bool)
		}
		have[v.ImageID][v.Tier] = true
	}

	var jobs []domain.Job
	for id, img := range m.images {
		key, ok := originals[id]
		if !ok {
			continue
		}
		for _, tier := range tiers {
			if !have[id][tier] {
				jobs = append(jobs, domain.Job{ImageID: id, AccountID: img.AccountID, OriginalObjectKey: key})
				break
			}
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ImageID.String() < jobs[j].ImageID.String() })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *Memory) ReferencedKeys(_ context.Context, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	referenced := make(map[string]bool)
	for _, v := range m.variants {
		if want[v.ObjectKey] {
			referenced[v.ObjectKey] = true
		}
	}
	return referenced, nil
}

// Counts reports committed row totals.
func (m *Memory) Counts() (images, variants int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images), len(m.variants)
}

type memTx struct {
	m        *Memory
	images   []domain.Image
	variants []domain.Variant
	done     bool
}

// checkImage must run with m.mu held.
func (t *memTx) checkImage(img *domain.Image, pending []domain.Image) error {
	if _, ok := t.m.images[img.ID]; ok {
		return fmt.Errorf("insert image %s: id already used", img.ID)
	}
	for _, existing := range t.m.images {
		if existing.AccountID == img.AccountID && existing.Filename == img.Filename {
			return fmt.Errorf("insert image %s: %w", img.Filename, domain.ErrDuplicate)
		}
	}
	for _, existing := range pending {
		if existing.AccountID == img.AccountID && existing.Filename == img.Filename {
			return fmt.Errorf("insert image %s: %w", img.Filename, domain.ErrDuplicate)
		}
	}
	return nil
}

// checkVariant must run with m.mu held.
func (t *memTx) checkVariant(v *domain.Variant, pendingImages []domain.Image, pendingVariants []domain.Variant) error {
	found := false
	if _, ok := t.m.images[v.ImageID]; ok {
		found = true
	}
	for _, img := range pendingImages {
		if img.ID == v.ImageID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("insert %s variant: image %s: %w", v.Tier, v.ImageID, domain.ErrNotFound)
	}

	clash := func(other domain.Variant) bool {
		return other.ObjectKey == v.ObjectKey ||
			(other.ImageID == v.ImageID && other.Tier == v.Tier && other.Version == v.Version)
	}
	for _, other := range t.m.variants {
		if clash(other) {
			return fmt.Errorf("insert %s variant: %w", v.Tier, domain.ErrDuplicate)
		}
	}
	for _, other := range pendingVariants {
		if clash(other) {
			return fmt.Errorf("insert %s variant: %w", v.Tier, domain.ErrDuplicate)
		}
	}
	return nil
}

func (t *memTx) InsertImage(ctx context.Context, img *domain.Image) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.m.mu.RLock()
	err := t.checkImage(img, t.images)
	now := t.m.now()
	t.m.mu.RUnlock()
	if err != nil {
		return err
	}
	img.CreatedAt = now
	t.images = append(t.images, *img)
	return nil
}

func (t *memTx) InsertVariant(ctx context.Context, v *domain.Variant) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.m.mu.RLock()
	err := t.checkVariant(v, t.images, t.variants)
	now := t.m.now()
	t.m.mu.RUnlock()
	if err != nil {
		return err
	}
	v.CreatedAt = now
	t.variants = append(t.variants, *v)
	return nil
}

func (t *memTx) NextVersion(_ context.Context, imageID uuid.UUID, tier domain.Tier) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	var highest int64
	for _, v := range t.m.variants {
		if v.ImageID == imageID && v.Tier == tier && v.Version > highest {
			highest = v.Version
		}
	}
	for _, v := range t.variants {
		if v.ImageID == imageID && v.Tier == tier && v.Version > highest {
			highest = v.Version
		}
	}
	return highest + 1, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	// Re-check against rows committed since the inserts ran.
	for i := range t.images {
		if err := t.checkImage(&t.images[i], t.images[:i]); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for i := range t.variants {
		if err := t.checkVariant(&t.variants[i], t.images, t.variants[:i]); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	for _, img := range t.images {
		t.m.images[img.ID] = img
	}
	for _, v := range t.variants {
		t.m.variants[v.ID] = v
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	t.images = nil
	t.variants = nil
	return nil
}
