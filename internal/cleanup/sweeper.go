package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/metrics"
)

// Lister finds candidate blobs.
type Lister interface {
	List(ctx context.Context, prefix string, olderThan time.Time) ([]string, error)
}

// References reports which keys are still owned by a variant row.
type References interface {
	ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// Sweeper deletes blobs that no variant row references once they are older
// than the grace period. It catches leftovers when a compensating delete
// itself failed or the process died mid-saga.
type Sweeper struct {
	objects  Lister
	refs     References
	cleaner  *Cleaner
	grace    time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewSweeper(objects Lister, refs References, cleaner *Cleaner, grace, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *Sweeper {
	return &Sweeper{
		objects:  objects,
		refs:     refs,
		cleaner:  cleaner,
		grace:    grace,
		interval: interval,
		batch:    500,
		now:      time.Now,
		metrics:  m,
		log:      log,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("orphan sweeper started", "interval", s.interval, "grace", s.grace)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("orphan sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one pass and returns how many blobs were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	keys, err := s.objects.List(ctx, domain.ObjectPrefix, s.now().Add(-s.grace))
	if err != nil {
		return 0, fmt.Errorf("list candidates: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(keys); start += s.batch {
		end := min(start+s.batch, len(keys))
		chunk := keys[start:end]

		refs, err := s.refs.ReferencedKeys(ctx, chunk)
		if err != nil {
			return deleted, fmt.Errorf("check references: %w", err)
		}
		for _, key := range chunk {
			if refs[key] {
				continue
			}
			if err := s.cleaner.DeleteOne(ctx, key); err != nil {
				s.metrics.Sweep("failed", 1)
				continue
			}
			deleted++
		}
	}

	s.metrics.Sweep("deleted", deleted)
	if deleted > 0 {
		s.log.Info("orphan sweep finished", "candidates", len(keys), "deleted", deleted)
	}
	return deleted, nil
}
