// Package cleanup removes blobs left behind by failed uploads and jobs.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/tendant/simple-photos/internal/metrics"
	"github.com/tendant/simple-photos/internal/objstore"
)

// Deleter is the slice of objstore.Store the cleaner needs.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Cleaner performs compensating deletes. A missing object counts as deleted.
type Cleaner struct {
	objects Deleter
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(objects Deleter, m *metrics.Metrics, log *slog.Logger) *Cleaner {
	return &Cleaner{objects: objects, metrics: m, log: log}
}

// DeleteOne deletes key, logging the outcome.
func (c *Cleaner) DeleteOne(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := c.objects.Delete(ctx, key)
	if errors.Is(err, objstore.ErrNotFound) {
		err = nil
	}
	if err != nil {
		c.metrics.Compensation("failed")
		c.log.Error("compensating delete failed", "key", key, "err", err)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	c.metrics.Compensation("deleted")
	c.log.Info("compensating delete", "key", key)
	return nil
}

// DeleteMany attempts every key and returns all failures combined.
func (c *Cleaner) DeleteMany(ctx context.Context, keys ...string) error {
	var err error
	for _, key := range keys {
		err = multierr.Append(err, c.DeleteOne(ctx, key))
	}
	return err
}
