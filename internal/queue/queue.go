// Package queue hands variant jobs from the upload path to the worker pool.
package queue

import (
	"context"
	"errors"

	"github.com/tendant/simple-photos/internal/domain"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a closed
// queue has been drained.
var ErrClosed = errors.New("queue closed")

// Queue is a multi-producer multi-consumer job channel. Each job goes to
// exactly one consumer. Enqueue never waits for a consumer.
type Queue interface {
	Enqueue(ctx context.Context, job domain.Job) error
	Dequeue(ctx context.Context) (domain.Job, error)
	Close() error
}
